package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/fleetdeck/hostagent/pkg/observability"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// DefaultThermalZonePath is the kernel thermal zone read for CPU temperature
const DefaultThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Field names a HostStatus measurement
type Field string

const (
	FieldCPU            Field = "cpu_percent"
	FieldMemory         Field = "memory_percent"
	FieldDisk           Field = "disk_percent"
	FieldUptime         Field = "uptime"
	FieldIP             Field = "ip"
	FieldRuntimeVersion Field = "docker_version"
	FieldCPUTemp        Field = "cpu_temp"
)

// SampleResult is a host snapshot plus the probes that degraded.
// Status is always complete: a failed field holds its default or sentinel.
type SampleResult struct {
	Status   api.HostStatus
	Failures map[Field]error
}

// Degraded reports whether the given field fell back to a default
func (r SampleResult) Degraded(f Field) bool {
	_, ok := r.Failures[f]
	return ok
}

// VersionSource reports the container runtime version
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// SamplerConfig configures the host telemetry sampler
type SamplerConfig struct {
	// CPUSampleInterval is how long CPU usage is measured over; 0 compares
	// against the previous call
	CPUSampleInterval time.Duration

	// ProbeTimeout bounds every individual probe
	ProbeTimeout time.Duration

	// DiskPath is the filesystem whose usage is reported
	DiskPath string

	// ThermalZonePath overrides DefaultThermalZonePath
	ThermalZonePath string
}

// hostProbes are the OS-facing calls made by the sampler
type hostProbes struct {
	cpuPercent   func(ctx context.Context, interval time.Duration) ([]float64, error)
	virtualMem   func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage    func(ctx context.Context, path string) (*disk.UsageStat, error)
	uptime       func(ctx context.Context) (uint64, error)
	temperatures func(ctx context.Context) ([]host.TemperatureStat, error)
	hostname     func() (string, error)
	lookupIP     func(ctx context.Context, host string) ([]net.IP, error)
	readFile     func(path string) ([]byte, error)
	stat         func(path string) (os.FileInfo, error)
	dial         dialFunc
}

func defaultHostProbes() hostProbes {
	return hostProbes{
		cpuPercent: func(ctx context.Context, interval time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, interval, false)
		},
		virtualMem:   mem.VirtualMemoryWithContext,
		diskUsage:    disk.UsageWithContext,
		uptime:       host.UptimeWithContext,
		temperatures: host.SensorsTemperaturesWithContext,
		hostname:     os.Hostname,
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip4", host)
		},
		readFile: os.ReadFile,
		stat:     os.Stat,
		dial:     defaultDial,
	}
}

// HostSampler produces HostStatus snapshots. Sample never fails: each probe
// runs independently under its own deadline and degrades on its own.
type HostSampler struct {
	config   SamplerConfig
	versions VersionSource
	probes   hostProbes
	logger   *zap.Logger
}

// NewHostSampler creates a host sampler. versions may be nil, in which case
// the runtime version is always reported as unavailable.
func NewHostSampler(config SamplerConfig, versions VersionSource, logger *zap.Logger) *HostSampler {
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if config.DiskPath == "" {
		config.DiskPath = "/"
	}
	if config.ThermalZonePath == "" {
		config.ThermalZonePath = DefaultThermalZonePath
	}

	return &HostSampler{
		config:   config,
		versions: versions,
		probes:   defaultHostProbes(),
		logger:   logger,
	}
}

// Sample takes one host snapshot
func (s *HostSampler) Sample(ctx context.Context) SampleResult {
	result := SampleResult{
		Status: api.HostStatus{
			IP:             api.NotAvailable,
			RuntimeVersion: api.NotAvailable,
		},
		Failures: make(map[Field]error),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	fail := func(f Field, err error) {
		mu.Lock()
		result.Failures[f] = err
		mu.Unlock()
	}
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Each probe writes a distinct field of result.Status
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout+s.config.CPUSampleInterval, s.cpuPercent)
		if err != nil {
			fail(FieldCPU, err)
			return
		}
		result.Status.CPUPercent = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.memoryPercent)
		if err != nil {
			fail(FieldMemory, err)
			return
		}
		result.Status.MemoryPercent = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.diskPercent)
		if err != nil {
			fail(FieldDisk, err)
			return
		}
		result.Status.DiskPercent = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.uptimeSeconds)
		if err != nil {
			fail(FieldUptime, err)
			return
		}
		result.Status.UptimeSeconds = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.primaryIP)
		if err != nil {
			fail(FieldIP, err)
			return
		}
		result.Status.IP = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.runtimeVersion)
		if err != nil {
			fail(FieldRuntimeVersion, err)
			return
		}
		result.Status.RuntimeVersion = v
	})
	spawn(func() {
		v, err := probe(ctx, s.config.ProbeTimeout, s.cpuTemperature)
		if err != nil {
			fail(FieldCPUTemp, err)
			return
		}
		result.Status.CPUTempCelsius = v
	})

	wg.Wait()

	for field, err := range result.Failures {
		observability.SampleFailuresTotal.WithLabelValues(string(field)).Inc()
		s.logger.Debug("Host probe degraded",
			zap.String("field", string(field)),
			zap.Error(err),
		)
	}

	s.logger.Debug("Sampled host status",
		zap.Float64("cpu_percent", result.Status.CPUPercent),
		zap.Float64("memory_percent", result.Status.MemoryPercent),
		zap.Float64("disk_percent", result.Status.DiskPercent),
		zap.Int64("uptime", result.Status.UptimeSeconds),
		zap.String("ip", result.Status.IP),
		zap.Int("degraded", len(result.Failures)),
	)

	return result
}

// probe runs fn under a deadline and returns as soon as the deadline passes,
// even if fn ignores its context
func probe[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.value, o.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("probe timed out: %w", ctx.Err())
	}
}

func (s *HostSampler) cpuPercent(ctx context.Context) (float64, error) {
	percents, err := s.probes.cpuPercent(ctx, s.config.CPUSampleInterval)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("no cpu counters")
	}
	return round1(clampPercent(percents[0])), nil
}

// memoryPercent reports (total - available) / total, which counts reclaimable
// page cache as free
func (s *HostSampler) memoryPercent(ctx context.Context) (float64, error) {
	vm, err := s.probes.virtualMem(ctx)
	if err != nil {
		return 0, err
	}
	if vm.Total == 0 {
		return 0, errors.New("total memory is zero")
	}
	used := float64(vm.Total) - float64(vm.Available)
	return round1(clampPercent(used / float64(vm.Total) * 100)), nil
}

func (s *HostSampler) diskPercent(ctx context.Context) (float64, error) {
	usage, err := s.probes.diskUsage(ctx, s.config.DiskPath)
	if err != nil {
		return 0, err
	}
	return round1(clampPercent(usage.UsedPercent)), nil
}

func (s *HostSampler) uptimeSeconds(ctx context.Context) (int64, error) {
	up, err := s.probes.uptime(ctx)
	if err != nil {
		return 0, err
	}
	if up > math.MaxInt64 {
		return 0, fmt.Errorf("uptime out of range: %d", up)
	}
	return int64(up), nil
}

// primaryIP resolves the hostname to its first IPv4 address. A loopback
// answer is replaced by the outbound route address.
func (s *HostSampler) primaryIP(ctx context.Context) (string, error) {
	hostname, err := s.probes.hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}

	ips, err := s.probes.lookupIP(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hostname, err)
	}

	var ip net.IP
	for _, candidate := range ips {
		if v4 := candidate.To4(); v4 != nil {
			ip = v4
			break
		}
	}
	if ip == nil {
		return "", fmt.Errorf("resolve %s: no IPv4 address", hostname)
	}

	if ip.IsLoopback() {
		return outboundIP(ctx, s.probes.dial)
	}
	return ip.String(), nil
}

func (s *HostSampler) runtimeVersion(ctx context.Context) (string, error) {
	if s.versions == nil {
		return "", errors.New("no runtime configured")
	}
	v, err := s.versions.Version(ctx)
	if err != nil {
		return "", err
	}
	if v = strings.TrimSpace(v); v == "" {
		return "", errors.New("empty runtime version")
	}
	return v, nil
}

// cpuTemperature prefers the kernel thermal zone. When the zone file exists
// the sensor list is not consulted, even if the file cannot be parsed.
// No sensor at all is not an error; the result is simply nil.
func (s *HostSampler) cpuTemperature(ctx context.Context) (*float64, error) {
	if _, err := s.probes.stat(s.config.ThermalZonePath); err == nil {
		data, err := s.probes.readFile(s.config.ThermalZonePath)
		if err != nil {
			return nil, fmt.Errorf("read thermal zone: %w", err)
		}
		milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse thermal zone: %w", err)
		}
		celsius := float64(milli) / 1000
		return &celsius, nil
	}

	temps, err := s.probes.temperatures(ctx)
	// gopsutil returns partial results alongside a warnings error
	if len(temps) > 0 {
		celsius := temps[0].Temperature
		return &celsius, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sensors: %w", err)
	}
	return nil, nil
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
