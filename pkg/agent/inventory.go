package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/fleetdeck/hostagent/pkg/observability"
	"github.com/fleetdeck/hostagent/pkg/runtime"
	"go.uber.org/zap"
)

// createdLayout is the display format for container creation times
const createdLayout = "2006-01-02 15:04:05"

// ContainerInspector is the part of the runtime the inventory reads from
type ContainerInspector interface {
	ListContainerIDs(ctx context.Context) ([]string, error)
	InspectContainer(ctx context.Context, nameOrID string) (*runtime.ContainerDetails, error)
}

// ContainerError records a container that was left out of an inventory
type ContainerError struct {
	ID  string
	Err error
}

func (e ContainerError) Error() string {
	return fmt.Sprintf("container %s: %v", e.ID, e.Err)
}

func (e ContainerError) Unwrap() error { return e.Err }

// InventoryResult is one pass over every container on the host
type InventoryResult struct {
	Containers []api.ContainerRecord
	Skipped    []ContainerError
}

// InventoryConfig configures the container inventory collector
type InventoryConfig struct {
	// ListTimeout bounds enumerating the containers
	ListTimeout time.Duration
	// InspectTimeout bounds the inspection of a single container
	InspectTimeout time.Duration
}

// InventoryCollector lists all containers, running or not, and normalizes them
type InventoryCollector struct {
	runtime        ContainerInspector
	listTimeout    time.Duration
	inspectTimeout time.Duration
	logger         *zap.Logger
}

// NewInventoryCollector creates an inventory collector
func NewInventoryCollector(config InventoryConfig, rt ContainerInspector, logger *zap.Logger) *InventoryCollector {
	if config.ListTimeout == 0 {
		config.ListTimeout = 15 * time.Second
	}
	if config.InspectTimeout == 0 {
		config.InspectTimeout = 15 * time.Second
	}

	return &InventoryCollector{
		runtime:        rt,
		listTimeout:    config.ListTimeout,
		inspectTimeout: config.InspectTimeout,
		logger:         logger,
	}
}

// ListAll returns one record per container visible when the pass started.
// A container that cannot be inspected is skipped and reported in Skipped;
// the error return is reserved for the runtime being unable to enumerate.
func (c *InventoryCollector) ListAll(ctx context.Context) (InventoryResult, error) {
	result := InventoryResult{Containers: []api.ContainerRecord{}}

	ids, err := c.list(ctx)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		details, err := c.inspect(ctx, id)
		if err != nil {
			result.Skipped = append(result.Skipped, ContainerError{ID: id, Err: err})
			observability.InventorySkippedTotal.Inc()
			c.logger.Warn("Skipping container",
				zap.String("container_id", id),
				zap.Error(err),
			)
			continue
		}

		result.Containers = append(result.Containers, NormalizeContainer(details))
	}

	c.logger.Debug("Collected container inventory",
		zap.Int("containers", len(result.Containers)),
		zap.Int("skipped", len(result.Skipped)),
	)

	return result, nil
}

func (c *InventoryCollector) list(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	ids, err := c.runtime.ListContainerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return ids, nil
}

func (c *InventoryCollector) inspect(ctx context.Context, id string) (*runtime.ContainerDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, c.inspectTimeout)
	defer cancel()
	return c.runtime.InspectContainer(ctx, id)
}

// NormalizeContainer converts runtime details into the reported record
func NormalizeContainer(d *runtime.ContainerDetails) api.ContainerRecord {
	record := api.ContainerRecord{
		Name:        d.Name,
		Status:      api.ContainerStatus(d.Status),
		Health:      api.HealthStatus(d.Health),
		CreatedAt:   NormalizeCreatedAt(d.Created),
		IPAddresses: make([]string, 0, len(d.Networks)),
		Ports:       FormatPorts(d.Ports),
		Volumes:     make([]string, 0, len(d.Mounts)),
	}
	if record.Health == "" {
		record.Health = api.HealthNone
	}

	for _, n := range d.Networks {
		record.IPAddresses = append(record.IPAddresses, n.IPAddress)
	}
	for _, m := range d.Mounts {
		record.Volumes = append(record.Volumes, m.Source)
	}

	return record
}

// FormatPorts renders each host binding as "<hostPort>-><containerPort>" and
// each exposed but unbound port as "<port>/<proto>"
func FormatPorts(mappings []runtime.PortMapping) []string {
	ports := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if len(m.Bindings) == 0 {
			ports = append(ports, m.ContainerPort)
			continue
		}

		number, _, _ := strings.Cut(m.ContainerPort, "/")
		for _, b := range m.Bindings {
			ports = append(ports, b.HostPort+"->"+number)
		}
	}
	return ports
}

// NormalizeCreatedAt reformats an RFC 3339 timestamp as "YYYY-MM-DD HH:MM:SS"
// in its own offset. Anything unparseable is returned unchanged.
func NormalizeCreatedAt(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.Format(createdLayout)
}
