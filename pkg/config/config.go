package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration keys. Environment variables are the upper-cased key names.
const (
	KeyCentralURL        = "central_url"
	KeyAPIKey            = "api_key"
	KeyAgentHostname     = "agent_hostname"
	KeyNodeType          = "agent_type"
	KeyHostType          = "host_type"
	KeyUpdateInterval    = "update_interval"
	KeyReportTimeout     = "report_timeout"
	KeyListenAddr        = "listen_addr"
	KeyMetricsAddr       = "metrics_addr"
	KeyLogLevel          = "log_level"
	KeyCPUSampleInterval = "cpu_sample_interval"
	KeyProbeTimeout      = "probe_timeout"
	KeyDiskPath          = "disk_path"
	KeyDockerHost        = "docker_host"
	KeyComposeCommand    = "compose_command"
	KeyComposeTempDir    = "compose_temp_dir"
	KeyActionTimeout     = "action_timeout"
	KeyComposeTimeout    = "compose_timeout"
	KeyControlAPIKey     = "control_api_key"
	KeyTracingEnabled    = "tracing_enabled"
	KeyTracingEndpoint   = "tracing_endpoint"
	KeyTracingSampleRate = "tracing_sample_rate"
	KeyTracingInsecure   = "tracing_insecure"
)

// DefaultEnvFile is loaded when no explicit env file is given
const DefaultEnvFile = ".env"

// Config is the process-wide agent configuration. It is loaded once at
// startup and must not be mutated afterwards.
type Config struct {
	// Controller ingestion endpoint and shared key
	CentralURL string
	APIKey     string

	// Static identity labels copied into every report
	AgentHostname string
	NodeType      string
	HostType      string

	// Reporting cadence
	Interval      time.Duration
	ReportTimeout time.Duration

	// Sampling
	CPUSampleInterval time.Duration
	ProbeTimeout      time.Duration
	DiskPath          string

	// Control surface
	ListenAddr     string
	ControlAPIKey  string
	ActionTimeout  time.Duration
	ComposeTimeout time.Duration

	// Runtime
	DockerHost     string
	ComposeCommand []string
	ComposeTempDir string

	MetricsAddr string
	LogLevel    string

	Tracing TracingConfig
}

// TracingConfig controls the optional OTLP exporter
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
	Insecure   bool
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodeType, "Docker Host")
	v.SetDefault(KeyUpdateInterval, 10)
	v.SetDefault(KeyReportTimeout, 5*time.Second)
	v.SetDefault(KeyListenAddr, "0.0.0.0:5000")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCPUSampleInterval, 500*time.Millisecond)
	v.SetDefault(KeyProbeTimeout, 2*time.Second)
	v.SetDefault(KeyDiskPath, "/")
	v.SetDefault(KeyComposeCommand, "docker compose")
	v.SetDefault(KeyActionTimeout, 60*time.Second)
	v.SetDefault(KeyComposeTimeout, 5*time.Minute)
	v.SetDefault(KeyTracingSampleRate, 1.0)
	v.SetDefault(KeyTracingInsecure, true)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set keep their value. A missing default file is
// not an error; a missing explicitly requested file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a validated Config from v. Callers are expected to have bound
// flags and the environment to v already.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Read(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read builds a Config from v without validating it
func Read(v *viper.Viper) *Config {
	cfg := &Config{
		CentralURL:        strings.TrimSpace(v.GetString(KeyCentralURL)),
		APIKey:            v.GetString(KeyAPIKey),
		AgentHostname:     strings.TrimSpace(v.GetString(KeyAgentHostname)),
		NodeType:          v.GetString(KeyNodeType),
		HostType:          v.GetString(KeyHostType),
		Interval:          time.Duration(v.GetInt(KeyUpdateInterval)) * time.Second,
		ReportTimeout:     v.GetDuration(KeyReportTimeout),
		CPUSampleInterval: v.GetDuration(KeyCPUSampleInterval),
		ProbeTimeout:      v.GetDuration(KeyProbeTimeout),
		DiskPath:          v.GetString(KeyDiskPath),
		ListenAddr:        v.GetString(KeyListenAddr),
		ControlAPIKey:     v.GetString(KeyControlAPIKey),
		ActionTimeout:     v.GetDuration(KeyActionTimeout),
		ComposeTimeout:    v.GetDuration(KeyComposeTimeout),
		DockerHost:        v.GetString(KeyDockerHost),
		ComposeCommand:    strings.Fields(v.GetString(KeyComposeCommand)),
		ComposeTempDir:    v.GetString(KeyComposeTempDir),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
		LogLevel:          v.GetString(KeyLogLevel),
		Tracing: TracingConfig{
			Enabled:    v.GetBool(KeyTracingEnabled),
			Endpoint:   v.GetString(KeyTracingEndpoint),
			SampleRate: v.GetFloat64(KeyTracingSampleRate),
			Insecure:   v.GetBool(KeyTracingInsecure),
		},
	}

	if cfg.AgentHostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.AgentHostname = hostname
		}
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CentralURL == "" {
		return fmt.Errorf("%s is required", strings.ToUpper(KeyCentralURL))
	}
	u, err := url.Parse(c.CentralURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", strings.ToUpper(KeyCentralURL), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", strings.ToUpper(KeyCentralURL), u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", strings.ToUpper(KeyCentralURL))
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%s must be a positive number of seconds", strings.ToUpper(KeyUpdateInterval))
	}
	if c.ReportTimeout <= 0 {
		return fmt.Errorf("%s must be positive", strings.ToUpper(KeyReportTimeout))
	}
	if c.CPUSampleInterval < 0 {
		return fmt.Errorf("%s must not be negative", strings.ToUpper(KeyCPUSampleInterval))
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%s must be positive", strings.ToUpper(KeyProbeTimeout))
	}
	if c.ActionTimeout <= 0 || c.ComposeTimeout <= 0 {
		return fmt.Errorf("%s and %s must be positive",
			strings.ToUpper(KeyActionTimeout), strings.ToUpper(KeyComposeTimeout))
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%s is required", strings.ToUpper(KeyListenAddr))
	}
	if len(c.ComposeCommand) == 0 {
		return fmt.Errorf("%s is required", strings.ToUpper(KeyComposeCommand))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("%s is required when tracing is enabled", strings.ToUpper(KeyTracingEndpoint))
	}
	return nil
}
