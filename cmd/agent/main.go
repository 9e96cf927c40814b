package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fleetdeck/hostagent/pkg/agent"
	"github.com/fleetdeck/hostagent/pkg/config"
	"github.com/fleetdeck/hostagent/pkg/observability"
	"github.com/fleetdeck/hostagent/pkg/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	rootCmd = &cobra.Command{
		Use:   "agent",
		Short: "Host agent - reports host and container state to a central controller",
		Long: `The host agent runs on each Docker host. It periodically reports host metrics
and the full container inventory to the central controller, and exposes a local
HTTP control surface for container lifecycle actions and compose deployments.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file path (YAML)")
	flags.String("env-file", "", "Env file to load (default ./.env when present)")

	stringFlag(flags, "central-url", config.KeyCentralURL, "Controller ingestion URL")
	stringFlag(flags, "api-key", config.KeyAPIKey, "Shared key sent as X-API-KEY")
	stringFlag(flags, "agent-hostname", config.KeyAgentHostname, "Static agent name (default: OS hostname)")
	stringFlag(flags, "agent-type", config.KeyNodeType, "Node type label")
	stringFlag(flags, "host-type", config.KeyHostType, "Host role label")
	flags.Int("update-interval", viper.GetInt(config.KeyUpdateInterval), "Seconds between reports")
	durationFlag(flags, "report-timeout", config.KeyReportTimeout, "Timeout for one report delivery")
	stringFlag(flags, "listen-addr", config.KeyListenAddr, "Control surface bind address")
	stringFlag(flags, "metrics-addr", config.KeyMetricsAddr, "Metrics server bind address (empty disables it)")
	stringFlag(flags, "log-level", config.KeyLogLevel, "Log level (debug, info, warn, error)")
	durationFlag(flags, "cpu-sample-interval", config.KeyCPUSampleInterval, "CPU usage measurement window")
	durationFlag(flags, "probe-timeout", config.KeyProbeTimeout, "Timeout for each host probe")
	stringFlag(flags, "disk-path", config.KeyDiskPath, "Filesystem whose usage is reported")
	stringFlag(flags, "docker-host", config.KeyDockerHost, "Docker daemon address (default from DOCKER_HOST)")
	stringFlag(flags, "compose-command", config.KeyComposeCommand, "Compose CLI invocation")
	stringFlag(flags, "compose-temp-dir", config.KeyComposeTempDir, "Directory for transient compose files")
	durationFlag(flags, "action-timeout", config.KeyActionTimeout, "Timeout for container lifecycle actions")
	durationFlag(flags, "compose-timeout", config.KeyComposeTimeout, "Timeout for compose deployments")
	stringFlag(flags, "control-api-key", config.KeyControlAPIKey, "Key required on control requests (empty disables auth)")
	flags.Bool("tracing-enabled", viper.GetBool(config.KeyTracingEnabled), "Export traces over OTLP/gRPC")
	stringFlag(flags, "tracing-endpoint", config.KeyTracingEndpoint, "OTLP collector endpoint")
	flags.Float64("tracing-sample-rate", viper.GetFloat64(config.KeyTracingSampleRate), "Trace sampling ratio")
	flags.Bool("tracing-insecure", viper.GetBool(config.KeyTracingInsecure), "Disable TLS to the collector")

	// Flags are kebab-case, keys are snake_case
	flags.VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	// Environment variables are the upper-cased keys (CENTRAL_URL, API_KEY, ...)
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Host Agent\n")
			fmt.Printf("  Version:    %s\n", Version)
			fmt.Printf("  Build Time: %s\n", BuildTime)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
			fmt.Printf("  Go Version: %s\n", goruntime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
		},
	})

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Collect one report and print it without sending it",
		RunE:  inspect,
	}
	inspectCmd.Flags().StringP("output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.AddCommand(inspectCmd)
}

func stringFlag(flags *pflag.FlagSet, name, key, usage string) {
	flags.String(name, viper.GetString(key), usage)
}

func durationFlag(flags *pflag.FlagSet, name, key, usage string) {
	flags.Duration(name, viper.GetDuration(key), usage)
}

func main() {
	agent.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadViper loads the env file and the optional config file into viper
func loadViper() error {
	if err := config.LoadEnvFile(viper.GetString("env_file")); err != nil {
		return err
	}

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func newDockerRuntime(cfg *config.Config, logger *zap.Logger) (*runtime.DockerRuntime, error) {
	return runtime.NewDockerRuntime(runtime.DockerConfig{
		Host: cfg.DockerHost,
		Compose: runtime.ComposeConfig{
			Command: cfg.ComposeCommand,
			TempDir: cfg.ComposeTempDir,
		},
	}, logger.Named("docker"))
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadViper(); err != nil {
		return err
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting host agent",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("os", goruntime.GOOS),
		zap.String("arch", goruntime.GOARCH),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := observability.NewTracerProvider(observability.TracerConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    "hostagent",
		ServiceVersion: Version,
		HostName:       cfg.AgentHostname,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Error("Error stopping tracer", zap.Error(err))
		}
	}()

	rt, err := newDockerRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize container runtime: %w", err)
	}
	defer rt.Close()

	if cfg.MetricsAddr != "" {
		metricsServer := observability.NewMetricsServer(cfg.MetricsAddr, logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping metrics server", zap.Error(err))
			}
		}()
	}

	agentInstance, err := agent.New(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if err := agentInstance.Run(ctx); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func inspect(cmd *cobra.Command, args []string) error {
	if err := loadViper(); err != nil {
		return err
	}

	cfg := config.Read(viper.GetViper())

	// Keep stdout clean for the report
	logger, err := observability.NewLogger("error")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	rt, err := newDockerRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize container runtime: %w", err)
	}
	defer rt.Close()

	agentInstance, err := agent.New(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	envelope, skipped := agentInstance.Reporter().Collect(ctx)

	format, _ := cmd.Flags().GetString("output")
	if err := NewOutputter(format, cmd.OutOrStdout()).PrintEnvelope(envelope); err != nil {
		return err
	}

	for _, s := range skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", s)
	}
	return nil
}
