package agent

import (
	"context"
	"fmt"

	"github.com/fleetdeck/hostagent/pkg/config"
	"github.com/fleetdeck/hostagent/pkg/runtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Version is the agent version, set at build time
var Version = "dev"

// Agent wires the sampler, inventory, identity resolver, reporter and
// control surface around a single runtime instance
type Agent struct {
	config  *config.Config
	logger  *zap.Logger
	runtime runtime.Runtime

	sampler   *HostSampler
	inventory *InventoryCollector
	identity  *IdentityResolver
	reporter  *Reporter
	control   *ControlServer
}

// New creates an agent. The runtime is shared by the reporting and control
// paths and must be safe for concurrent use.
func New(cfg *config.Config, rt runtime.Runtime, logger *zap.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.APIKey == "" {
		logger.Warn("API_KEY is not set, reports will be sent without a credential")
	}

	a := &Agent{
		config:  cfg,
		logger:  logger,
		runtime: rt,
	}

	a.sampler = NewHostSampler(SamplerConfig{
		CPUSampleInterval: cfg.CPUSampleInterval,
		ProbeTimeout:      cfg.ProbeTimeout,
		DiskPath:          cfg.DiskPath,
	}, rt, logger.Named("sampler"))

	a.inventory = NewInventoryCollector(InventoryConfig{}, rt, logger.Named("inventory"))
	a.identity = NewIdentityResolver(cfg.ProbeTimeout, logger.Named("identity"))

	a.reporter = NewReporter(ReporterConfig{
		URL:           cfg.CentralURL,
		APIKey:        cfg.APIKey,
		Interval:      cfg.Interval,
		Timeout:       cfg.ReportTimeout,
		AgentHostname: cfg.AgentHostname,
		HostType:      cfg.HostType,
		NodeType:      cfg.NodeType,
		UserAgent:     "hostagent/" + Version,
	}, a.sampler, a.inventory, a.identity, logger.Named("reporter"))

	a.control = NewControlServer(ControlConfig{
		ListenAddr:     cfg.ListenAddr,
		APIKey:         cfg.ControlAPIKey,
		ActionTimeout:  cfg.ActionTimeout,
		ComposeTimeout: cfg.ComposeTimeout,
	}, rt, a.reporter, logger.Named("control"))

	return a, nil
}

// Run runs the reporter and the control surface until ctx is cancelled or
// one of them fails. Either failing stops the other.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting agent",
		zap.String("version", Version),
		zap.String("agent_hostname", a.config.AgentHostname),
		zap.String("central_url", a.config.CentralURL),
		zap.String("listen_addr", a.config.ListenAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.reporter.Run(gctx)
	})
	g.Go(func() error {
		return a.control.ListenAndServe(gctx)
	})

	err := g.Wait()
	a.logger.Info("Agent stopped", zap.Error(err))
	return err
}

// Reporter returns the reporter
func (a *Agent) Reporter() *Reporter {
	return a.reporter
}

// Control returns the control server
func (a *Agent) Control() *ControlServer {
	return a.control
}

// Runtime returns the shared container runtime
func (a *Agent) Runtime() runtime.Runtime {
	return a.runtime
}
