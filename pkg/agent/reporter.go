package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/fleetdeck/hostagent/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// APIKeyHeader carries the shared credential on reports and control requests
const APIKeyHeader = "X-API-KEY"

// maxErrorBody caps how much of a rejected response is kept
const maxErrorBody = 512

// Sampler produces host snapshots
type Sampler interface {
	Sample(ctx context.Context) SampleResult
}

// Inventory produces the container list
type Inventory interface {
	ListAll(ctx context.Context) (InventoryResult, error)
}

// IdentitySource names the host
type IdentitySource interface {
	ResolveIdentity(ctx context.Context) string
}

// ReporterConfig configures the periodic reporter
type ReporterConfig struct {
	// URL is the controller ingestion endpoint
	URL    string
	APIKey string

	Interval time.Duration
	Timeout  time.Duration
	// InventoryTimeout bounds the container pass of one cycle, defaults to Interval
	InventoryTimeout time.Duration

	// Static identity copied into every envelope
	AgentHostname string
	HostType      string
	NodeType      string

	UserAgent string
}

// DeliveryError is returned when the controller did not accept a report
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("controller responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("controller responded with status %d: %s", e.StatusCode, e.Body)
}

// CycleResult describes one reporting cycle
type CycleResult struct {
	Envelope api.ReportEnvelope
	Skipped  []ContainerError
	Err      error
	Duration time.Duration
}

// Reporter periodically builds a report envelope and pushes it to the
// controller. A failed delivery is logged and dropped; the next cycle carries
// fresh data, so there is no retry.
type Reporter struct {
	config    ReporterConfig
	sampler   Sampler
	inventory Inventory
	identity  IdentitySource
	client    *http.Client
	logger    *zap.Logger
}

// NewReporter creates a reporter
func NewReporter(config ReporterConfig, sampler Sampler, inventory Inventory, identity IdentitySource, logger *zap.Logger) *Reporter {
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.InventoryTimeout == 0 {
		config.InventoryTimeout = config.Interval
	}
	if config.UserAgent == "" {
		config.UserAgent = "hostagent"
	}

	return &Reporter{
		config:    config,
		sampler:   sampler,
		inventory: inventory,
		identity:  identity,
		client:    &http.Client{Timeout: config.Timeout},
		logger:    logger,
	}
}

// Run sends a report immediately and then once per interval until ctx is
// cancelled. Cycle failures never stop the loop.
func (r *Reporter) Run(ctx context.Context) error {
	r.logger.Info("Starting reporter",
		zap.String("url", r.config.URL),
		zap.Duration("interval", r.config.Interval),
	)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reporter stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single collect-and-send cycle
func (r *Reporter) RunOnce(ctx context.Context) (result CycleResult) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "report.cycle")

	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("report cycle panicked: %v", p)
			observability.ReportCyclesTotal.WithLabelValues(observability.ResultPanic).Inc()
			r.logger.Error("Recovered from panic in report cycle",
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
		}
		result.Duration = time.Since(start)
		observability.ReportDurationSeconds.Observe(result.Duration.Seconds())
		observability.EndSpan(span, result.Err)
	}()

	envelope, skipped := r.Collect(ctx)
	result.Envelope = envelope
	result.Skipped = skipped
	span.SetAttributes(
		attribute.String("hostname", envelope.Hostname),
		attribute.Int("containers", len(envelope.Containers)),
	)

	if err := r.Send(ctx, envelope); err != nil {
		result.Err = err
		observability.ReportCyclesTotal.WithLabelValues(observability.ResultDeliveryFailure).Inc()
		r.logger.Warn("Failed to deliver report",
			zap.String("url", r.config.URL),
			zap.Error(err),
		)
		return result
	}

	observability.ReportCyclesTotal.WithLabelValues(observability.ResultSuccess).Inc()
	r.logger.Debug("Report delivered",
		zap.String("hostname", envelope.Hostname),
		zap.Int("containers", len(envelope.Containers)),
	)
	return result
}

// Collect builds a fresh envelope. It never fails: an unavailable runtime
// yields an empty container list next to a complete host status.
func (r *Reporter) Collect(ctx context.Context) (api.ReportEnvelope, []ContainerError) {
	envelope := api.ReportEnvelope{
		Hostname:      r.identity.ResolveIdentity(ctx),
		AgentHostname: r.config.AgentHostname,
		HostType:      r.config.HostType,
		NodeType:      r.config.NodeType,
		HostStatus:    r.sampler.Sample(ctx).Status,
		Containers:    []api.ContainerRecord{},
	}

	inventory, err := r.listInventory(ctx)
	if err != nil {
		r.logger.Warn("Container inventory unavailable, reporting host status only",
			zap.Error(err),
		)
	}
	if inventory.Containers != nil {
		envelope.Containers = inventory.Containers
	}
	observability.ContainersReported.Set(float64(len(envelope.Containers)))

	return envelope, inventory.Skipped
}

func (r *Reporter) listInventory(ctx context.Context) (InventoryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.InventoryTimeout)
	defer cancel()
	return r.inventory.ListAll(ctx)
}

// Send posts one envelope to the controller. Anything but 200 is a DeliveryError.
func (r *Reporter) Send(ctx context.Context, envelope api.ReportEnvelope) (err error) {
	ctx, span := observability.StartSpan(ctx, "report.send",
		attribute.String("url", r.config.URL),
	)
	defer func() { observability.EndSpan(span, err) }()

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", r.config.UserAgent)
	req.Header.Set(APIKeyHeader, r.config.APIKey)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}
