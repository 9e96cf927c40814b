package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fleetdeck/hostagent/pkg/api"
	"github.com/fleetdeck/hostagent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrMissingField is returned when a required request field is absent
	ErrMissingField = errors.New("missing required field")

	// ErrUnknownAction is returned for an action other than start, stop or restart
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidBody is returned when a request body is not valid JSON
	ErrInvalidBody = errors.New("invalid request body")
)

const (
	maxActionBody  = 64 << 10
	maxComposeBody = 4 << 20
)

// ContainerController is the part of the runtime the control surface drives
type ContainerController interface {
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error
	ApplyCompose(ctx context.Context, definition string) error
}

// ReportSource builds a fresh report envelope on demand
type ReportSource interface {
	Collect(ctx context.Context) (api.ReportEnvelope, []ContainerError)
}

// ControlConfig configures the control surface
type ControlConfig struct {
	ListenAddr string

	// APIKey, when set, must be presented in X-API-KEY on every /api request
	APIKey string

	ActionTimeout   time.Duration
	ComposeTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// ActionResult is the outcome of one container lifecycle action
type ActionResult struct {
	Action    api.ContainerAction
	Container string
	Err       error
}

// OK reports whether the action succeeded
func (r ActionResult) OK() bool { return r.Err == nil }

// Message is the human-readable outcome returned to the caller
func (r ActionResult) Message() string {
	if r.Err != nil {
		return fmt.Sprintf("failed to %s container %s: %v", r.Action, r.Container, r.Err)
	}
	return fmt.Sprintf("container %s %s", r.Container, r.Action.PastTense())
}

// ControlServer exposes container lifecycle and compose operations over HTTP
type ControlServer struct {
	config  ControlConfig
	runtime ContainerController
	reports ReportSource
	logger  *zap.Logger
	server  *http.Server
}

// NewControlServer creates a control server. reports may be nil, which
// disables GET /api/report.
func NewControlServer(config ControlConfig, rt ContainerController, reports ReportSource, logger *zap.Logger) *ControlServer {
	if config.ListenAddr == "" {
		config.ListenAddr = "0.0.0.0:5000"
	}
	if config.ActionTimeout == 0 {
		config.ActionTimeout = 60 * time.Second
	}
	if config.ComposeTimeout == 0 {
		config.ComposeTimeout = 5 * time.Minute
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &ControlServer{
		config:  config,
		runtime: rt,
		reports: reports,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the control surface routes
func (s *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/container_action",
		observability.HTTPMiddleware("container_action", s.logger, s.requireAPIKey(http.HandlerFunc(s.handleContainerAction))))
	mux.Handle("POST /api/compose_execute",
		observability.HTTPMiddleware("compose_execute", s.logger, s.requireAPIKey(http.HandlerFunc(s.handleComposeExecute))))
	if s.reports != nil {
		mux.Handle("GET /api/report",
			observability.HTTPMiddleware("report", s.logger, s.requireAPIKey(http.HandlerFunc(s.handleReport))))
	}
	mux.HandleFunc("GET /health", observability.HealthHandler)
	mux.HandleFunc("GET /ready", observability.ReadyHandler)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// A bind failure is returned immediately.
func (s *ControlServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *ControlServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting control server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("auth", s.config.APIKey != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping control server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown control server: %w", err)
	}
	return nil
}

// ExecuteAction runs one lifecycle action against a container
func (s *ControlServer) ExecuteAction(ctx context.Context, name string, action api.ContainerAction) ActionResult {
	ctx, span := observability.StartSpan(ctx, "control.container_action",
		attribute.String("container", name),
		attribute.String("action", string(action)),
	)
	ctx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()

	var err error
	switch action {
	case api.ActionStart:
		err = s.runtime.StartContainer(ctx, name)
	case api.ActionStop:
		err = s.runtime.StopContainer(ctx, name)
	case api.ActionRestart:
		err = s.runtime.RestartContainer(ctx, name)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	observability.EndSpan(span, err)

	label := observability.ResultSuccess
	if err != nil {
		label = observability.ResultFailure
	}
	observability.ControlActionsTotal.WithLabelValues(string(action), label).Inc()

	return ActionResult{Action: action, Container: name, Err: err}
}

// ApplyCompose applies a compose definition
func (s *ControlServer) ApplyCompose(ctx context.Context, definition string) error {
	ctx, span := observability.StartSpan(ctx, "control.compose_execute",
		attribute.Int("size", len(definition)),
	)
	ctx, cancel := context.WithTimeout(ctx, s.config.ComposeTimeout)
	defer cancel()

	err := s.runtime.ApplyCompose(ctx, definition)
	observability.EndSpan(span, err)

	label := observability.ResultSuccess
	if err != nil {
		label = observability.ResultFailure
	}
	observability.ComposeAppliesTotal.WithLabelValues(label).Inc()
	return err
}

func (s *ControlServer) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	logger := observability.ContextLogger(r.Context(), s.logger)

	var req api.ContainerActionRequest
	if err := decodeBody(w, r, maxActionBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, action, err := validateActionRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.ExecuteAction(r.Context(), name, action)
	if !result.OK() {
		logger.Warn("Container action failed",
			zap.String("container", name),
			zap.String("action", string(action)),
			zap.Error(result.Err),
		)
		writeError(w, http.StatusInternalServerError, result.Message())
		return
	}

	logger.Info("Container action succeeded",
		zap.String("container", name),
		zap.String("action", string(action)),
	)
	writeJSON(w, http.StatusOK, api.ControlResponse{Message: result.Message()})
}

func (s *ControlServer) handleComposeExecute(w http.ResponseWriter, r *http.Request) {
	logger := observability.ContextLogger(r.Context(), s.logger)

	var req api.ComposeExecuteRequest
	if err := decodeBody(w, r, maxComposeBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Compose) == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%v: compose", ErrMissingField))
		return
	}

	if err := s.ApplyCompose(r.Context(), req.Compose); err != nil {
		logger.Warn("Compose apply failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to apply compose definition: %v", err))
		return
	}

	logger.Info("Compose definition applied")
	writeJSON(w, http.StatusOK, api.ControlResponse{Message: "compose definition applied"})
}

func (s *ControlServer) handleReport(w http.ResponseWriter, r *http.Request) {
	envelope, _ := s.reports.Collect(r.Context())
	writeJSON(w, http.StatusOK, envelope)
}

func (s *ControlServer) requireAPIKey(next http.Handler) http.Handler {
	if s.config.APIKey == "" {
		return next
	}
	want := []byte(s.config.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(APIKeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validateActionRequest(req api.ContainerActionRequest) (string, api.ContainerAction, error) {
	name := strings.TrimSpace(req.ContainerName)
	if name == "" {
		return "", "", fmt.Errorf("%w: container_name", ErrMissingField)
	}
	if strings.TrimSpace(req.Action) == "" {
		return "", "", fmt.Errorf("%w: action", ErrMissingField)
	}

	action, err := api.ParseContainerAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	return name, action, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ControlResponse{Error: message})
}
