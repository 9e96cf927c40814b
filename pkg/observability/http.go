package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// MetricsServer serves Prometheus metrics and liveness endpoints over HTTP
type MetricsServer struct {
	addr   string
	logger *zap.Logger
	server *http.Server
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ready", ReadyHandler)

	return &MetricsServer{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ms.addr, err)
	}

	ms.logger.Info("Starting metrics server",
		zap.String("address", ln.Addr().String()),
	)

	go func() {
		if err := ms.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			ms.logger.Error("Metrics server error",
				zap.Error(err),
			)
		}
	}()

	return nil
}

// Stop stops the metrics server gracefully
func (ms *MetricsServer) Stop(ctx context.Context) error {
	ms.logger.Info("Stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ms.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

// HealthHandler answers liveness probes
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadyHandler answers readiness probes
func ReadyHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware tags every request with a request ID, logs it, and counts
// it under the given route label. An incoming trace context becomes the
// parent of spans started by next.
func HTTPMiddleware(route string, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = WithRequestID(ctx, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		ContextLogger(ctx, logger).Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
