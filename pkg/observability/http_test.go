package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsServer_Endpoints(t *testing.T) {
	addr := freeAddr(t)
	server := NewMetricsServer(addr, zap.NewNop())
	require.NoError(t, server.Start())
	defer server.Stop(context.Background())

	ReportCyclesTotal.WithLabelValues(ResultSuccess).Inc()

	code, body := get(t, "http://"+addr+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "hostagent_report_cycles_total")

	code, body = get(t, "http://"+addr+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, "http://"+addr+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body)

	code, _ = get(t, "http://"+addr+"/nonexistent")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsServer_StartBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := NewMetricsServer(ln.Addr().String(), zap.NewNop())
	err = server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestMetricsServer_Stop(t *testing.T) {
	addr := freeAddr(t)
	server := NewMetricsServer(addr, zap.NewNop())
	require.NoError(t, server.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	_, err := http.Get("http://" + addr + "/health")
	assert.Error(t, err, "server should not accept connections after Stop")
}

func TestHTTPMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	var seenID string
	handler := HTTPMiddleware("test_route", zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("test_route", "418"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seenID, "a request ID is generated when absent")
	assert.Equal(t, seenID, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("test_route", "418")))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, seenID, entry.ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusTeapot), entry.ContextMap()["status"])
}

func TestHTTPMiddleware_KeepsIncomingRequestID(t *testing.T) {
	handler := HTTPMiddleware("test_route", zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream-7", rec.Body.String())
	assert.Equal(t, "upstream-7", rec.Header().Get(RequestIDHeader))
}

func TestHTTPMiddleware_ContinuesIncomingTrace(t *testing.T) {
	recorder := recordSpans(t)

	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	handler := HTTPMiddleware("test_route", zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, span := StartSpan(r.Context(), "control.container_action")
		EndSpan(span, nil)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/container_action", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
	assert.True(t, spans[0].Parent().IsRemote())
}
