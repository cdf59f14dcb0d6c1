package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getoutvideo/gateway/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type proxyFixture struct {
	router  *gin.Engine
	proxy   *Proxy
	backend atomic.Value
}

func newProxyFixture(t *testing.T, cfg Config) *proxyFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, err := New(cfg)
	require.NoError(t, err)

	f := &proxyFixture{router: gin.New(), proxy: p}
	f.router.POST("/api/v1/video/process", func(c *gin.Context) {
		p.Handle(c)
		f.backend.Store(c.GetString(ContextBackendKey))
	})

	return f
}

func TestProxyRewritesCredentials(t *testing.T) {
	var received http.Header
	var body string

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		body = string(data)

		assert.Equal(t, "/api/v1/video/process", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"status":"success","data":{"results":{}}}`)
	}))
	defer backend.Close()

	f := newProxyFixture(t, Config{
		Targets: []string{backend.URL},
		Secret:  "upstream-secret",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/process", strings.NewReader(`{"video_url":"https://youtu.be/abc"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "sk_client_secret")
	req.Header.Set("Authorization", "Bearer sk_client_secret")
	req.Header.Set("Cookie", "session=abc")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"results":{}}}`, w.Body.String())
	assert.Equal(t, `{"video_url":"https://youtu.be/abc"}`, body)

	assert.Empty(t, received.Get("X-API-Key"))
	assert.Empty(t, received.Get("Cookie"))
	assert.Equal(t, "Bearer upstream-secret", received.Get("Authorization"))
	assert.NotEmpty(t, received.Get("X-Forwarded-For"))
	assert.Equal(t, backend.URL, f.backend.Load())
}

func TestProxyCustomSecretHeader(t *testing.T) {
	var received http.Header

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newProxyFixture(t, Config{
		Targets:      []string{backend.URL},
		Secret:       "upstream-secret",
		SecretHeader: "X-Gateway-Token",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil)
	req.Header.Set("Authorization", "Bearer sk_client_secret")
	f.router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "upstream-secret", received.Get("X-Gateway-Token"))
	assert.Empty(t, received.Get("Authorization"))
}

func TestProxyPassesUpstreamErrorsThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"status":"error","error":"video unavailable"}`)
	}))
	defer backend.Close()

	f := newProxyFixture(t, Config{Targets: []string{backend.URL}})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "video unavailable")
	assert.Zero(t, f.proxy.CircuitBreakerMetrics().FailureCount, "4xx responses are not upstream failures")
}

func TestProxyUnreachableUpstream(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	target := backend.URL
	backend.Close()

	f := newProxyFixture(t, Config{Targets: []string{target}})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "upstream_error", body["code"])
}

func TestProxyCircuitOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	f := newProxyFixture(t, Config{
		Targets:        []string{backend.URL},
		CircuitBreaker: circuitbreaker.Config{MaxFailures: 2, OpenTimeout: time.Minute},
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_unavailable")
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, "open", f.proxy.CircuitBreakerMetrics().StateName)

	f.proxy.ResetCircuitBreaker()
	assert.Equal(t, "closed", f.proxy.CircuitBreakerMetrics().StateName)
}

func TestNewValidatesTargets(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Targets: []string{"ftp://backend:21"}})
	assert.Error(t, err)

	_, err = New(Config{Targets: []string{"http://backend:8001"}, LoadBalancerStrategy: "weighted"})
	assert.Error(t, err)

	p, err := New(Config{Targets: []string{"http://backend:8001"}, LoadBalancerStrategy: "least_connections"})
	require.NoError(t, err)
	assert.Equal(t, "least_connections", p.Strategy())
	assert.Equal(t, []string{"http://backend:8001"}, p.Targets())
	assert.Len(t, p.HealthStatus(), 1)
}

func TestProxyPropagatesTraceContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})

	traceparents := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparents <- r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newProxyFixture(t, Config{Targets: []string{backend.URL}})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/video/process", nil))
	require.Equal(t, http.StatusOK, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	relay := spans[0]
	assert.Equal(t, "upstream relay", relay.Name())
	assert.Equal(t, trace.SpanKindClient, relay.SpanKind())

	traceparent := <-traceparents
	assert.Contains(t, traceparent, relay.SpanContext().TraceID().String())
	assert.Contains(t, traceparent, relay.SpanContext().SpanID().String())
}
