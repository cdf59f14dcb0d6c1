package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/circuitbreaker"
	"github.com/getoutvideo/gateway/internal/healthcheck"
	"github.com/getoutvideo/gateway/internal/loadbalancer"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextBackendKey holds the target a request was relayed to.
const ContextBackendKey = "backend_server"

var errUpstreamFailure = errors.New("upstream returned a server error")

// Proxy relays requests to the video processing backend. Client
// credentials never leave the gateway: they are stripped from the
// outbound request and the backend secret is attached instead.
type Proxy struct {
	targets        []string
	proxies        map[string]*httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	loadBalancer   loadbalancer.Strategy
	healthChecker  *healthcheck.Checker
	logger         *zap.Logger
	tracer         trace.Tracer
	relayed        metric.Int64Counter
}

type Config struct {
	Targets              []string
	LoadBalancerStrategy string

	// Secret is attached to every outbound request in SecretHeader. For
	// the Authorization header it is sent as a Bearer token.
	Secret       string
	SecretHeader string

	// Timeout bounds the wait for the backend's response headers.
	Timeout time.Duration

	CircuitBreaker circuitbreaker.Config
	HealthCheck    healthcheck.Config
	Logger         *zap.Logger
}

func New(cfg Config) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one upstream target is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SecretHeader == "" {
		cfg.SecretHeader = "Authorization"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if cfg.CircuitBreaker.OnStateChange == nil {
		cfg.CircuitBreaker.OnStateChange = func(from, to circuitbreaker.State) {
			logger.Warn("upstream circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	relayed, err := telemetry.Meter().Int64Counter("gateway.upstream.requests",
		metric.WithDescription("Requests relayed to the video backend by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create upstream counter", zap.Error(err))
		relayed = noop.Int64Counter{}
	}

	p := &Proxy{
		targets:        append([]string(nil), cfg.Targets...),
		proxies:        make(map[string]*httputil.ReverseProxy, len(cfg.Targets)),
		circuitBreaker: circuitbreaker.New(cfg.CircuitBreaker),
		loadBalancer:   lb,
		logger:         logger,
		tracer:         telemetry.Tracer(),
		relayed:        relayed,
	}

	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream target %q: %w", targetURL, err)
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return nil, fmt.Errorf("invalid upstream target %q: scheme must be http or https", targetURL)
		}

		p.proxies[targetURL] = p.newReverseProxy(target, cfg.SecretHeader, cfg.Secret, transport)
	}

	if cfg.HealthCheck.Targets == nil {
		cfg.HealthCheck.Targets = cfg.Targets
	}
	if cfg.HealthCheck.Logger == nil {
		cfg.HealthCheck.Logger = logger
	}
	p.healthChecker = healthcheck.NewChecker(cfg.HealthCheck)

	logger.Info("upstream proxy initialized",
		zap.Int("targets", len(cfg.Targets)),
		zap.String("strategy", lb.Name()),
	)

	return p, nil
}

func (p *Proxy) newReverseProxy(target *url.URL, secretHeader, secret string, transport http.RoundTripper) *httputil.ReverseProxy {
	secretValue := secret
	if strings.EqualFold(secretHeader, "Authorization") && secret != "" {
		secretValue = "Bearer " + secret
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("X-API-Key")
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			if secretValue != "" {
				pr.Out.Header.Set(secretHeader, secretValue)
			}

			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Error("upstream request failed",
				zap.String("target", target.String()),
				zap.Error(err),
			)

			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"status":"error","error":"video processing backend is unreachable","code":%q}`, response.CodeUpstreamError)
		},
	}
}

// Start runs the health checker until ctx is cancelled.
func (p *Proxy) Start(ctx context.Context) {
	go p.healthChecker.Run(ctx)
}

// Handle forwards the request to a healthy upstream target.
func (p *Proxy) Handle(c *gin.Context) {
	healthyTargets := p.healthChecker.HealthyTargets()
	if len(healthyTargets) == 0 {
		p.logger.Warn("no healthy upstream targets available")
		p.record(c, "", "unavailable")
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, "video processing backend is unavailable")
		return
	}

	selectedTarget := p.loadBalancer.Next(healthyTargets)
	targetProxy, exists := p.proxies[selectedTarget]
	if !exists {
		p.logger.Error("no proxy for selected target", zap.String("target", selectedTarget))
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, "video processing backend is unavailable")
		return
	}

	if tracker, ok := p.loadBalancer.(loadbalancer.ConnectionTracker); ok {
		tracker.Acquire(selectedTarget)
		defer tracker.Release(selectedTarget)
	}

	c.Set(ContextBackendKey, selectedTarget)

	ctx, span := p.tracer.Start(c.Request.Context(), "upstream relay",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.target", selectedTarget)),
	)
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	err := p.circuitBreaker.Call(func() error {
		targetProxy.ServeHTTP(c.Writer, c.Request)

		if c.Writer.Status() >= http.StatusInternalServerError {
			return errUpstreamFailure
		}
		return nil
	})

	status := c.Writer.Status()
	defer func() {
		span.SetAttributes(attribute.Int("http.response.status_code", c.Writer.Status()))
	}()

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		p.logger.Warn("circuit breaker open, rejecting request", zap.String("target", selectedTarget))
		span.SetStatus(codes.Error, "circuit open")
		p.record(c, selectedTarget, "circuit_open")
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, "video processing backend is temporarily unavailable")
	case err != nil:
		span.SetStatus(codes.Error, http.StatusText(status))
		p.record(c, selectedTarget, "server_error")
	case status >= http.StatusBadRequest:
		p.record(c, selectedTarget, "client_error")
	default:
		p.record(c, selectedTarget, "ok")
	}
}

func (p *Proxy) record(c *gin.Context, target, outcome string) {
	p.relayed.Add(c.Request.Context(), 1, metric.WithAttributes(
		attribute.String("upstream.target", target),
		attribute.String("outcome", outcome),
	))
}

func (p *Proxy) CircuitBreakerMetrics() circuitbreaker.Metrics {
	return p.circuitBreaker.Metrics()
}

func (p *Proxy) ResetCircuitBreaker() {
	p.circuitBreaker.Reset()
}

func (p *Proxy) HealthStatus() []healthcheck.Status {
	return p.healthChecker.AllStatus()
}

func (p *Proxy) OverallHealth() healthcheck.HealthStatus {
	return p.healthChecker.OverallHealth()
}

func (p *Proxy) Targets() []string {
	return append([]string(nil), p.targets...)
}

func (p *Proxy) Strategy() string {
	return p.loadBalancer.Name()
}
