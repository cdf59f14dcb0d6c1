package handler

import (
	"net/http"

	"github.com/getoutvideo/gateway/internal/circuitbreaker"
	"github.com/getoutvideo/gateway/internal/healthcheck"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpstreamInspector exposes the relay's health and breaker state.
type UpstreamInspector interface {
	CircuitBreakerMetrics() circuitbreaker.Metrics
	ResetCircuitBreaker()
	HealthStatus() []healthcheck.Status
	OverallHealth() healthcheck.HealthStatus
	Targets() []string
	Strategy() string
}

type SystemHandler struct {
	upstream UpstreamInspector
	logger   *zap.Logger
}

func NewSystemHandler(upstream UpstreamInspector, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{upstream: upstream, logger: logger}
}

// Handles GET /admin/upstream
func (h *SystemHandler) Upstream(c *gin.Context) {
	if h.upstream == nil {
		response.Success(c, http.StatusOK, gin.H{"configured": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"configured":      true,
		"strategy":        h.upstream.Strategy(),
		"targets":         h.upstream.Targets(),
		"overall_health":  h.upstream.OverallHealth(),
		"health":          h.upstream.HealthStatus(),
		"circuit_breaker": h.upstream.CircuitBreakerMetrics(),
	})
}

// Handles POST /admin/upstream/reset
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	if h.upstream == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "no upstream is configured")
		return
	}

	h.upstream.ResetCircuitBreaker()
	h.logger.Info("upstream circuit breaker reset by admin")

	response.Success(c, http.StatusOK, gin.H{
		"message":         "circuit breaker reset",
		"circuit_breaker": h.upstream.CircuitBreakerMetrics(),
	})
}
