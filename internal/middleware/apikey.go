package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/getoutvideo/gateway/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	APIKeyHeader        = "X-API-Key"
	ContextAPIKey       = "api_key"
	ContextAPIKeyID     = "api_key_id"
	defaultTouchTimeout = 5 * time.Second
)

// Authenticator validates a presented secret and records its use.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (*models.APIKey, error)
	Touch(ctx context.Context, apiKey *models.APIKey) error
}

// TouchRunner runs last-used writes off the request path. A
// *workerpool.WorkerPool satisfies it.
type TouchRunner interface {
	Submit(task func())
}

type goroutineRunner struct{}

func (goroutineRunner) Submit(task func()) { go task() }

// ExtractCredential returns the secret carried by the request, or "" when
// there is none. X-API-Key wins; otherwise a Bearer Authorization header
// is used. Other Authorization schemes are not credentials here.
func ExtractCredential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

// APIKeyValidator authenticates the request when it carries a credential.
// Requests without one continue anonymously; route level permissions
// decide whether that is acceptable. touches may be nil, in which case each
// last-used write gets its own goroutine.
func APIKeyValidator(authn Authenticator, touches TouchRunner, touchTimeout time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if touches == nil {
		touches = goroutineRunner{}
	}
	if touchTimeout <= 0 {
		touchTimeout = defaultTouchTimeout
	}

	attempts, err := telemetry.Meter().Int64Counter("gateway.auth.attempts",
		metric.WithDescription("API key authentication attempts by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create auth counter", zap.Error(err))
		attempts = noop.Int64Counter{}
	}
	record := func(ctx context.Context, outcome string) {
		attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	return func(c *gin.Context) {
		secret := ExtractCredential(c.Request)
		if secret == "" {
			record(c.Request.Context(), "anonymous")
			c.Next()
			return
		}

		ctx := c.Request.Context()
		apiKey, err := authn.Authenticate(ctx, secret)

		switch {
		case err == nil:
			record(ctx, "authenticated")
		case errors.Is(err, service.ErrKeyNotFound):
			record(ctx, "invalid")
			logger.Info("rejected unknown api key",
				zap.String("request_id", c.GetString(ContextRequestIDKey)),
				zap.String("client_ip", c.ClientIP()),
			)
			unauthorized(c, response.CodeInvalidAPIKey, "invalid API key")
			return
		case errors.Is(err, service.ErrKeyInactive):
			record(ctx, "inactive")
			fields := []zap.Field{zap.String("request_id", c.GetString(ContextRequestIDKey))}
			if apiKey != nil {
				fields = append(fields,
					zap.String("api_key_id", apiKey.ID.String()),
					zap.String("key_prefix", apiKey.KeyPrefix),
				)
			}
			logger.Info("rejected inactive api key", fields...)
			unauthorized(c, response.CodeInactiveAPIKey, "API key is inactive")
			return
		default:
			record(ctx, "error")
			logger.Error("api key lookup failed",
				zap.String("request_id", c.GetString(ContextRequestIDKey)),
				zap.Error(err),
			)
			response.Error(c, http.StatusInternalServerError, response.CodeAuthUnavailable, "authentication is temporarily unavailable")
			return
		}

		c.Set(ContextAPIKey, apiKey)
		c.Set(ContextAPIKeyID, apiKey.ID)

		// The request context is cancelled once the handler returns, so the
		// write gets its own deadline.
		touchCtx := context.WithoutCancel(ctx)
		touches.Submit(func() {
			ctx, cancel := context.WithTimeout(touchCtx, touchTimeout)
			defer cancel()

			if err := authn.Touch(ctx, apiKey); err != nil {
				logger.Warn("failed to record api key use",
					zap.String("api_key_id", apiKey.ID.String()),
					zap.Error(err),
				)
			}
		})

		c.Next()
	}
}

// RequireAPIKey rejects requests that reached it anonymously.
func RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := APIKeyFromContext(c); !ok {
			unauthorized(c, response.CodeNotAuthenticated, "authentication credentials were not provided")
			return
		}
		c.Next()
	}
}

func APIKeyFromContext(c *gin.Context) (*models.APIKey, bool) {
	value, exists := c.Get(ContextAPIKey)
	if !exists {
		return nil, false
	}
	apiKey, ok := value.(*models.APIKey)
	return apiKey, ok && apiKey != nil
}

func unauthorized(c *gin.Context, code, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	response.Error(c, http.StatusUnauthorized, code, message)
}
