package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS enforces the origin allow-list. Allow-all is only honoured outside
// production; an empty allow-list rejects every cross-origin request.
func CORS(cfg config.CORSConfig, environment string) (gin.HandlerFunc, error) {
	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			APIKeyHeader,
			RequestIDHeader,
		},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	switch {
	case cfg.AllowAllOrigins:
		if environment == "production" {
			return nil, fmt.Errorf("allow-all CORS is not permitted in production")
		}
		corsConfig.AllowAllOrigins = true
	case len(cfg.AllowedOrigins) > 0:
		for _, origin := range cfg.AllowedOrigins {
			if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
				return nil, fmt.Errorf("invalid CORS origin %q", origin)
			}
		}
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	default:
		corsConfig.AllowOriginFunc = func(string) bool { return false }
	}

	return cors.New(corsConfig), nil
}
