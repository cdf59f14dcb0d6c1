// Command dummy-backend stands in for the video processing service during
// local development. It answers /health and /api/v1/video/process with a
// canned result and rejects requests that lack the shared upstream secret.
package main

import (
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/logger"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/video"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	secret := flag.String("secret", "", "expected bearer secret (empty accepts any caller)")
	delay := flag.Duration("delay", 0, "artificial processing time")
	flag.Parse()

	log := logger.MustNew("development")
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.POST("/api/v1/video/process", func(c *gin.Context) {
		if *secret != "" && strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") != *secret {
			response.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid upstream secret")
			return
		}

		var req video.ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, err.Error())
			return
		}

		log.Info("received request",
			zap.String("video_url", req.VideoURL),
			zap.Strings("styles", req.Styles),
			zap.String("forwarded_for", c.GetHeader("X-Forwarded-For")),
		)

		styles := req.Styles
		if len(styles) == 0 {
			styles = video.Styles
		}

		results := make(map[string]string, len(styles))
		for _, style := range styles {
			results[style] = style + " output for " + req.VideoURL
		}

		time.Sleep(*delay)

		response.Success(c, http.StatusOK, gin.H{
			"video_url":       req.VideoURL,
			"output_language": req.OutputLanguage,
			"results":         results,
		})
	})

	log.Info("dummy backend starting", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, router); err != nil {
		log.Fatal("dummy backend stopped", zap.Error(err))
	}
}
