package middleware

import (
	"net/http"

	"github.com/getoutvideo/gateway/internal/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.String("request_id", c.GetString(ContextRequestIDKey)),
					zap.Any("panic", err),
					zap.Stack("stack"),
				)

				response.Error(c, http.StatusInternalServerError, response.CodeInternal, "Internal Server Error")
			}
		}()
		c.Next()
	}
}
