// Package response writes the JSON envelopes shared by every route:
// {"status":"success","data":...} and {"status":"error","error":...,"code":...}.
package response

import (
	"github.com/gin-gonic/gin"
)

// Stable error codes. Clients may match on these; messages may change.
const (
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeInactiveAPIKey      = "inactive_api_key"
	CodeNotAuthenticated    = "not_authenticated"
	CodeAuthUnavailable     = "auth_unavailable"
	CodeAdminUnauthorized   = "admin_unauthorized"
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeUpstreamError       = "upstream_error"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal_error"
	CodeCacheUnavailable    = "cache_unavailable"
)

func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

func Error(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status": "error",
		"error":  message,
		"code":   code,
	})
}

func ErrorWithDetails(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, gin.H{
		"status":  "error",
		"error":   message,
		"code":    code,
		"details": details,
	})
}
