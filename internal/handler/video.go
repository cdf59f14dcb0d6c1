package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getoutvideo/gateway/internal/middleware"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/video"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxVideoRequestBytes = 64 << 10

// Upstream relays a validated request to the processing backend.
type Upstream interface {
	Handle(c *gin.Context)
}

type VideoHandler struct {
	upstream Upstream
	logger   *zap.Logger
}

// NewVideoHandler accepts a nil upstream, in which case process requests
// are answered with 503.
func NewVideoHandler(upstream Upstream, logger *zap.Logger) *VideoHandler {
	return &VideoHandler{upstream: upstream, logger: logger}
}

// Handles POST /api/v1/video/process
func (h *VideoHandler) Process(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxVideoRequestBytes)

	var req video.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid request data",
			gin.H{"non_field_errors": []string{"Request body must be a JSON object."}})
		return
	}

	if err := req.Normalize(); err != nil {
		var verrs video.ValidationErrors
		if errors.As(err, &verrs) {
			h.logger.Info("invalid video request", zap.Any("details", verrs))
			response.ErrorWithDetails(c, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid request data", verrs)
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, err.Error())
		return
	}

	if h.upstream == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, "video processing backend is not configured")
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "failed to encode request")
		return
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
	c.Request.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	c.Request.Header.Set("Content-Type", "application/json")

	h.logger.Info("relaying video request",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("video_url", req.VideoURL),
		zap.Strings("styles", req.Styles),
		zap.String("language", req.OutputLanguage),
	)

	h.upstream.Handle(c)
}

// Handles GET /api/v1/video/styles
func (h *VideoHandler) Styles(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"styles":                  video.Styles,
		"default_output_language": video.DefaultOutputLanguage,
	})
}
