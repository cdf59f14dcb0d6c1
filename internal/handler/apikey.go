package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

type APIKeyHandler struct {
	service *service.APIKeyService
	usage   *service.UsageService
	logger  *zap.Logger
}

func NewAPIKeyHandler(service *service.APIKeyService, usage *service.UsageService, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{service: service, usage: usage, logger: logger}
}

// issuedKeyResponse is the only payload that ever carries a plain secret.
type issuedKeyResponse struct {
	*models.APIKey
	Key     string `json:"key"`
	Message string `json:"message"`
}

func newIssuedKeyResponse(issued *service.IssuedKey) issuedKeyResponse {
	return issuedKeyResponse{
		APIKey:  issued.APIKey,
		Key:     issued.Secret,
		Message: "Save this key - it won't be shown again",
	}
}

// Handles POST /admin/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"max=100"`
	}

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, err.Error())
			return
		}
	}

	issued, err := h.service.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.logger.Error("failed to create api key", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "failed to create API key")
		return
	}

	h.logger.Info("api key created",
		zap.String("api_key_id", issued.APIKey.ID.String()),
		zap.String("key_prefix", issued.APIKey.KeyPrefix),
	)

	response.Success(c, http.StatusCreated, newIssuedKeyResponse(issued))
}

// Handles GET /admin/keys
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "failed to list API keys")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// Handles GET /admin/keys/:id
func (h *APIKeyHandler) Get(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}

	apiKey, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.keyError(c, err, "failed to load API key")
		return
	}

	response.Success(c, http.StatusOK, apiKey)
}

// Handles PATCH /admin/keys/:id. Only is_active may change.
func (h *APIKeyHandler) Update(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, err.Error())
		return
	}

	if req.IsActive == nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, "No fields to update")
		return
	}

	apiKey, err := h.service.SetActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		h.keyError(c, err, "failed to update API key")
		return
	}

	h.logger.Info("api key updated",
		zap.String("api_key_id", apiKey.ID.String()),
		zap.Bool("is_active", apiKey.IsActive),
	)

	response.Success(c, http.StatusOK, apiKey)
}

// Handles POST /admin/keys/:id/rotate
func (h *APIKeyHandler) Rotate(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}

	issued, err := h.service.Rotate(c.Request.Context(), id)
	if err != nil {
		h.keyError(c, err, "failed to rotate API key")
		return
	}

	h.logger.Info("api key rotated",
		zap.String("api_key_id", issued.APIKey.ID.String()),
		zap.String("key_prefix", issued.APIKey.KeyPrefix),
	)

	response.Success(c, http.StatusOK, newIssuedKeyResponse(issued))
}

// Handles GET /admin/keys/:id/requests
func (h *APIKeyHandler) Usage(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}

	limit := queryInt(c, "limit", defaultUsageLimit)
	if limit <= 0 || limit > maxUsageLimit {
		limit = defaultUsageLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	if _, err := h.service.Get(ctx, id); err != nil {
		h.keyError(c, err, "failed to load API key")
		return
	}

	usage, err := h.usage.GetKeyUsage(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("failed to load api key usage", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "failed to load usage")
		return
	}

	response.Success(c, http.StatusOK, usage)
}

func (h *APIKeyHandler) keyError(c *gin.Context, err error, message string) {
	if errors.Is(err, service.ErrKeyIDUnknown) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "API key not found")
		return
	}
	if errors.Is(err, service.ErrCacheInvalidation) {
		h.logger.Error(message, zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, response.CodeCacheUnavailable, err.Error())
		return
	}

	h.logger.Error(message, zap.Error(err))
	response.Error(c, http.StatusInternalServerError, response.CodeInternal, message)
}

func parseKeyID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRequest, "invalid API key id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
