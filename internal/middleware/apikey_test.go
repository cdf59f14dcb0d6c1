package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const validSecret = "sk_valid"

type fakeAuthenticator struct {
	mu          sync.Mutex
	keys        map[string]*models.APIKey
	lookupErr   error
	presented   []string
	touched     []uuid.UUID
	touchCtxErr error
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{
		keys: map[string]*models.APIKey{
			validSecret:   {ID: uuid.New(), Name: "frontend app", KeyPrefix: "sk_valid", IsActive: true},
			"sk_inactive": {ID: uuid.New(), Name: "old app", KeyPrefix: "sk_inacti", IsActive: false},
		},
	}
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.presented = append(f.presented, secret)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}

	apiKey, ok := f.keys[secret]
	if !ok {
		return nil, service.ErrKeyNotFound
	}
	if !apiKey.IsActive {
		return apiKey, service.ErrKeyInactive
	}
	return apiKey, nil
}

func (f *fakeAuthenticator) Touch(ctx context.Context, apiKey *models.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.touched = append(f.touched, apiKey.ID)
	f.touchCtxErr = ctx.Err()
	return nil
}

func (f *fakeAuthenticator) calls() ([]string, []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.presented...), append([]uuid.UUID(nil), f.touched...)
}

func newAuthRouter(authn Authenticator, logger *zap.Logger, requireKey bool) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.Use(APIKeyValidator(authn, nil, time.Second, logger))

	handler := func(c *gin.Context) {
		apiKey, ok := APIKeyFromContext(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "api_key_id": apiKey.ID.String()})
	}

	if requireKey {
		router.GET("/resource", RequireAPIKey(), handler)
	} else {
		router.GET("/resource", handler)
	}

	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "none", want: ""},
		{name: "x-api-key", headers: map[string]string{"X-API-Key": "sk_a"}, want: "sk_a"},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer sk_b"}, want: "sk_b"},
		{name: "bearer lowercase scheme", headers: map[string]string{"Authorization": "bearer sk_b"}, want: "sk_b"},
		{name: "header wins over bearer", headers: map[string]string{"X-API-Key": "sk_a", "Authorization": "Bearer sk_b"}, want: "sk_a"},
		{name: "basic is not a credential", headers: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, want: ""},
		{name: "bare bearer", headers: map[string]string{"Authorization": "Bearer"}, want: ""},
		{name: "blank header", headers: map[string]string{"X-API-Key": "   "}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractCredential(req))
		})
	}
}

func TestAPIKeyValidatorAnonymous(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])

	presented, touched := authn.calls()
	assert.Empty(t, presented, "no credential means no lookup")
	assert.Empty(t, touched)
}

func TestAPIKeyValidatorUnknownKey(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.New(core), false)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(APIKeyHeader, "sk_unknown")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="api"`, w.Header().Get("WWW-Authenticate"))

	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "invalid API key", body["error"])
	assert.Equal(t, "invalid_api_key", body["code"])

	_, touched := authn.calls()
	assert.Empty(t, touched)

	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "sk_unknown", "secrets must never be logged")
		}
	}
}

func TestAPIKeyValidatorInactiveKey(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Authorization", "Bearer sk_inactive")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "API key is inactive", body["error"])
	assert.Equal(t, "inactive_api_key", body["code"])

	_, touched := authn.calls()
	assert.Empty(t, touched)
}

func TestAPIKeyValidatorLookupFailure(t *testing.T) {
	authn := newFakeAuthenticator()
	authn.lookupErr = errors.New("connection refused")
	router := newAuthRouter(authn, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(APIKeyHeader, validSecret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "auth_unavailable", body["code"])
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestAPIKeyValidatorValidKey(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), true)
	want := authn.keys[validSecret].ID

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(APIKeyHeader, validSecret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, want.String(), body["api_key_id"])

	require.Eventually(t, func() bool {
		_, touched := authn.calls()
		return len(touched) == 1 && touched[0] == want
	}, time.Second, 10*time.Millisecond)

	authn.mu.Lock()
	assert.NoError(t, authn.touchCtxErr, "touch must not inherit the finished request's context")
	authn.mu.Unlock()
}

func TestAPIKeyValidatorTouchesThroughPool(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authn := newFakeAuthenticator()
	pool := workerpool.New(2)

	router := gin.New()
	router.Use(APIKeyValidator(authn, pool, time.Second, zap.NewNop()))
	router.GET("/resource", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set(APIKeyHeader, validSecret)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	pool.StopWait()

	_, touched := authn.calls()
	assert.Len(t, touched, 5)
}

func TestAPIKeyValidatorHeaderPrecedence(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(APIKeyHeader, validSecret)
	req.Header.Set("Authorization", "Bearer sk_unknown")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	presented, _ := authn.calls()
	assert.Equal(t, []string{validSecret}, presented)
}

func TestAPIKeyValidatorBearerFallback(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), true)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Authorization", "Bearer "+validSecret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["authenticated"])
}

func TestRequireAPIKey(t *testing.T) {
	authn := newFakeAuthenticator()
	router := newAuthRouter(authn, zap.NewNop(), true)

	t.Run("anonymous rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "not_authenticated", decodeBody(t, w)["code"])
	})

	t.Run("basic auth is anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.SetBasicAuth("admin", "secret")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "not_authenticated", decodeBody(t, w)["code"])
	})
}
