package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.True(t, cfg.Auth.RequireKey)
	assert.Equal(t, 5*time.Minute, cfg.Auth.CacheTTL)
	assert.Equal(t, 8, cfg.Auth.TouchWorkers)
	assert.Equal(t, "Authorization", cfg.Upstream.SecretHeader)
	assert.Equal(t, "round_robin", cfg.Upstream.Strategy)
	assert.True(t, cfg.RequestLog.Enabled)
	assert.Empty(t, cfg.Redis.GetRedisAddr())
	assert.False(t, cfg.AdminEnabled())
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "getoutvideo-gateway", cfg.Telemetry.ServiceName)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  environment: production
cors:
  allowed_origins:
    - https://app.example.com
upstream:
  targets:
    - http://backend:8001
  timeout: 90s
redis:
  host: localhost
telemetry:
  enabled: true
  otlp_endpoint: collector:4318
`), 0o600))

	t.Setenv("GOV_SERVER_PORT", "9100")
	t.Setenv("GOV_DATABASE_DSN", "postgres://gateway@localhost/gateway")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port, "environment overrides the file")
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"http://backend:8001"}, cfg.Upstream.Targets)
	assert.Equal(t, 90*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "postgres://gateway@localhost/gateway", cfg.Database.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4318", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "allow all in development",
			cfg:  Config{Server: ServerConfig{Environment: "development"}, CORS: CORSConfig{AllowAllOrigins: true}},
		},
		{
			name:    "allow all in production",
			cfg:     Config{Server: ServerConfig{Environment: "production"}, CORS: CORSConfig{AllowAllOrigins: true}},
			wantErr: true,
		},
		{
			name:    "wildcard origin",
			cfg:     Config{CORS: CORSConfig{AllowedOrigins: []string{"*"}}},
			wantErr: true,
		},
		{
			name:    "admin user without hash",
			cfg:     Config{Auth: AuthConfig{AdminUser: "operator"}},
			wantErr: true,
		},
		{
			name: "admin configured",
			cfg:  Config{Auth: AuthConfig{AdminUser: "operator", AdminPasswordHash: "$2a$10$hash"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
