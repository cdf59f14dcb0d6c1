package telemetry

import (
	"context"
	"testing"

	"github.com/getoutvideo/gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret , x-team=video,broken, =empty,novalue=")

	assert.Equal(t, map[string]string{
		"api-key": "secret",
		"x-team":  "video",
	}, headers)
	assert.Empty(t, ParseHeaders(""))
}

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test", "dev", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
}
