package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerMarksFailingTargetUnhealthy(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer flaky.Close()

	stable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer stable.Close()

	checker := NewChecker(Config{
		Targets:     []string{flaky.URL, stable.URL},
		MaxFailures: 2,
		Timeout:     time.Second,
	})
	ctx := context.Background()

	assert.Equal(t, Healthy, checker.OverallHealth())
	assert.Len(t, checker.HealthyTargets(), 2)

	healthy.Store(false)
	checker.CheckAll(ctx)
	assert.Len(t, checker.HealthyTargets(), 2, "one failure is below the threshold")

	checker.CheckAll(ctx)
	assert.Equal(t, []string{stable.URL}, checker.HealthyTargets())
	assert.Equal(t, Degraded, checker.OverallHealth())

	statuses := checker.AllStatus()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].IsHealthy)
	assert.Equal(t, 2, statuses[0].FailureCount)

	healthy.Store(true)
	checker.CheckAll(ctx)
	assert.Len(t, checker.HealthyTargets(), 2)
	assert.Equal(t, Healthy, checker.OverallHealth())
}

func TestCheckerUnreachableTarget(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	checker := NewChecker(Config{Targets: []string{url}, MaxFailures: 1, Timeout: time.Second})
	checker.CheckAll(context.Background())

	assert.Empty(t, checker.HealthyTargets())
	assert.Equal(t, Unhealthy, checker.OverallHealth())
}

func TestHealthStatusText(t *testing.T) {
	text, err := Degraded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(text))
}
