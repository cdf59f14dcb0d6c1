package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker polls each upstream target's health endpoint and tracks which
// targets may receive traffic.
type Checker struct {
	mu             sync.RWMutex
	targets        []string
	healthStatus   map[string]*Status
	healthyTargets []string
	endpoint       string
	interval       time.Duration
	timeout        time.Duration
	maxFailures    int
	client         *http.Client
	logger         *zap.Logger
}

type Config struct {
	Targets     []string
	Endpoint    string        // default "/health"
	Interval    time.Duration // default 10s
	Timeout     time.Duration // per check, default 5s
	MaxFailures int           // consecutive failures before unhealthy, default 3
	Client      *http.Client
	Logger      *zap.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	checker := &Checker{
		targets:        append([]string(nil), cfg.Targets...),
		healthStatus:   make(map[string]*Status, len(cfg.Targets)),
		healthyTargets: append([]string(nil), cfg.Targets...),
		endpoint:       cfg.Endpoint,
		interval:       cfg.Interval,
		timeout:        cfg.Timeout,
		maxFailures:    cfg.MaxFailures,
		client:         cfg.Client,
		logger:         cfg.Logger,
	}

	// Targets are assumed healthy until a check says otherwise
	now := time.Now()
	for _, target := range cfg.Targets {
		checker.healthStatus[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: now,
		}
	}

	return checker
}

// Run checks all targets immediately and then every interval until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Info("starting upstream health checks",
		zap.Int("targets", len(c.targets)),
		zap.Duration("interval", c.interval),
	)

	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			c.logger.Info("upstream health checks stopped")
			return
		}
	}
}

func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}

	wg.Wait()
	c.updateHealthyTargets()
}

func (c *Checker) checkTarget(ctx context.Context, target string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.recordFailure(target)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(target)
		return
	}
	defer resp.Body.Close()

	// 2xx and 3xx count as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(target)
	} else {
		c.recordFailure(target)
	}
}

func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("upstream target recovered", zap.String("target", target))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("upstream target marked unhealthy",
			zap.String("target", target),
			zap.Int("failures", status.FailureCount),
		)
		status.IsHealthy = false
	}
}

func (c *Checker) updateHealthyTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.healthStatus[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	c.healthyTargets = healthy
}

func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.healthyTargets...)
}

// AllStatus returns a copy of every target's status
func (c *Checker) AllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		statuses = append(statuses, *c.healthStatus[target])
	}

	return statuses
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch healthy := len(c.healthyTargets); {
	case healthy == 0:
		return Unhealthy
	case healthy < len(c.targets):
		return Degraded
	default:
		return Healthy
	}
}
