package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getoutvideo/gateway/internal/config"
	"github.com/getoutvideo/gateway/internal/handler"
	"github.com/getoutvideo/gateway/internal/middleware"
	"github.com/getoutvideo/gateway/internal/proxy"
	"github.com/getoutvideo/gateway/internal/repository"
	"github.com/getoutvideo/gateway/internal/response"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/getoutvideo/gateway/internal/storage"
	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "getoutvideo-gateway"

type Server struct {
	router        *gin.Engine
	config        *config.Config
	logger        *zap.Logger
	redis         *storage.RedisClient
	postgres      *storage.Postgres
	upstream      *proxy.Proxy
	apiKeyService *service.APIKeyService
	requestLogger *middleware.RequestLogger
	touchPool     *workerpool.WorkerPool
	apiKeyHandler *handler.APIKeyHandler
	videoHandler  *handler.VideoHandler
	systemHandler *handler.SystemHandler
	httpServer    *http.Server
	startTime     time.Time
}

// New wires the gateway. redis and upstream are optional: without redis
// every key lookup hits the database, without an upstream the video
// process route answers 503.
func New(cfg *config.Config, logger *zap.Logger, postgres *storage.Postgres, redis *storage.RedisClient, upstream *proxy.Proxy) (*Server, error) {
	if postgres == nil {
		return nil, errors.New("database is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	requestLogRepo := repository.NewRequestLogRepository(postgres)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, cfg.Auth.CacheTTL, logger)
	usageService := service.NewUsageService(requestLogRepo)

	touchWorkers := cfg.Auth.TouchWorkers
	if touchWorkers < 1 {
		touchWorkers = 1
	}

	s := &Server{
		router:        router,
		config:        cfg,
		logger:        logger,
		redis:         redis,
		postgres:      postgres,
		upstream:      upstream,
		apiKeyService: apiKeyService,
		touchPool:     workerpool.New(touchWorkers),
		apiKeyHandler: handler.NewAPIKeyHandler(apiKeyService, usageService, logger),
		startTime:     time.Now(),
	}

	// A nil *proxy.Proxy must not become a non-nil interface value.
	if upstream != nil {
		s.videoHandler = handler.NewVideoHandler(upstream, logger)
		s.systemHandler = handler.NewSystemHandler(upstream, logger)
	} else {
		s.videoHandler = handler.NewVideoHandler(nil, logger)
		s.systemHandler = handler.NewSystemHandler(nil, logger)
	}

	if cfg.RequestLog.Enabled {
		s.requestLogger = middleware.NewRequestLogger(
			requestLogRepo,
			cfg.RequestLog.BufferSize,
			cfg.RequestLog.BatchSize,
			cfg.RequestLog.FlushInterval,
			logger,
		)
	}

	if err := s.setupMiddleware(); err != nil {
		s.touchPool.Stop()
		return nil, err
	}

	s.setupRoutes()

	if s.requestLogger != nil {
		s.requestLogger.Start()
	}

	return s, nil
}

func (s *Server) setupMiddleware() error {
	corsMiddleware, err := middleware.CORS(s.config.CORS, s.config.Server.Environment)
	if err != nil {
		return err
	}

	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Tracing())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(corsMiddleware)
	// Registered ahead of the validator so rejected credentials are logged.
	if s.requestLogger != nil {
		s.router.Use(s.requestLogger.Middleware())
	}
	s.router.Use(middleware.APIKeyValidator(s.apiKeyService, s.touchPool, s.config.Auth.TouchTimeout, s.logger))

	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	video := s.router.Group("/api/v1/video")
	if s.config.Auth.RequireKey {
		video.Use(middleware.RequireAPIKey())
	}
	{
		video.POST("/process", s.videoHandler.Process)
		video.GET("/styles", s.videoHandler.Styles)
	}

	s.router.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "resource not found")
	})

	if !s.config.AdminEnabled() {
		s.logger.Warn("admin routes disabled: auth.admin_user and auth.admin_password_hash are not set")
		return
	}

	admin := s.router.Group("/admin", middleware.AdminAuth(s.config.Auth.AdminUser, s.config.Auth.AdminPasswordHash))
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.POST("/keys/:id/rotate", s.apiKeyHandler.Rotate)
		admin.GET("/keys/:id/requests", s.apiKeyHandler.Usage)
		admin.GET("/upstream", s.systemHandler.Upstream)
		admin.POST("/upstream/reset", s.systemHandler.ResetCircuitBreaker)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.postgres.Ping(ctx); err != nil {
		healthy = false
		checks["database"] = "unavailable"
		s.logger.Warn("database health check failed", zap.Error(err))
	} else {
		checks["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			healthy = false
			checks["redis"] = "unavailable"
			s.logger.Warn("redis health check failed", zap.Error(err))
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	if s.upstream != nil {
		checks["upstream"] = s.upstream.OverallHealth().String()
	} else {
		checks["upstream"] = "disabled"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	count, err := s.apiKeyService.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to count api keys", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, "failed to load status")
		return
	}

	upstreamTargets := 0
	if s.upstream != nil {
		upstreamTargets = len(s.upstream.Targets())
	}

	response.Success(c, http.StatusOK, gin.H{
		"gateway":          "running",
		"environment":      s.config.Server.Environment,
		"api_keys":         count,
		"require_key":      s.config.Auth.RequireKey,
		"cache_enabled":    s.redis != nil,
		"upstream_targets": upstreamTargets,
		"request_logging":  s.requestLogger != nil,
		"uptime":           time.Since(s.startTime).Seconds(),
		"timestamp":        time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Video processing holds the response open while the backend works.
		WriteTimeout: s.config.Upstream.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones, drains
// pending last-used writes and then flushes the request log queue.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	drained := make(chan struct{})
	go func() {
		s.touchPool.StopWait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for api key usage writes")
		if err == nil {
			err = ctx.Err()
		}
	}

	if s.requestLogger != nil {
		if stopErr := s.requestLogger.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
