package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getoutvideo/gateway/internal/circuitbreaker"
	"github.com/getoutvideo/gateway/internal/config"
	"github.com/getoutvideo/gateway/internal/healthcheck"
	"github.com/getoutvideo/gateway/internal/logger"
	"github.com/getoutvideo/gateway/internal/proxy"
	"github.com/getoutvideo/gateway/internal/server"
	"github.com/getoutvideo/gateway/internal/storage"
	"github.com/getoutvideo/gateway/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(version string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg, version)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides server.port)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, version string) error {
	log, err := logger.New(cfg.Server.Environment)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Server.Environment, version, log)
	if err != nil {
		return fmt.Errorf("configure telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("failed to flush telemetry", zap.Error(err))
		}
	}()

	db, err := storage.Connect(cfg.Database.DSN, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("connected to database")

	var redis *storage.RedisClient
	if addr := cfg.Redis.GetRedisAddr(); addr != "" {
		redis, err = storage.NewRedis(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, api key cache disabled", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
			log.Info("connected to redis", zap.String("addr", addr))
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var upstream *proxy.Proxy
	if len(cfg.Upstream.Targets) > 0 {
		upstream, err = proxy.New(proxy.Config{
			Targets:              cfg.Upstream.Targets,
			LoadBalancerStrategy: cfg.Upstream.Strategy,
			Secret:               cfg.Upstream.Secret,
			SecretHeader:         cfg.Upstream.SecretHeader,
			Timeout:              cfg.Upstream.Timeout,
			CircuitBreaker: circuitbreaker.Config{
				MaxFailures: cfg.Upstream.MaxFailures,
				OpenTimeout: cfg.Upstream.OpenTimeout,
			},
			HealthCheck: healthcheck.Config{
				Endpoint: cfg.Upstream.HealthEndpoint,
				Interval: cfg.Upstream.HealthInterval,
			},
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("configure upstream: %w", err)
		}
		upstream.Start(ctx)
	} else {
		log.Warn("no upstream targets configured, video processing is disabled")
	}

	srv, err := server.New(cfg, log, db, redis, upstream)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
