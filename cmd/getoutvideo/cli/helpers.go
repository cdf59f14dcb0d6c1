package cli

import (
	"fmt"

	"github.com/getoutvideo/gateway/internal/config"
	"github.com/getoutvideo/gateway/internal/logger"
	"github.com/getoutvideo/gateway/internal/repository"
	"github.com/getoutvideo/gateway/internal/service"
	"github.com/getoutvideo/gateway/internal/storage"
	"go.uber.org/zap"
)

// store bundles the connections the management commands share.
type store struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *storage.Postgres
	redis  *storage.RedisClient
}

// openStore loads the configuration, connects to the database (migrating
// it) and, when configured, to Redis so cached keys can be invalidated.
func openStore() (*store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Server.Environment)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := storage.Connect(cfg.Database.DSN, false)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s := &store{cfg: cfg, logger: log, db: db}

	if addr := cfg.Redis.GetRedisAddr(); addr != "" {
		redis, err := storage.NewRedis(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis is configured but unreachable, cached keys could not be invalidated: %w", err)
		}
		s.redis = redis
	}

	return s, nil
}

func (s *store) keyService() *service.APIKeyService {
	return service.NewAPIKeyService(repository.NewAPIKeyRepository(s.db), s.redis, s.cfg.Auth.CacheTTL, s.logger)
}

func (s *store) usageService() *service.UsageService {
	return service.NewUsageService(repository.NewRequestLogRepository(s.db))
}

func (s *store) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.db.Close()
	_ = s.logger.Sync()
}
