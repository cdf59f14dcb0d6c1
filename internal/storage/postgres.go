package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Postgres struct {
	DB *gorm.DB
}

// dsn - Data Source Name
func NewPostgres(dsn string, debug bool) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	return Open(postgres.Open(dsn), level)
}

// SQLitePrefix marks a DSN that points at a local SQLite file instead of
// PostgreSQL, e.g. "sqlite:./gateway.db".
const SQLitePrefix = "sqlite:"

// Connect opens PostgreSQL, or SQLite when dsn carries SQLitePrefix.
func Connect(dsn string, debug bool) (*Postgres, error) {
	path, isSQLite := strings.CutPrefix(dsn, SQLitePrefix)
	if !isSQLite {
		return NewPostgres(dsn, debug)
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	return Open(sqlite.Open(path), level)
}

// Open connects through any gorm dialector. Tests use it with SQLite.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*Postgres, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		// Unknown keys are an expected lookup result, not an error to log.
		Logger: logger.New(log.New(os.Stderr, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Postgres{DB: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

func (p *Postgres) AutoMigrate() error {
	return p.DB.AutoMigrate(
		&models.APIKey{},
		&models.RequestLog{},
	)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
