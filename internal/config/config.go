package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "GOV"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	RequestLog RequestLogConfig `mapstructure:"request_log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CORSConfig is handed to the CORS middleware at startup. AllowAllOrigins
// is rejected in production.
type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type AuthConfig struct {
	// RequireKey rejects anonymous callers on the video routes.
	RequireKey        bool          `mapstructure:"require_key"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	TouchTimeout      time.Duration `mapstructure:"touch_timeout"`
	TouchWorkers      int           `mapstructure:"touch_workers"`
	AdminUser         string        `mapstructure:"admin_user"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
}

type UpstreamConfig struct {
	Targets        []string      `mapstructure:"targets"`
	Secret         string        `mapstructure:"secret"`
	SecretHeader   string        `mapstructure:"secret_header"`
	Strategy       string        `mapstructure:"strategy"`
	HealthEndpoint string        `mapstructure:"health_endpoint"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxFailures    int           `mapstructure:"max_failures"`
	OpenTimeout    time.Duration `mapstructure:"open_timeout"`
}

type RequestLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// OTLPHeaders is a comma separated list of key=value pairs.
	OTLPHeaders string `mapstructure:"otlp_headers"`
}

func (r RedisConfig) GetRedisAddr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) AdminEnabled() bool {
	return c.Auth.AdminUser != "" && c.Auth.AdminPasswordHash != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allow_all_origins", false)

	v.SetDefault("auth.require_key", true)
	v.SetDefault("auth.cache_ttl", 5*time.Minute)
	v.SetDefault("auth.touch_timeout", 5*time.Second)
	v.SetDefault("auth.touch_workers", 8)
	v.SetDefault("auth.admin_user", "")
	v.SetDefault("auth.admin_password_hash", "")

	v.SetDefault("upstream.targets", []string{})
	v.SetDefault("upstream.secret", "")
	v.SetDefault("upstream.secret_header", "Authorization")
	v.SetDefault("upstream.strategy", "round_robin")
	v.SetDefault("upstream.health_endpoint", "/health")
	v.SetDefault("upstream.health_interval", 10*time.Second)
	v.SetDefault("upstream.timeout", 5*time.Minute)
	v.SetDefault("upstream.max_failures", 5)
	v.SetDefault("upstream.open_timeout", 30*time.Second)

	v.SetDefault("request_log.enabled", true)
	v.SetDefault("request_log.buffer_size", 1000)
	v.SetDefault("request_log.batch_size", 100)
	v.SetDefault("request_log.flush_interval", 5*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "getoutvideo-gateway")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_headers", "")
}

// Load reads .env (if present), then the optional config file, then
// GOV_* environment variables. An empty path searches ./config.{yaml,json}.
func Load(path string) (*Config, error) {
	// Load env if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.IsProduction() && c.CORS.AllowAllOrigins {
		return errors.New("cors.allow_all_origins is not permitted in production")
	}

	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			return errors.New(`cors.allowed_origins must list explicit origins, use allow_all_origins instead of "*"`)
		}
	}

	if (c.Auth.AdminUser == "") != (c.Auth.AdminPasswordHash == "") {
		return errors.New("auth.admin_user and auth.admin_password_hash must be set together")
	}

	return nil
}
