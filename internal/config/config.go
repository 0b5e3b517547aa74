// Package config loads marketpulse settings from defaults, an optional YAML
// file, an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/marketpulse/internal/httputil"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Polygon  PolygonConfig `yaml:"polygon"`
	Cache    CacheConfig   `yaml:"cache"`
	Refresh  RefreshConfig `yaml:"refresh"`
	Archive  ArchiveConfig `yaml:"archive"`
	Logging  LoggingConfig `yaml:"logging"`
	Timezone string        `yaml:"timezone" env:"MARKET_TIMEZONE"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	Workers         int           `yaml:"workers" env:"WEB_CONCURRENCY"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    int           `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORSOrigins is read from CORS_ORIGINS as a comma separated list.
	CORSOrigins []string `yaml:"cors_origins"`
	// TrustedProxies is read from TRUSTED_PROXIES as a comma separated list
	// of IPs or CIDR ranges.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// PolygonConfig configures the upstream market data API.
type PolygonConfig struct {
	APIKey            string        `yaml:"api_key" env:"POLYGON_API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"POLYGON_BASE_URL"`
	Timeout           time.Duration `yaml:"timeout" env:"POLYGON_TIMEOUT"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" env:"POLYGON_FETCH_TIMEOUT"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"POLYGON_REQUESTS_PER_MINUTE"`
}

// CacheConfig configures the top gainers cache.
type CacheConfig struct {
	TTL            time.Duration `yaml:"ttl" env:"CACHE_TTL"`
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
}

// RefreshConfig configures the background cache warmer.
type RefreshConfig struct {
	Schedule string `yaml:"schedule" env:"REFRESH_SCHEDULE"`
}

// ArchiveConfig configures the optional PostgreSQL snapshot history.
type ArchiveConfig struct {
	DSN            string `yaml:"dsn" env:"DATABASE_URL"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE"`
	MaxOpenConns   int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            10000,
			Workers:         4,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitBurst:  20,
			CORSOrigins:     []string{"*"},
		},
		Polygon: PolygonConfig{
			BaseURL:      "https://api.polygon.io",
			Timeout:      10 * time.Second,
			FetchTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:            5 * time.Minute,
			RedisKeyPrefix: "marketpulse:",
		},
		Archive: ArchiveConfig{
			MigrateOnStart: true,
			MaxOpenConns:   5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Timezone: "America/New_York",
	}
}

// Load reads configuration using CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	return LoadFromFile(os.Getenv("CONFIG_FILE"))
}

// LoadFromFile layers the YAML file at path (skipped when empty), a .env file
// in the working directory and the environment over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	if raw, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(raw)
	}
	if raw, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		cfg.Server.TrustedProxies = splitList(raw)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server workers must be at least 1, got %d", c.Server.Workers)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Polygon.Timeout <= 0 {
		return fmt.Errorf("polygon timeout must be positive")
	}
	if c.Polygon.FetchTimeout <= 0 {
		return fmt.Errorf("polygon fetch timeout must be positive")
	}
	if c.Polygon.RequestsPerMinute < 0 {
		return fmt.Errorf("polygon requests per minute must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
