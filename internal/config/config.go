package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolution modes for virtual_point inputs.
const (
	ResolutionScheduled = "scheduled"
	ResolutionEager     = "eager"
)

// Data point sources.
const (
	DataPointSourceRedis    = "redis"
	DataPointSourcePostgres = "postgres"
	DataPointSourceStatic   = "static"
)

// Config is the service configuration. Values come from defaults, then the
// YAML file named by VPENGINE_CONFIG, then environment variables.
type Config struct {
	AppEnv          string          `yaml:"app_env"`
	HTTPAddr        string          `yaml:"http_addr"`
	DefaultTenantID int64           `yaml:"default_tenant_id"`
	Database        DatabaseConfig  `yaml:"database"`
	Redis           RedisConfig     `yaml:"redis"`
	DataPoints      DataPointConfig `yaml:"data_points"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	Results         ResultsConfig   `yaml:"results"`
	History         HistoryConfig   `yaml:"history"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	CORSOrigins     []string        `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres | sqlite
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Name       string `yaml:"name"`
	Password   string `yaml:"password"`
	SQLitePath string `yaml:"sqlite_path"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type DataPointConfig struct {
	Source   string        `yaml:"source"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// MaxAge rejects readings older than this; zero accepts any age.
	MaxAge time.Duration `yaml:"max_age"`
}

type SchedulerConfig struct {
	ResolutionMode    string        `yaml:"resolution_mode"`
	OnChangeDebounce  time.Duration `yaml:"on_change_debounce"`
	MaxConcurrentRuns int64         `yaml:"max_concurrent_runs"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	MaxSteps          int           `yaml:"max_steps"`
}

type ResultsConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Publish       bool          `yaml:"publish"`
}

type HistoryConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
	// IdleTTL drops the bucket of a client that has been quiet this long.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AppEnv:          "development",
		HTTPAddr:        ":8080",
		DefaultTenantID: 1,
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       "5432",
			User:       "postgres",
			Name:       "vpengine",
			SQLitePath: "vpengine.db",
		},
		Redis: RedisConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    "6379",
		},
		DataPoints: DataPointConfig{
			Source:   DataPointSourceRedis,
			CacheTTL: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			ResolutionMode:    ResolutionScheduled,
			OnChangeDebounce:  200 * time.Millisecond,
			MaxConcurrentRuns: 32,
			DefaultTimeout:    5 * time.Second,
			MaxSteps:          100000,
		},
		Results: ResultsConfig{
			BatchSize:     100,
			FlushInterval: time.Second,
			Publish:       true,
		},
		History: HistoryConfig{
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
			IdleTTL:   10 * time.Minute,
		},
		CORSOrigins: []string{"https://*", "http://localhost:3000"},
	}
}

// Load builds the configuration from defaults, file and environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("VPENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.AppEnv = getenvDefault("APP_ENV", cfg.AppEnv)
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DefaultTenantID = getenvInt64Default("DEFAULT_TENANT_ID", cfg.DefaultTenantID)

	cfg.Database.Driver = getenvDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getenvDefault("PG_HOST", cfg.Database.Host)
	cfg.Database.Port = getenvDefault("PG_PORT", cfg.Database.Port)
	cfg.Database.User = getenvDefault("PG_USER", cfg.Database.User)
	cfg.Database.Name = getenvDefault("PG_DB", cfg.Database.Name)
	cfg.Database.Password = getenvDefault("PG_PASSWORD", cfg.Database.Password)
	cfg.Database.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Database.SQLitePath)

	cfg.Redis.Enabled = getenvBoolDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Host = getenvDefault("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getenvDefault("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.DataPoints.Source = getenvDefault("DATAPOINT_SOURCE", cfg.DataPoints.Source)
	cfg.DataPoints.CacheTTL = getenvDurationDefault("DATAPOINT_CACHE_TTL", cfg.DataPoints.CacheTTL)

	cfg.Scheduler.ResolutionMode = getenvDefault("RESOLUTION_MODE", cfg.Scheduler.ResolutionMode)
	cfg.Scheduler.OnChangeDebounce = getenvDurationDefault("ON_CHANGE_DEBOUNCE", cfg.Scheduler.OnChangeDebounce)
	cfg.Scheduler.MaxConcurrentRuns = getenvInt64Default("MAX_CONCURRENT_RUNS", cfg.Scheduler.MaxConcurrentRuns)

	cfg.History.Retention = getenvDurationDefault("HISTORY_RETENTION", cfg.History.Retention)

	if origins := splitCSV(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("config: unknown database driver %q", c.Database.Driver))
	}
	switch c.DataPoints.Source {
	case DataPointSourceRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("config: data point source redis requires redis.enabled"))
		}
	case DataPointSourcePostgres:
		if c.Database.Driver != "postgres" {
			errs = append(errs, errors.New("config: data point source postgres requires the postgres driver"))
		}
	case DataPointSourceStatic:
	default:
		errs = append(errs, fmt.Errorf("config: unknown data point source %q", c.DataPoints.Source))
	}
	switch c.Scheduler.ResolutionMode {
	case ResolutionScheduled, ResolutionEager:
	default:
		errs = append(errs, fmt.Errorf("config: unknown resolution mode %q", c.Scheduler.ResolutionMode))
	}
	if c.Scheduler.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("config: scheduler.max_concurrent_runs must be positive"))
	}
	if c.Scheduler.DefaultTimeout <= 0 || c.Scheduler.DefaultTimeout > time.Minute {
		errs = append(errs, errors.New("config: scheduler.default_timeout must be within (0, 1m]"))
	}
	if c.Scheduler.MaxSteps < 1 {
		errs = append(errs, errors.New("config: scheduler.max_steps must be positive"))
	}
	if c.Results.BatchSize < 1 || c.Results.FlushInterval <= 0 {
		errs = append(errs, errors.New("config: results batch size and flush interval must be positive"))
	}
	if c.DefaultTenantID < 1 {
		errs = append(errs, errors.New("config: default_tenant_id must be positive"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt64Default(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
