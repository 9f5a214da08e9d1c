package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the complete on-disk configuration for the timmatch binary.
type File struct {
	Match    Match          `yaml:"match"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds Postgres settings for fitted-model storage.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// CacheConfig holds Redis settings for the snapshot cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
}

// ServerConfig holds the fit/query server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-request deadline, bounds a fit
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	MemoryFits     int           `yaml:"memory_fits"` // fits kept in process when no database is configured
	RPS            float64       `yaml:"rps"`         // per-client request rate
	Burst          int           `yaml:"burst"`       // per-client burst
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // zerolog level name
	Format string `yaml:"format"` // "auto", "console" or "json"
}

// DefaultFile returns defaults for every section. Persistence is disabled
// until explicitly configured.
func DefaultFile() File {
	return File{
		Match: DefaultMatch(),
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Cache: CacheConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "timmatch:fit:",
			TTL:    24 * time.Hour,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   32 << 20,
			MemoryFits:     64,
			RPS:            20,
			Burst:          40,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// Load reads a YAML file over DefaultFile, applies environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (*File, error) {
	cfg := DefaultFile()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML bytes over DefaultFile without touching the environment.
func Parse(data []byte) (*File, error) {
	cfg := DefaultFile()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *File) {
	if dsn := os.Getenv("TIM_PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.Addr = addr
		cfg.Cache.Enabled = true
	}
	if portStr := os.Getenv("HTTP_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = p
		}
	}
}

// Validate checks the infrastructure sections. Match is validated separately
// because column names are often supplied on the command line.
func (f *File) Validate() error {
	if f.Database.Enabled && f.Database.DSN == "" {
		return fmt.Errorf("database dsn is required when enabled")
	}
	if f.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database query_timeout must be positive, got %s", f.Database.QueryTimeout)
	}
	if f.Cache.Enabled && f.Cache.Addr == "" {
		return fmt.Errorf("cache addr is required when enabled")
	}
	if f.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative, got %s", f.Cache.TTL)
	}
	if f.Server.Port <= 0 || f.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", f.Server.Port)
	}
	if f.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request_timeout must be positive, got %s", f.Server.RequestTimeout)
	}
	if f.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive, got %d", f.Server.MaxBodyBytes)
	}
	if f.Server.RPS <= 0 {
		return fmt.Errorf("server rps must be positive, got %g", f.Server.RPS)
	}
	if f.Server.Burst < 1 {
		return fmt.Errorf("server burst must be >= 1, got %d", f.Server.Burst)
	}
	switch f.Log.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log format must be auto, console or json, got %q", f.Log.Format)
	}
	return nil
}
