// Package config loads service configuration from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at the YAML file.
const FileEnv = "LARDER_CONFIG"

// Config is the full service configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Resolver ResolverConfig `yaml:"resolver"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type AppConfig struct {
	Env             string        `yaml:"env"`
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	URL              string        `yaml:"url"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// AutoMigrate applies pending migrations on server start.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig is optional; an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig is optional; an empty URL disables event fan-out.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

type ResolverConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type OutboxConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	RetainPublished     time.Duration `yaml:"retain_published"`
}

type HTTPConfig struct {
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	IdempotencyEnabled bool          `yaml:"idempotency_enabled"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		App:      AppConfig{Env: "development", Port: "8080", ShutdownTimeout: 30 * time.Second},
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{MaxConns: 20, MinConns: 2, StatementTimeout: 30 * time.Second},
		Redis:    RedisConfig{CacheTTL: 10 * time.Minute},
		NATS:     NATSConfig{Stream: "LARDER"},
		Resolver: ResolverConfig{MaxAttempts: 3},
		Outbox: OutboxConfig{
			BatchSize:           100,
			PollInterval:        500 * time.Millisecond,
			MaintenanceInterval: time.Hour,
			RetainPublished:     7 * 24 * time.Hour,
		},
		HTTP: HTTPConfig{ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second, IdempotencyEnabled: true},
	}
}

// Development reports whether the service runs in development mode.
func (c Config) Development() bool {
	return c.App.Env == "development"
}

// Load reads .env, the YAML file named by LARDER_CONFIG and the
// environment, then validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.App.Port, "APP_PORT")
	setString(&c.App.Env, "APP_ENV")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.NATS.URL, "NATS_URL")

	var errs []error
	errs = append(errs,
		setInt(&c.Resolver.MaxAttempts, "RESOLVER_MAX_ATTEMPTS"),
		setInt(&c.Outbox.BatchSize, "OUTBOX_BATCH_SIZE"),
		setDuration(&c.Outbox.PollInterval, "OUTBOX_POLL_INTERVAL"),
		setDuration(&c.Database.StatementTimeout, "STATEMENT_TIMEOUT"),
		setBool(&c.HTTP.IdempotencyEnabled, "IDEMPOTENCY_ENABLED"),
		setBool(&c.Database.AutoMigrate, "DATABASE_AUTO_MIGRATE"),
	)
	return errors.Join(errs...)
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Resolver.MaxAttempts < 1 || c.Resolver.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("resolver max attempts must be in [1,10], got %d", c.Resolver.MaxAttempts))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox batch size must be positive, got %d", c.Outbox.BatchSize))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.App.Port == "" {
		errs = append(errs, errors.New("APP_PORT is empty"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
