package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "tasker.db"
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond

	envConfigFile   = "TASKER_CONFIG"
	envListenAddr   = "TASKER_LISTEN_ADDR"
	envDBPath       = "TASKER_DB_PATH"
	envLogLevel     = "TASKER_LOG_LEVEL"
	envWorkers      = "TASKER_WORKERS"
	envBatchSize    = "TASKER_BATCH_SIZE"
	envMaxRetries   = "TASKER_MAX_RETRIES"
	envRetryBackoff = "TASKER_RETRY_BACKOFF"
	envOTLPEndpoint = "TASKER_OTLP_ENDPOINT"
	envPolicyFile   = "TASKER_POLICY_FILE"
)

// Config holds application configuration loaded from an optional YAML file and
// environment variables.
type Config struct {
	// File is the YAML file the configuration was read from, if any.
	File string

	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	Workers      int
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	OTLPEndpoint string
	PolicyFile   string
}

// fileConfig is the YAML shape of Config.
type fileConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	Workers      *int   `yaml:"workers"`
	BatchSize    *int   `yaml:"batch_size"`
	MaxRetries   *int   `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	PolicyFile   string `yaml:"policy_file"`
}

// Default returns the built-in configuration. Zero Workers means one per CPU.
func Default() Config {
	return Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		MaxRetries:   defaultMaxRetries,
		RetryBackoff: defaultRetryBackoff,
	}
}

// Load reads the file named by TASKER_CONFIG, if set, and applies environment
// overrides on top.
func Load() (Config, error) {
	return LoadFile(os.Getenv(envConfigFile))
}

// LoadFile reads configuration from path, which may be empty, then applies
// environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
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

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.File = path

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.Workers != nil {
		c.Workers = *fc.Workers
	}
	if fc.BatchSize != nil {
		c.BatchSize = *fc.BatchSize
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryBackoff != "" {
		d, err := time.ParseDuration(fc.RetryBackoff)
		if err != nil {
			return fmt.Errorf("parse retry_backoff: %w", err)
		}
		c.RetryBackoff = d
	}
	if fc.OTLPEndpoint != "" {
		c.OTLPEndpoint = fc.OTLPEndpoint
	}
	if fc.PolicyFile != "" {
		c.PolicyFile = fc.PolicyFile
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envOTLPEndpoint); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv(envPolicyFile); v != "" {
		c.PolicyFile = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{envWorkers, &c.Workers},
		{envBatchSize, &c.BatchSize},
		{envMaxRetries, &c.MaxRetries},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.env, err)
		}
		*i.dst = n
	}

	if v := os.Getenv(envRetryBackoff); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRetryBackoff, err)
		}
		c.RetryBackoff = d
	}
	return nil
}

// Validate rejects negative sizes and durations.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}
	if c.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry_backoff must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w. Pass a *slog.LevelVar to
// change the level at runtime.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
