// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/bizledger/internal/retry"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable that points at the YAML file.
const FileEnv = "BIZLEDGER_CONFIG"

// IngestHeadroom separates an upload's processing deadline from the server's
// WriteTimeout so the response still fits in the write window.
const IngestHeadroom = 15 * time.Second

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StorageConfig enables archiving of original uploads when Bucket is set.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
}

// AuditConfig enables the BigQuery ingestion audit when Project is set.
type AuditConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ReconcileConfig struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{MaxConns: 10},
		LLM: LLMConfig{
			Model:       "gemini-2.5-flash",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxJitter:   time.Second,
			Timeout:     45 * time.Second,
		},
		Audit:     AuditConfig{Dataset: "bizledger"},
		Log:       LogConfig{Level: "info", Format: "console"},
		Reconcile: ReconcileConfig{Schedule: "*/30 * * * *", Timezone: "UTC"},
		Jobs:      JobsConfig{Workers: 5, QueueSize: 100},
	}
}

// IngestTimeout is the deadline for processing one upload, or 0 when the
// server has no write timeout.
func (s ServerConfig) IngestTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return 0
	}
	return s.WriteTimeout - IngestHeadroom
}

// RetryPolicy is the retry policy for model calls.
func (l LLMConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = l.MaxAttempts
	p.BaseDelay = l.BaseDelay
	p.MaxJitter = l.MaxJitter
	return p
}

// WorstCase is the longest the model calls of one upload can take.
func (l LLMConfig) WorstCase() time.Duration {
	return l.RetryPolicy().Budget(l.Timeout)
}

// Load reads the YAML file named by BIZLEDGER_CONFIG, if any, then applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	return load(true)
}

// LoadWithoutDatabase is Load for tools that never open the database.
func LoadWithoutDatabase() (*Config, error) {
	return load(false)
}

func load(requireDB bool) (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(requireDB); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Server.Port = getEnv("PORT", c.Server.Port)
	if c.Server.WriteTimeout, err = getDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout); err != nil {
		return err
	}
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	if c.Database.MaxConns, err = getInt32Env("DATABASE_MAX_CONNS", c.Database.MaxConns); err != nil {
		return err
	}

	c.LLM.APIKey = getEnv("GEMINI_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("GEMINI_MODEL", c.LLM.Model)
	if c.LLM.MaxAttempts, err = getIntEnv("LLM_MAX_ATTEMPTS", c.LLM.MaxAttempts); err != nil {
		return err
	}
	if c.LLM.BaseDelay, err = getDurationEnv("LLM_BASE_DELAY", c.LLM.BaseDelay); err != nil {
		return err
	}
	if c.LLM.MaxJitter, err = getDurationEnv("LLM_MAX_JITTER", c.LLM.MaxJitter); err != nil {
		return err
	}
	if c.LLM.Timeout, err = getDurationEnv("LLM_TIMEOUT", c.LLM.Timeout); err != nil {
		return err
	}

	c.Storage.Bucket = getEnv("GCS_BUCKET", c.Storage.Bucket)
	c.Audit.Project = getEnv("BIGQUERY_PROJECT", c.Audit.Project)
	c.Audit.Dataset = getEnv("BIGQUERY_DATASET", c.Audit.Dataset)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Reconcile.Schedule = getEnv("AUTO_RECONCILE_SCHEDULE", c.Reconcile.Schedule)
	c.Reconcile.Timezone = getEnv("AUTO_RECONCILE_TIMEZONE", c.Reconcile.Timezone)

	if c.Jobs.Workers, err = getIntEnv("JOB_WORKERS", c.Jobs.Workers); err != nil {
		return err
	}
	if c.Jobs.QueueSize, err = getIntEnv("JOB_QUEUE_SIZE", c.Jobs.QueueSize); err != nil {
		return err
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireDB bool) error {
	var errs []error

	if requireDB && strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid PORT %q", c.Server.Port))
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be at least 1"))
	}
	if c.LLM.BaseDelay < 0 || c.LLM.MaxJitter < 0 {
		errs = append(errs, errors.New("LLM delays must not be negative"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.Server.WriteTimeout > 0 {
		if c.Server.WriteTimeout <= IngestHeadroom {
			errs = append(errs, fmt.Errorf("SERVER_WRITE_TIMEOUT must be longer than %s", IngestHeadroom))
		} else if c.LLM.Timeout > 0 && c.LLM.MaxAttempts >= 1 {
			if worst := c.LLM.WorstCase(); worst >= c.Server.IngestTimeout() {
				errs = append(errs, fmt.Errorf(
					"model calls may take up to %s (LLM_MAX_ATTEMPTS x LLM_TIMEOUT plus backoff), which must stay below SERVER_WRITE_TIMEOUT minus %s (%s)",
					worst, IngestHeadroom, c.Server.IngestTimeout()))
			}
		}
	}
	if c.Jobs.Workers < 1 || c.Jobs.QueueSize < 1 {
		errs = append(errs, errors.New("JOB_WORKERS and JOB_QUEUE_SIZE must be positive"))
	}
	if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid AUTO_RECONCILE_TIMEZONE %q: %w", c.Reconcile.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid AUTO_RECONCILE_SCHEDULE %q: %w", c.Reconcile.Schedule, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ArchiveEnabled reports whether uploads are copied to object storage.
func (c *Config) ArchiveEnabled() bool { return c.Storage.Bucket != "" }

// AuditEnabled reports whether ingestion runs are recorded in BigQuery.
func (c *Config) AuditEnabled() bool { return c.Audit.Project != "" }

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt32Env(key string, defaultValue int32) (int32, error) {
	n, err := getIntEnv(key, int(defaultValue))
	return int32(n), err
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
