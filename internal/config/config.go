// Package config provides YAML-based configuration loading for lifeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level lifeline configuration, loaded from lifeline.yaml.
type Config struct {
	Language   string           `yaml:"language"`
	Database   DatabaseConfig   `yaml:"database"`
	Retry      RetryConfig      `yaml:"retry"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Server     ServerConfig     `yaml:"server"`
	Sweep      SweepConfig      `yaml:"sweep"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig holds connection settings for the backing store.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // mysql or sqlite
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	Path        string `yaml:"path"` // sqlite only
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RetryConfig controls how transient store errors are retried.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// TranscriptConfig sizes the background transcript queue.
type TranscriptConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int   `yaml:"port"`
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// SweepConfig controls the stale-session sweeper.
type SweepConfig struct {
	Schedule  string        `yaml:"schedule"`
	IdleAfter time.Duration `yaml:"idle_after"`
}

// AMQPConfig configures dispatch event publishing. An empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Driver names accepted in database.driver.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// EnvFiles are loaded, in order, before the config file is read. Variables
// already present in the environment win.
var EnvFiles = []string{".env.local", ".env"}

// Load reads a YAML config file from path and returns a validated Config.
// Env files next to the config file are loaded first so ${VAR} references in
// the YAML resolve.
func Load(path string) (*Config, error) {
	LoadEnv(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadEnv loads EnvFiles from dir, skipping any that do not exist.
func LoadEnv(dir string) {
	for _, name := range EnvFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Parse expands environment references in data, unmarshals it and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "Tamil"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "lifeline"
	}
	if c.Database.Path == "" {
		c.Database.Path = "lifeline.db"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Transcript.QueueSize == 0 {
		c.Transcript.QueueSize = 256
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = 64 << 10
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/5 * * * *"
	}
	if c.Sweep.IdleAfter == 0 {
		c.Sweep.IdleAfter = 30 * time.Minute
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "lifeline.dispatch"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (use mysql or sqlite)", c.Database.Driver))
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port %d is out of range", c.Database.Port))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, "retry.base_delay must not be negative")
	}
	if c.Transcript.QueueSize < 1 {
		errs = append(errs, "transcript.queue_size must be at least 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweep.schedule %q: %v", c.Sweep.Schedule, err))
	}
	if c.Sweep.IdleAfter < 0 {
		errs = append(errs, "sweep.idle_after must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (use text or json)", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
