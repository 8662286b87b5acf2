// Package config provides configuration for the relay server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Event queue
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// Trace recording; empty DatabaseURL disables it.
	DatabaseURL      string `yaml:"database_url" json:"database_url"`
	TraceCompression string `yaml:"trace_compression" json:"trace_compression"`

	// Source view
	PolicyFile string `yaml:"policy_file" json:"policy_file"`
	SourceRoot string `yaml:"source_root" json:"source_root"`

	// Run control
	ShutdownOnDisconnect bool `yaml:"shutdown_on_disconnect" json:"shutdown_on_disconnect"`
	CaptureOutput        bool `yaml:"capture_output" json:"capture_output"`
	StopGraceMs          int  `yaml:"stop_grace_ms" json:"stop_grace_ms"`

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// ConfigFile is the file the settings above were read from, if any.
	ConfigFile string `yaml:"-" json:"-"`
}

// Load loads configuration from environment variables, then from the
// config file named by BELEX_DBG_CONFIG if set.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                 getEnv("BELEX_DBG_HOST", "0.0.0.0"),
		Port:                 getEnvInt("BELEX_DBG_PORT", 9803),
		QueueCapacity:        getEnvInt("BELEX_DBG_QUEUE_CAPACITY", 128),
		DatabaseURL:          getEnv("BELEX_DBG_DATABASE_URL", ""),
		TraceCompression:     getEnv("BELEX_DBG_TRACE_COMPRESSION", "zstd"),
		PolicyFile:           getEnv("BELEX_DBG_POLICY_FILE", ""),
		SourceRoot:           getEnv("BELEX_DBG_SOURCE_ROOT", ""),
		ShutdownOnDisconnect: getEnvBool("BELEX_DBG_SHUTDOWN_ON_DISCONNECT", true),
		CaptureOutput:        getEnvBool("BELEX_DBG_CAPTURE_OUTPUT", true),
		StopGraceMs:          getEnvInt("BELEX_DBG_STOP_GRACE_MS", 2000),
		LogLevel:             getEnv("BELEX_DBG_LOG_LEVEL", "info"),
		LogFormat:            getEnv("BELEX_DBG_LOG_FORMAT", "text"),
	}
	if path := os.Getenv("BELEX_DBG_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile overlays the settings present in a YAML or JSONC file. Keys
// absent from the file keep their current values. Files ending in .json
// or .jsonc are read as JSONC, anything else as YAML.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// Validate checks the settings for values the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	switch c.TraceCompression {
	case "none", "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("unknown trace_compression %q", c.TraceCompression))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.StopGraceMs < 0 {
		errs = append(errs, fmt.Errorf("stop_grace_ms must not be negative, got %d", c.StopGraceMs))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StopGrace returns the SIGTERM to SIGKILL delay for the program.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
