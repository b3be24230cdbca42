package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config describes the optional application level configuration file.
type Config struct {
	Threads int          `json:"threads" toml:"threads"`
	Log     LogConfig    `json:"log" toml:"log"`
	Report  ReportConfig `json:"report" toml:"report"`
}

// LogConfig controls where logs are written.
type LogConfig struct {
	File  string `json:"file" toml:"file"`
	Level string `json:"level" toml:"level"`
}

// ReportConfig controls where finished reports are published.
type ReportConfig struct {
	KeyPrefix string   `json:"key_prefix" toml:"key_prefix"`
	S3        S3Config `json:"s3" toml:"s3"`
}

// S3Config holds the options for accessing the object store.
type S3Config struct {
	Host            string `json:"host" toml:"host"`
	Bucket          string `json:"bucket" toml:"bucket"`
	Region          string `json:"region" toml:"region"`
	AccessKeyID     string `json:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" toml:"secret_access_key"`
	SessionToken    string `json:"session_token" toml:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style" toml:"force_path_style"`
}

// Enabled reports whether an upload target was configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// LoadFirst tries to load configuration from the given paths, returning the
// first successfully decoded configuration. When none of the paths exist an
// empty configuration is returned.
func LoadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return &Config{}, nil
}

// Load reads configuration from a single json or toml file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, Errorf("decode config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs basic validation of the configuration.
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return NewError("config.threads must not be negative")
	}
	if c.Report.S3.Bucket != "" && c.Report.S3.Host == "" && c.Report.S3.Region == "" {
		return NewError("config.report.s3 requires host or region")
	}
	return nil
}

// Error marks a configuration or usage problem.
type Error struct {
	err error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// NewError builds a configuration error from a message.
func NewError(msg string) error {
	return &Error{err: errors.New(msg)}
}

// Errorf builds a configuration error with fmt.Errorf semantics.
func Errorf(format string, args ...interface{}) error {
	return &Error{err: fmt.Errorf(format, args...)}
}

// IsError reports whether err is, or wraps, a configuration error.
func IsError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}
