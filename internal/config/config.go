// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

// Package config loads vitalog configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/vitalog/vitalog/internal/xdg"
)

// Defaults applied before any file or flag source.
const (
	DefaultHTTPAddr    = ":4000"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultBaseURL     = "http://localhost:4000"
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
)

// Config holds the full runtime configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL DSN. Required for serve and migrate.
	DatabaseURL string `koanf:"database_url"`

	// HTTPAddr is the application listen address.
	HTTPAddr string `koanf:"http_addr"`

	// MetricsAddr is the metrics/health listen address (empty disables it).
	MetricsAddr string `koanf:"metrics_addr"`

	// BaseURL is the external URL used to build links in notification mail.
	BaseURL string `koanf:"base_url"`

	// SecretKeyBase signs session and remember-me cookies. Required for serve.
	SecretKeyBase string `koanf:"secret_key_base"`

	LogFormat string `koanf:"log_format"`
	LogLevel  string `koanf:"log_level"`

	Mail MailConfig `koanf:"mail"`
}

// MailConfig selects and configures the outbound notifier.
type MailConfig struct {
	// Driver is "log" or "api".
	Driver string `koanf:"driver"`

	// From is the sender address used by the API driver.
	From string `koanf:"from"`

	// Endpoint and APIKey configure the HTTP mail API driver.
	Endpoint string `koanf:"endpoint"`
	APIKey   string `koanf:"api_key"`
}

// Load reads configuration in precedence order: defaults, then the YAML
// file at path (or the XDG default location when path is empty), then the
// given flag set. A missing file at the default location is not an error;
// an explicitly requested file must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"http_addr":    DefaultHTTPAddr,
		"metrics_addr": DefaultMetricsAddr,
		"base_url":     DefaultBaseURL,
		"log_format":   DefaultLogFormat,
		"log_level":    DefaultLogLevel,
		"mail.driver":  "log",
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(xdg.ConfigDir(), "config.yaml")
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", path).
				With("operation", "load config file").
				Wrap(err)
		}
	}

	// DATABASE_URL is the one setting commonly supplied by the environment.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := k.Set("database_url", dsn); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", "database_url").Wrap(err)
		}
	}

	if flags != nil {
		// Flag names use dashes; koanf keys use underscores.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	return &cfg, nil
}

// ValidateServe checks the settings the serve command cannot run without.
func (c *Config) ValidateServe() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if c.SecretKeyBase == "" {
		return oops.Code("CONFIG_INVALID").Errorf("secret_key_base is required")
	}
	if len(c.SecretKeyBase) < 32 {
		return oops.Code("CONFIG_INVALID").Errorf("secret_key_base must be at least 32 bytes")
	}
	return nil
}
