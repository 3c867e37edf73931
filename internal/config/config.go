// Package config loads YAML configuration with defaults and
// validation. Environment variables override the secrets so
// credentials stay out of checked-in config files.
package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"daytrade-core/internal/compliance"
	"daytrade-core/internal/engine"
	"daytrade-core/internal/logging"
	"daytrade-core/internal/storage/postgres"
)

// Clickhouse holds the optional decision-audit sink settings.
type Clickhouse struct {
	// DSN enables the audit sink when non-empty.
	DSN string `yaml:"dsn"`
}

// Config is the root configuration for the engine.
type Config struct {
	Logging    logging.Config    `yaml:"logging"`
	Compliance compliance.Config `yaml:"compliance"`
	Storage    postgres.Config   `yaml:"storage"`
	Clickhouse Clickhouse        `yaml:"clickhouse"`
	Engine     engine.Config     `yaml:"engine"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and
// validates the result. An empty path yields the default config.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CORE_DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("CORE_CLICKHOUSE_URL"); v != "" {
		c.Clickhouse.DSN = v
	}
	if v := os.Getenv("CORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CORE_METRICS_ADDR"); v != "" {
		c.Engine.MetricsAddr = v
	}

	return c, nil
}
