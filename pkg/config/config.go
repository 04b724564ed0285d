package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-glue/pkg/logging"
)

// Config represents the glue binary configuration
type Config struct {
	// Manifest is the path of the manifest file to compose.
	Manifest string `yaml:"manifest" envconfig:"MANIFEST"`
	// RelativeTo is the base directory for relative plugin identifiers.
	// Defaults to the directory holding the manifest.
	RelativeTo string         `yaml:"relative_to" envconfig:"RELATIVE_TO"`
	Logging    logging.Config `yaml:"logging" envconfig:"LOGGING"`
	// ShutdownTimeout bounds graceful shutdown (seconds).
	ShutdownTimeout int `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables have the highest priority
	if err := envconfig.Process("GLUE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Manifest:        "manifest.yaml",
		Logging:         logging.DefaultConfig(),
		ShutdownTimeout: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ShutdownTimeout < 1 {
		return fmt.Errorf("invalid shutdown timeout: %d", c.ShutdownTimeout)
	}
	if c.RelativeTo != "" && !filepath.IsAbs(c.RelativeTo) {
		return fmt.Errorf("relative_to must be an absolute path: %s", c.RelativeTo)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// ResolveRelativeTo returns the base directory for plugin identifiers.
func (c *Config) ResolveRelativeTo() (string, error) {
	if c.RelativeTo != "" {
		return c.RelativeTo, nil
	}
	if c.Manifest == "" {
		return "", errors.New("no manifest configured")
	}
	abs, err := filepath.Abs(c.Manifest)
	if err != nil {
		return "", err
	}
	return filepath.Dir(abs), nil
}

// ShutdownDuration returns ShutdownTimeout as a duration.
func (c *Config) ShutdownDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
