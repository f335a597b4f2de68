// Package config loads the nativeintercept YAML configuration.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the nativeintercept configuration.
type Config struct {
	// ClassPath is the directory user classes are loaded from.
	ClassPath string `yaml:"classpath"`
	// Jmod is the java.base.jmod to load JDK classes from. Empty means
	// autodetect.
	Jmod string `yaml:"jmod"`
	// Exclude lists substrings; a class whose name contains one is never
	// transformed.
	Exclude []string `yaml:"exclude"`
	// Intercept lists the classes whose natives are traced by `run`.
	Intercept []string `yaml:"intercept"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ClassPath: ".",
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have a fixed vocabulary.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	for _, s := range c.Exclude {
		if s == "" {
			return fmt.Errorf("config: empty exclude pattern")
		}
	}
	return nil
}

// Level parses Logging.Level. An empty level is info.
func (c *Config) Level() (zapcore.Level, error) {
	if c.Logging.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return lvl, fmt.Errorf("config: logging.level: %w", err)
	}
	return lvl, nil
}
