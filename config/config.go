package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds script sandbox configuration.
//
// AllowedPackages is the set of package names the sandbox may load; membership
// is checked by top-level package name, so "lodash" also covers
// "lodash/fp/merge". InstallDir is the directory under which those packages
// are installed (either the directory containing node_modules or the
// node_modules directory itself).
type SandboxConfig struct {
	AllowedPackages  []string `mapstructure:"allowed_packages"`
	InstallDir       string   `mapstructure:"install_dir"`
	DefaultTimeoutMs int      `mapstructure:"default_timeout_ms"`
	MinTimeoutMs     int      `mapstructure:"min_timeout_ms"`
	MaxTimeoutMs     int      `mapstructure:"max_timeout_ms"`
	MaxOutputLines   int      `mapstructure:"max_output_lines"`
	MaxOutputBytes   int      `mapstructure:"max_output_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("sandbox.allowed_packages", []string{})
	viper.SetDefault("sandbox.install_dir", ".")
	viper.SetDefault("sandbox.default_timeout_ms", 30000)
	viper.SetDefault("sandbox.min_timeout_ms", 1000)
	viper.SetDefault("sandbox.max_timeout_ms", 300000)
	viper.SetDefault("sandbox.max_output_lines", 1000)
	viper.SetDefault("sandbox.max_output_bytes", 262144)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.InstallDir == "" {
		return fmt.Errorf("sandbox.install_dir must not be empty")
	}

	if c.Sandbox.MinTimeoutMs <= 0 {
		return fmt.Errorf("sandbox.min_timeout_ms must be positive, got: %d", c.Sandbox.MinTimeoutMs)
	}

	if c.Sandbox.MaxTimeoutMs < c.Sandbox.MinTimeoutMs {
		return fmt.Errorf("sandbox.max_timeout_ms must be >= sandbox.min_timeout_ms, got: %d < %d",
			c.Sandbox.MaxTimeoutMs, c.Sandbox.MinTimeoutMs)
	}

	if c.Sandbox.DefaultTimeoutMs < c.Sandbox.MinTimeoutMs || c.Sandbox.DefaultTimeoutMs > c.Sandbox.MaxTimeoutMs {
		return fmt.Errorf("sandbox.default_timeout_ms must be within [%d, %d], got: %d",
			c.Sandbox.MinTimeoutMs, c.Sandbox.MaxTimeoutMs, c.Sandbox.DefaultTimeoutMs)
	}

	if c.Sandbox.MaxOutputLines <= 0 {
		return fmt.Errorf("sandbox.max_output_lines must be positive, got: %d", c.Sandbox.MaxOutputLines)
	}

	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox.max_output_bytes must be positive, got: %d", c.Sandbox.MaxOutputBytes)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	return nil
}

// DefaultTimeout returns the default execution timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutMs) * time.Millisecond
}
