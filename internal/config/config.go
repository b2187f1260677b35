package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/vigildash/vigil/internal/utils"
)

// Config holds the service configuration, sourced from the environment with
// optional .env overrides in the data directory.
type Config struct {
	BackendHost    string
	BackendPort    int
	MetricsPort    int
	DataDir        string
	LogLevel       string
	LogFormat      string
	AllowedOrigins string // comma-separated; empty means same-origin only
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Get data directory from environment
	dataDir := "/var/lib/vigil"
	if dir := utils.GetenvTrim("VIGIL_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env file if it exists (for deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		BackendHost:    "0.0.0.0",
		BackendPort:    7410,
		MetricsPort:    9410,
		DataDir:        dataDir,
		LogLevel:       "info",
		LogFormat:      "auto",
		AllowedOrigins: "",
	}

	if host := utils.GetenvTrim("VIGIL_HOST"); host != "" {
		cfg.BackendHost = host
	}
	if port := utils.GetenvTrim("VIGIL_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid VIGIL_PORT %q: %w", port, err)
		}
		cfg.BackendPort = p
	}
	if port := utils.GetenvTrim("VIGIL_METRICS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid VIGIL_METRICS_PORT %q: %w", port, err)
		}
		cfg.MetricsPort = p
	}
	if level := utils.GetenvTrim("VIGIL_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := utils.GetenvTrim("VIGIL_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if origins := utils.GetenvTrim("VIGIL_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = origins
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.BackendPort < 1 || c.BackendPort > 65535 {
		return fmt.Errorf("backend port %d out of range", c.BackendPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port %d out of range", c.MetricsPort)
	}
	if c.MetricsPort == c.BackendPort {
		return fmt.Errorf("metrics port and backend port must differ")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	switch c.LogFormat {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
