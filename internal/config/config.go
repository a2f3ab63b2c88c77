package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Environment string `envconfig:"PULSE_ENVIRONMENT" default:"development"`
	APIPort     string `envconfig:"PULSE_API_PORT" default:"8080"`

	DatabasePath string `envconfig:"PULSE_DATABASE_PATH" default:"pulse.db"`
	DefsDir      string `envconfig:"PULSE_DEFS_DIR" default:""`

	DispatchTimeoutSec    int `envconfig:"PULSE_DISPATCH_TIMEOUT_SEC" default:"10"`
	DispatchMaxAttempts   int `envconfig:"PULSE_DISPATCH_MAX_ATTEMPTS" default:"3"`
	DispatchBackoffBaseMS int `envconfig:"PULSE_DISPATCH_BACKOFF_BASE_MS" default:"500"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
