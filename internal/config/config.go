// Package config loads the node's boot-time configuration from the process
// environment (spec.md §6: "Build-time configuration (environment)").
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultAPN is hard-coded per spec.md §6 — the node has one carrier.
const DefaultAPN = "gprs.swisscom.ch"

const (
	envBackendBaseURL = "SOLAR_BACKEND_BASE_URL"
	envBackendToken   = "SOLAR_BACKEND_TOKEN"
)

// Config is the node's boot-time configuration.
type Config struct {
	BackendBaseURL string
	BackendToken   string
	APN            string
	ModemDevice    string
	SensorDevice   string
}

// Load reads Config from the process environment, first merging in a local
// .env file if one is present (envPath == ""  uses godotenv's default
// lookup; a missing file is not an error, although godotenv.Load itself
// reports one, since the file only carries optional development
// overrides). ModemDevice and
// SensorDevice carry the defaults; callers (cmd/solar-node's cobra flags)
// may override them after Load returns.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load() // optional; ignore a missing default .env
	}

	cfg := Config{
		BackendBaseURL: os.Getenv(envBackendBaseURL),
		BackendToken:   os.Getenv(envBackendToken),
		APN:            DefaultAPN,
		ModemDevice:    "/dev/ttyUSB0",
		SensorDevice:   "/dev/ttyUSB1",
	}
	return cfg, cfg.Validate()
}

// Validate ensures the mandatory backend settings are present.
func (c Config) Validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("config: %s is required", envBackendBaseURL)
	}
	if c.BackendToken == "" {
		return fmt.Errorf("config: %s is required", envBackendToken)
	}
	return nil
}
