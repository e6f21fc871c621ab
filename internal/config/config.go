// Package config provides the process options of the tinysecrets binary,
// layered from defaults, an optional JSON file and environment variables,
// and the per-directory project configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TINYSECRETS_"

// Options holds the configuration values for the application.
type Options struct {
	// StorePath is the SQLite store file.
	StorePath string `json:"store" env:"STORE"`

	// Driver selects the storage engine: "sqlite" or "postgres".
	Driver string `json:"driver" env:"DRIVER"`

	// DatabaseDSN holds the PostgreSQL connection string when Driver is "postgres".
	DatabaseDSN string `json:"database_dsn" env:"DATABASE_DSN"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Config is the path to the Config file.
	Config string `json:"-" env:"CONFIG"`
}

// DefaultDir returns ~/.tinysecrets.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".tinysecrets"), nil
}

// Defaults returns the options used when nothing else is configured.
func Defaults() (*Options, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return &Options{
		StorePath: filepath.Join(dir, "store.db"),
		Driver:    "sqlite",
		LogLevel:  "warn",
		Config:    filepath.Join(dir, "config.json"),
	}, nil
}

// Load builds Options from defaults, then the JSON config file, then
// TINYSECRETS_* environment variables. configPath, when non-empty, replaces
// the default file location; TINYSECRETS_CONFIG replaces both. A missing file
// at the default location is not an error, a missing explicit file is.
func Load(configPath string) (*Options, error) {
	opts, err := Defaults()
	if err != nil {
		return nil, err
	}

	explicit := false
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		opts.Config, explicit = p, true
	}
	if configPath != "" {
		opts.Config, explicit = configPath, true
	}

	if err := opts.readFile(explicit); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(opts, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return opts, nil
}

func (o *Options) readFile(required bool) error {
	data, err := os.ReadFile(o.Config)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("error while parsing config file %s: %w", o.Config, err)
	}
	return nil
}
