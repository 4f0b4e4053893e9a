// Package aliasing provides name alias resolution for record ingestion.
//
// Field tools and data loggers emit inconsistent names for the same producer
// or dataset ("MultispecCam-03" vs "Multispectral Camera 3"), which would
// fragment datasets and fail combination checks. This package loads an
// optional alias map from YAML and resolves tool-specific names to their
// registered canonical names before the pipeline touches the registry.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
)

// Config holds name alias configuration loaded from .gemini.yaml.
type Config struct {
	// ProducerAliases maps tool-specific producer names to the canonical
	// registered names. Key is the alias, value is the canonical name.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	ProducerAliases map[string]string `yaml:"producer_aliases"`

	// DatasetAliases maps tool-specific dataset names to canonical names.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	DatasetAliases map[string]string `yaml:"dataset_aliases"`
}

// DefaultConfigPath is the default location for the alias configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".gemini.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "GEMINI_CONFIG_PATH"

// LoadConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the service can start even without
// aliases configured, as name aliasing is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ProducerAliases: make(map[string]string),
		DatasetAliases:  make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{
			ProducerAliases: make(map[string]string),
			DatasetAliases:  make(map[string]string),
		}, nil
	}

	// Ensure maps are initialized even if YAML had nil/empty sections
	if cfg.ProducerAliases == nil {
		cfg.ProducerAliases = make(map[string]string)
	}

	if cfg.DatasetAliases == nil {
		cfg.DatasetAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in the
// GEMINI_CONFIG_PATH environment variable. Falls back to ".gemini.yaml" in
// the current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
