package classify

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipewatch-io/pipewatch/internal/config"
)

type (
	// Config extends the built-in classifier rules with deployment-specific
	// reference tables, tags, and name patterns, loaded from .pipewatch.yaml.
	Config struct {
		ReferenceTables       []string `yaml:"reference_tables"`
		ReferenceTags         []string `yaml:"reference_tags"`
		ReferenceNamePatterns []string `yaml:"reference_name_patterns"`
	}
)

// DefaultConfigPath is the default location for the pipewatch configuration
// file, following the hidden-file convention (.eslintrc, .prettierrc, ...).
const DefaultConfigPath = ".pipewatch.yaml"

// ConfigPathEnvVar overrides the configuration file location.
const ConfigPathEnvVar = "PIPEWATCH_CONFIG_PATH"

// LoadConfig loads classifier extensions from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist - the
//     extensions are optional
//   - Returns empty config + logs warning if the YAML is invalid (graceful
//     degradation)
//   - Returns populated config on success
//
// Graceful degradation ensures the server starts even without a config
// file; the built-in rules cover the common cases.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, using built-in classifier rules",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, using built-in classifier rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, using built-in classifier rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{}, nil
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the config from the path in PIPEWATCH_CONFIG_PATH,
// falling back to ".pipewatch.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
