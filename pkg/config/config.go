// Package config loads YAML or TOML configuration files with environment
// variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a file with environment variable expansion.
// Files ending in .toml are parsed as TOML, everything else as YAML. Fields
// absent from the file keep the value they had in target.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(expandedData, target); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// LoadWithDefaults loads filename when it exists. Otherwise it loads
// defaultFile, or, when that is empty, only validates the defaults already
// in target.
func LoadWithDefaults[T any](filename, defaultFile string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if defaultFile != "" {
			return Load(defaultFile, target)
		}
		if validator, ok := any(target).(Validator); ok {
			if err := validator.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
		}
		return nil
	}
	return Load(filename, target)
}
