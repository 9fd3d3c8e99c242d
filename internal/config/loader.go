package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/policy"
)

// Loader reads a standalone YAML configuration file
type Loader struct {
	path string
}

// NewLoader creates a loader for path. An empty path loads defaults only.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load applies defaults, the file, then the environment, and validates the result
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	cfg.LoadFromEnvironment()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.WrapError(err, fmt.Sprintf("failed to read config file %s", l.path))
	}
	return decode(data, cfg)
}

// LoadFromBytes parses YAML over the defaults without consulting the environment
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to parse YAML config", err)
	}
	return nil
}

// Save writes cfg to the loader's path
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return apperrors.WrapError(err, "failed to create config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return apperrors.WrapError(err, "failed to write config file")
	}
	return nil
}

// policyFile is the layout of a standalone policy declaration file.
type policyFile struct {
	Policies map[string]*policy.Policy `yaml:"policies"`
}

// LoadPolicies reads a YAML file with a top-level policies map into registry.
func LoadPolicies(path string, registry *policy.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to read policy file %s", path))
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to parse policy file", err)
	}
	for table, p := range file.Policies {
		if p == nil {
			file.Policies[table] = policy.New()
		}
	}
	if err := registry.RegisterAll(file.Policies); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid policy file", err)
	}
	return nil
}
