// Package config loads and validates bridge configuration: per-language
// downstream server commands and the tiered timeout overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lsp-bridge/src/internal/registry"
	"lsp-bridge/src/internal/types"
)

// Bounds for each timeout tier. Values outside the range are rejected at
// validation, not clamped, so a typo in a config file surfaces immediately.
const (
	InitTimeoutDefault = 30 * time.Second
	InitTimeoutMin     = 30 * time.Second
	InitTimeoutMax     = 60 * time.Second

	LivenessTimeoutDefault = 60 * time.Second
	LivenessTimeoutMin     = 30 * time.Second
	LivenessTimeoutMax     = 120 * time.Second

	ShutdownTimeoutDefault = 10 * time.Second
	ShutdownTimeoutMin     = 5 * time.Second
	ShutdownTimeoutMax     = 15 * time.Second

	RequestTimeoutDefault = 5 * time.Second
	RequestTimeoutMin     = 1 * time.Second
	RequestTimeoutMax     = 30 * time.Second
)

// Config contains bridge configuration
type Config struct {
	Servers  map[string]*types.ServerConfig `yaml:"servers"`
	Timeouts TimeoutConfig                  `yaml:"timeouts"`
}

// Duration wraps time.Duration so YAML accepts "30s"/"2m" style strings.
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// TimeoutConfig holds the tiered timeout overrides. Zero values mean
// "use the default for that tier".
type TimeoutConfig struct {
	Init     Duration `yaml:"init,omitempty"`
	Liveness Duration `yaml:"liveness,omitempty"`
	Shutdown Duration `yaml:"shutdown,omitempty"`
	Request  Duration `yaml:"request,omitempty"`
}

// InitOrDefault returns the init timeout, defaulted
func (t TimeoutConfig) InitOrDefault() time.Duration {
	if t.Init == 0 {
		return InitTimeoutDefault
	}
	return time.Duration(t.Init)
}

// LivenessOrDefault returns the liveness timeout, defaulted
func (t TimeoutConfig) LivenessOrDefault() time.Duration {
	if t.Liveness == 0 {
		return LivenessTimeoutDefault
	}
	return time.Duration(t.Liveness)
}

// ShutdownOrDefault returns the global shutdown timeout, defaulted
func (t TimeoutConfig) ShutdownOrDefault() time.Duration {
	if t.Shutdown == 0 {
		return ShutdownTimeoutDefault
	}
	return time.Duration(t.Shutdown)
}

// RequestOrDefault returns the per-request timeout, defaulted
func (t TimeoutConfig) RequestOrDefault() time.Duration {
	if t.Request == 0 {
		return RequestTimeoutDefault
	}
	return time.Duration(t.Request)
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig writes a default configuration file
func GenerateDefaultConfig(path string) error {
	return SaveConfig(GetDefaultConfig(), path)
}

// ValidateConfig validates server entries and timeout ranges
func ValidateConfig(config *Config) error {
	if config.Servers == nil {
		return fmt.Errorf("servers configuration is required")
	}

	for language, serverConfig := range config.Servers {
		if serverConfig == nil || serverConfig.Command == "" {
			return fmt.Errorf("command is required for language %s", language)
		}
	}

	if err := validateTier("init", time.Duration(config.Timeouts.Init), InitTimeoutMin, InitTimeoutMax); err != nil {
		return err
	}
	if err := validateTier("liveness", time.Duration(config.Timeouts.Liveness), LivenessTimeoutMin, LivenessTimeoutMax); err != nil {
		return err
	}
	if err := validateTier("shutdown", time.Duration(config.Timeouts.Shutdown), ShutdownTimeoutMin, ShutdownTimeoutMax); err != nil {
		return err
	}
	if err := validateTier("request", time.Duration(config.Timeouts.Request), RequestTimeoutMin, RequestTimeoutMax); err != nil {
		return err
	}

	return nil
}

func validateTier(name string, value, min, max time.Duration) error {
	if value == 0 {
		return nil
	}
	if value < min || value > max {
		return fmt.Errorf("%s timeout %v outside allowed range [%v, %v]", name, value, min, max)
	}
	return nil
}

// GetDefaultConfig returns a configuration using the registry's default
// server commands for every registered language.
func GetDefaultConfig() *Config {
	servers := make(map[string]*types.ServerConfig)
	for _, language := range registry.SupportedLanguages() {
		if serverConfig, ok := registry.DefaultServerConfig(language); ok {
			sc := serverConfig
			servers[language] = &sc
		}
	}
	return &Config{Servers: servers}
}

// ServerFor resolves the spawn configuration for a language: the config
// file entry when present, otherwise the registry default.
func (c *Config) ServerFor(language string) (types.ServerConfig, bool) {
	if c != nil && c.Servers != nil {
		if sc, ok := c.Servers[language]; ok && sc != nil {
			return *sc, true
		}
	}
	return registry.DefaultServerConfig(language)
}
