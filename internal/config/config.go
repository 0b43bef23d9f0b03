package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/l3aro/go-mask-analysis/internal/log"
)

// OutputFormat selects how commands render their results
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Config holds all configuration for go-mask-analysis
type Config struct {
	// DisableControlFlowDivergence allows a varying function entry without
	// a mask parameter; the entry mask then becomes constant true.
	DisableControlFlowDivergence bool `yaml:"disable_control_flow_divergence" env:"GMA_DISABLE_CONTROL_FLOW_DIVERGENCE"`

	// MaterializeAll lowers every mask instead of only the required ones
	MaterializeAll bool `yaml:"materialize_all" env:"GMA_MATERIALIZE_ALL"`

	// Output
	OutputFormat OutputFormat `yaml:"output_format" env:"GMA_OUTPUT_FORMAT"`

	// Logging
	LogLevel string `yaml:"log_level" env:"GMA_LOG_LEVEL"`
	JSONLogs bool   `yaml:"json_logs" env:"GMA_JSON_LOGS"`

	// Snapshot cache; an empty CacheDir disables it
	CacheDir  string `yaml:"cache_dir" env:"GMA_CACHE_DIR"`
	CacheSize int    `yaml:"cache_size" env:"GMA_CACHE_SIZE"`

	// Metrics prints Prometheus counters after each command
	Metrics bool `yaml:"metrics" env:"GMA_METRICS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DisableControlFlowDivergence: false,
		MaterializeAll:               false,
		OutputFormat:                 OutputText,
		LogLevel:                     "info",
		JSONLogs:                     false,
		CacheDir:                     defaultCacheDir(),
		CacheSize:                    256,
		Metrics:                      false,
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".gma", "cache")
	}
	return filepath.Join(home, ".gma", "cache")
}

// GlobalConfigFilePath returns the global config file path (~/.gma/config.yaml)
func GlobalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gma/config.yaml"
	}
	return filepath.Join(home, ".gma", "config.yaml")
}

// ProjectConfigFilePath returns the project-level config file path (./.gma/config.yaml)
func ProjectConfigFilePath() string {
	return ".gma/config.yaml"
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Project-level config (./.gma/config.yaml)
// 2. Environment variables
// 3. Global config (~/.gma/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := mergeFile(cfg, GlobalConfigFilePath()); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := mergeFile(cfg, ProjectConfigFilePath()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. A missing file is
// not an error.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GMA_DISABLE_CONTROL_FLOW_DIVERGENCE"); v != "" {
		cfg.DisableControlFlowDivergence = parseBool(v)
	}
	if v := os.Getenv("GMA_MATERIALIZE_ALL"); v != "" {
		cfg.MaterializeAll = parseBool(v)
	}
	if v := os.Getenv("GMA_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("GMA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GMA_JSON_LOGS"); v != "" {
		cfg.JSONLogs = parseBool(v)
	}
	if v := os.Getenv("GMA_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("GMA_CACHE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			cfg.CacheSize = i
		}
	}
	if v := os.Getenv("GMA_METRICS"); v != "" {
		cfg.Metrics = parseBool(v)
	}
}

// Validate checks that the configuration has valid fields
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("invalid output_format: %s (must be 'text' or 'json')", c.OutputFormat)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative")
	}

	return nil
}

// Level returns the parsed log level. Validate has already rejected
// unknown names.
func (c *Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// CacheEnabled reports whether snapshots are cached on disk.
func (c *Config) CacheEnabled() bool {
	return c.CacheDir != "" && c.CacheSize > 0
}

func parseBool(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}
