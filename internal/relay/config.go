package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Config holds relay server settings loaded from a YAML file. All
// values are optional; zero values fall back to defaults.
type Config struct {
	Addr            string   `yaml:"addr"`
	LogLevel        string   `yaml:"log_level"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8900",
		LogLevel:        "info",
		ReadTimeout:     Duration{10 * time.Second},
		ShutdownTimeout: Duration{5 * time.Second},
	}
}

// LoadConfig reads a YAML config file. A missing path returns defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("relay: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("relay: parse config: %w", err)
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8900"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = Duration{5 * time.Second}
	}
	return cfg, nil
}
