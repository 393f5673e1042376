package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OrchestratorURL  string `yaml:"orchestrator_url"`
	NvmAPIKey        string `yaml:"nvm_api_key"`
	Environment      string `yaml:"environment"`
	RevealIntervalMs int    `yaml:"reveal_interval_ms"`
	BurnPollAttempts int    `yaml:"burn_poll_attempts"`
	BurnPollDelayMs  int    `yaml:"burn_poll_delay_ms"`
	LogLevel         string `yaml:"log_level"`
	Mock             bool   `yaml:"mock"`
}

func DefaultConfig() Config {
	return Config{
		OrchestratorURL:  "http://localhost:4000",
		Environment:      "testing",
		RevealIntervalMs: 50,
		BurnPollAttempts: 5,
		BurnPollDelayMs:  2000,
		LogLevel:         "info",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("SWARMCHAT_ORCHESTRATOR_URL"); v != "" {
		cfg.OrchestratorURL = v
	}
	if v := os.Getenv("NVM_API_KEY"); v != "" {
		cfg.NvmAPIKey = v
	}

	if cfg.OrchestratorURL == "" {
		cfg.OrchestratorURL = "http://localhost:4000"
	}
	if cfg.Environment == "" {
		cfg.Environment = "testing"
	}
	if cfg.RevealIntervalMs <= 0 {
		cfg.RevealIntervalMs = 50
	}
	if cfg.BurnPollAttempts <= 0 {
		cfg.BurnPollAttempts = 5
	}
	if cfg.BurnPollDelayMs <= 0 {
		cfg.BurnPollDelayMs = 2000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "swarmchat", "config.yml")
}

// RevealInterval returns the configured typing pace as a duration.
func (c Config) RevealInterval() time.Duration {
	return time.Duration(c.RevealIntervalMs) * time.Millisecond
}

// BurnPollDelay returns the pause between burn-lookup probes.
func (c Config) BurnPollDelay() time.Duration {
	return time.Duration(c.BurnPollDelayMs) * time.Millisecond
}
