package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sessionDirName = ".aide"

type Config struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// ShardSize is the number of records per store shard file.
	ShardSize int `yaml:"shard_size"`
	// KeepPartialOnInterrupt persists a half-received response instead of
	// discarding it when the stream breaks.
	KeepPartialOnInterrupt bool   `yaml:"keep_partial_on_interrupt"`
	LogLevel               string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Model:                  "gpt-4.1",
		BaseURL:                "https://api.openai.com/v1/chat/completions",
		ShardSize:              10_000,
		KeepPartialOnInterrupt: false,
		LogLevel:               "warn",
	}
}

// SessionDir returns the session state directory under root.
func SessionDir(root string) string {
	return filepath.Join(root, sessionDirName)
}

// ConfigPath returns the config file location for a project root.
func ConfigPath(root string) string {
	return filepath.Join(SessionDir(root), "config.yml")
}

// LoadConfig reads the project config, falling back to defaults for a missing
// file or missing fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = DefaultConfig().ShardSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultConfig().LogLevel
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
