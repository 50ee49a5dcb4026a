package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:8080"
	DefaultTimeout     = 30 * time.Second
	DefaultHistoryFile = ".coderunner_history"
	// DefaultGzipThreshold is the body size from which requests are gzipped.
	DefaultGzipThreshold = 4096
)

// Config holds CLI configuration.
type Config struct {
	BaseURL       string        `yaml:"baseURL"`
	Timeout       time.Duration `yaml:"timeout"`
	HistoryFile   string        `yaml:"historyFile"`
	GzipThreshold int           `yaml:"gzipThreshold"`
	PrettyJSON    *bool         `yaml:"prettyJSON"`
}

// Load reads path and applies defaults. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}
	if cfg.GzipThreshold == 0 {
		cfg.GzipThreshold = DefaultGzipThreshold
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}
