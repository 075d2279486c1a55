package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is ~/.config/blockwise/config.yaml. Pointer fields distinguish
// "not set" from zero values.
type Config struct {
	Backend   string `yaml:"backend"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	InputChannels *int64         `yaml:"input_channels"`
	MinDelay      *time.Duration `yaml:"min_delay"`

	ServerAddress string `yaml:"server_address"`
}

const envConfigPath = "BLOCKWISE_CONFIG"

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "blockwise", "config.yaml")
}

// LoadConfig reads the config file. A missing or unreadable file yields a
// zero Config.
func LoadConfig() Config {
	cfg, _ := loadConfigFile(configPath())
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyLoggingConfig fills logging flags the user did not set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyChainConfig fills chain flags the user did not set.
func applyChainConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.InputChannels != nil && !c.IsSet("input-channels") {
		inputChannels = *cfg.InputChannels
	}
}

func applyRunConfig(c *cli.Command, cfg Config, minDelay *time.Duration) {
	applyChainConfig(c, cfg)
	if cfg.MinDelay != nil && !c.IsSet("min-delay") {
		*minDelay = *cfg.MinDelay
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
