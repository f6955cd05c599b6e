// Package config handles configuration loading and management for relay.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for relay.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Hub       HubConfig       `mapstructure:"hub"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// HubConfig holds coordinator settings.
type HubConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Token      string `mapstructure:"token"`
}

// WorkerConfig holds worker connection settings.
type WorkerConfig struct {
	HubURL            string        `mapstructure:"hub_url"`
	ID                string        `mapstructure:"id"`
	Name              string        `mapstructure:"name"`
	Capabilities      []string      `mapstructure:"capabilities"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	AgentsDir         string        `mapstructure:"agents_dir"`
}

// DefaultsConfig holds session defaults.
type DefaultsConfig struct {
	TokenBudget   int `mapstructure:"token_budget"`
	ContextWindow int `mapstructure:"context_window"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, RELAY_TOKEN, RELAY_HUB_URL)
// 2. Project config (.relay.yaml in current directory or parent)
// 3. User config (~/.config/relay/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("hub.token", "RELAY_TOKEN")
	v.BindEnv("worker.hub_url", "RELAY_HUB_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Hub.Token = expandEnv(cfg.Hub.Token)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Hub.Token = expandEnv(cfg.Hub.Token)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("hub.listen_addr", cfg.Hub.ListenAddr)
	v.Set("hub.token", cfg.Hub.Token)
	v.Set("worker.hub_url", cfg.Worker.HubURL)
	v.Set("worker.id", cfg.Worker.ID)
	v.Set("worker.name", cfg.Worker.Name)
	v.Set("worker.heartbeat_interval", cfg.Worker.HeartbeatInterval.String())
	v.Set("worker.reconnect_interval", cfg.Worker.ReconnectInterval.String())
	v.Set("worker.agents_dir", cfg.Worker.AgentsDir)
	v.Set("defaults.token_budget", cfg.Defaults.TokenBudget)
	v.Set("defaults.context_window", cfg.Defaults.ContextWindow)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("hub.listen_addr", ":7470")
	v.SetDefault("hub.token", "")

	v.SetDefault("worker.hub_url", "ws://localhost:7470/ws")
	v.SetDefault("worker.name", "relay worker")
	v.SetDefault("worker.heartbeat_interval", "30s")
	v.SetDefault("worker.reconnect_interval", "5s")
	v.SetDefault("worker.agents_dir", "agents")

	v.SetDefault("defaults.token_budget", 100000)
	v.SetDefault("defaults.context_window", 20)
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".relay.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			ListenAddr: ":7470",
		},
		Worker: WorkerConfig{
			HubURL:            "ws://localhost:7470/ws",
			Name:              "relay worker",
			HeartbeatInterval: 30 * time.Second,
			ReconnectInterval: 5 * time.Second,
			AgentsDir:         "agents",
		},
		Defaults: DefaultsConfig{
			TokenBudget:   100000,
			ContextWindow: 20,
		},
	}
}
