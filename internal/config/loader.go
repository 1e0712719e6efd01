package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/devilmonastery/portal/internal/session"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/config.yml",
	"./configs/development.yaml",
	"/etc/portal/config.yaml",
	"/etc/portal/config.yml",
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() *Config {
	return &Config{
		Environment: "local",
		Content: ContentConfig{
			BaseURL:        "http://localhost:8081",
			RefreshPath:    "/auth/refresh",
			LoginPath:      "/auth/login",
			GRPCAddress:    "localhost:9091",
			Timeout:        30 * time.Second,
			RefreshTimeout: 15 * time.Second,
			NodeID:         1,
		},
		TokenStore: TokenStoreConfig{
			Backend:        "file",
			KeyringService: "portal",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "portal:tokens",
			},
		},
		Session: SessionConfig{
			EntryPath: session.DefaultEntryPath,
			Grace:     session.DefaultGrace,
			MaxHold:   session.DefaultMaxHold,
			Inactivity: InactivityConfig{
				Enabled:     true,
				Window:      15 * time.Minute,
				WarningLead: time.Minute,
				Debounce:    session.DefaultDebounce,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the configuration from the specified file or default locations
func Load(configPath string) (*Config, error) {
	config := Defaults()
	if err := Decode(configPath, config); err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Decode reads configPath (or the first default path that exists) into out,
// expanding environment variables first. A missing file leaves out untouched.
func Decode(configPath string, out interface{}) error {
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath == "" || !fileExists(configPath) {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	data = expandEnvVars(data)
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return nil
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// Validate performs basic validation on the configuration
func Validate(config *Config) error {
	u, err := url.Parse(config.Content.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("content.base_url must be an absolute URL, got %q", config.Content.BaseURL)
	}
	if config.Content.NodeID < 0 || config.Content.NodeID > 1023 {
		return fmt.Errorf("content.node_id must be between 0 and 1023")
	}

	switch config.TokenStore.Backend {
	case "file", "redis", "keyring", "memory":
	default:
		return fmt.Errorf("token_store.backend must be one of file, redis, keyring, memory; got %q", config.TokenStore.Backend)
	}
	if config.TokenStore.Backend == "redis" && config.TokenStore.Redis.Addr == "" {
		return fmt.Errorf("token_store.redis.addr is required for the redis backend")
	}

	if config.Session.Grace <= 0 || config.Session.MaxHold < config.Session.Grace {
		return fmt.Errorf("session.max_hold must be at least session.grace")
	}
	if config.Session.Inactivity.Enabled {
		if err := config.InactivityConfig().Validate(); err != nil {
			return fmt.Errorf("session.inactivity: %w", err)
		}
	}
	return nil
}
