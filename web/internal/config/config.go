package config

import (
	"fmt"

	"github.com/devilmonastery/portal/internal/config"
)

// WebServerConfig represents the web server configuration. The pipeline
// settings are inlined so one file configures both.
type WebServerConfig struct {
	Server   HTTPServer    `yaml:"server"`
	Cookie   CookieConfig  `yaml:"cookie"`
	Pipeline config.Config `yaml:",inline"`
}

// HTTPServer holds HTTP server configuration
type HTTPServer struct {
	Host         string `yaml:"host" default:"localhost"`
	Port         int    `yaml:"port" default:"8080"`
	TemplatesDir string `yaml:"templates_dir"` // empty uses the built-in templates
}

// CookieConfig holds the session cookie settings
type CookieConfig struct {
	Name   string `yaml:"name" default:"portal_session"`
	Secret string `yaml:"secret"` // 32-byte base64-encoded; SESSION_SECRET overrides
	Secure bool   `yaml:"secure"`
	MaxAge int    `yaml:"max_age" default:"604800"`
}

// Load loads the web server configuration from the specified file or default locations
func Load(configPath string) (*WebServerConfig, error) {
	cfg := &WebServerConfig{
		Server: HTTPServer{
			Host: "localhost",
			Port: 8080,
		},
		Cookie: CookieConfig{
			Name:   "portal_session",
			MaxAge: 7 * 24 * 60 * 60,
		},
		Pipeline: *config.Defaults(),
	}
	// Browsers share nothing on disk with the server, so web sessions keep
	// tokens in memory unless Redis is configured.
	cfg.Pipeline.TokenStore.Backend = "memory"

	if err := config.Decode(configPath, cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validate performs basic validation on the web configuration
func validate(cfg *WebServerConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Cookie.Name == "" {
		return fmt.Errorf("cookie.name cannot be empty")
	}
	switch cfg.Pipeline.TokenStore.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("token_store.backend must be memory or redis for the web front end, got %q", cfg.Pipeline.TokenStore.Backend)
	}
	return config.Validate(&cfg.Pipeline)
}

// Addr returns the listen address
func (c *WebServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
