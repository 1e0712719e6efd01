package config

import (
	"time"

	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// Config holds the authenticated request pipeline settings shared by the
// CLI and the web front end.
type Config struct {
	Content     ContentConfig    `yaml:"content"`
	TokenStore  TokenStoreConfig `yaml:"token_store"`
	Session     SessionConfig    `yaml:"session"`
	Logging     LoggingConfig    `yaml:"logging"`
	Environment string           `yaml:"environment" default:"local"` // local, dev, prod
}

// ContentConfig locates the content service
type ContentConfig struct {
	BaseURL        string        `yaml:"base_url" default:"http://localhost:8081"`
	RefreshPath    string        `yaml:"refresh_path" default:"/auth/refresh"`
	LoginPath      string        `yaml:"login_path" default:"/auth/login"`
	GRPCAddress    string        `yaml:"grpc_address" default:"localhost:9091"` // health and future RPC surface
	GRPCServerName string        `yaml:"grpc_server_name"`                      // TLS SNI override
	Timeout        time.Duration `yaml:"timeout" default:"30s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" default:"15s"`
	NodeID         int64         `yaml:"node_id" default:"1"` // snowflake node for cache-busting ids
}

// TokenStoreConfig selects and configures the token store backend
type TokenStoreConfig struct {
	Backend        string      `yaml:"backend" default:"file"` // file, redis, keyring, memory
	Dir            string      `yaml:"dir"`                    // file backend; defaults to the user config dir
	KeyringService string      `yaml:"keyring_service" default:"portal"`
	Redis          RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection info for the redis backend
type RedisConfig struct {
	Addr      string        `yaml:"addr" default:"localhost:6379"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix" default:"portal:tokens"`
	TTL       time.Duration `yaml:"ttl"` // 0 means keys never expire
}

// SessionConfig holds termination and inactivity settings
type SessionConfig struct {
	EntryPath  string           `yaml:"entry_path" default:"/login"`
	Grace      time.Duration    `yaml:"grace" default:"2s"`
	MaxHold    time.Duration    `yaml:"max_hold" default:"30s"`
	Inactivity InactivityConfig `yaml:"inactivity"`
}

// InactivityConfig holds the inactivity monitor settings
type InactivityConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	Window      time.Duration `yaml:"window" default:"15m"`
	WarningLead time.Duration `yaml:"warning_lead" default:"1m"`
	Debounce    time.Duration `yaml:"debounce" default:"1s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`  // debug, info, warn, error
	Format string `yaml:"format" default:"json"` // json, text
	File   string `yaml:"file"`                  // optional log file
}

// StoreOptions converts the token store settings for tokenstore.Open.
func (c *Config) StoreOptions() tokenstore.Options {
	return tokenstore.Options{
		Backend:        c.TokenStore.Backend,
		Dir:            c.TokenStore.Dir,
		RedisAddr:      c.TokenStore.Redis.Addr,
		RedisPassword:  c.TokenStore.Redis.Password,
		RedisDB:        c.TokenStore.Redis.DB,
		KeyPrefix:      c.TokenStore.Redis.KeyPrefix,
		TTL:            c.TokenStore.Redis.TTL,
		KeyringService: c.TokenStore.KeyringService,
	}
}

// TerminatorConfig converts the session settings for session.NewTerminator.
func (c *Config) TerminatorConfig() session.TerminatorConfig {
	return session.TerminatorConfig{
		EntryPath: c.Session.EntryPath,
		Grace:     c.Session.Grace,
		MaxHold:   c.Session.MaxHold,
	}
}

// InactivityConfig converts the inactivity settings for session.NewInactivityMonitor.
func (c *Config) InactivityConfig() session.InactivityConfig {
	return session.InactivityConfig{
		Window:      c.Session.Inactivity.Window,
		WarningLead: c.Session.Inactivity.WarningLead,
		Debounce:    c.Session.Inactivity.Debounce,
		EntryPath:   c.Session.EntryPath,
	}
}
