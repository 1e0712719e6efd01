package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devilmonastery/portal/internal/pkg/idgen"
	"github.com/devilmonastery/portal/internal/pkg/logger"
	"github.com/devilmonastery/portal/web/internal/config"
	"github.com/devilmonastery/portal/web/internal/handlers"
	"github.com/devilmonastery/portal/web/internal/middleware"
	"github.com/devilmonastery/portal/web/internal/render"
	"github.com/devilmonastery/portal/web/internal/session"
)

// setupWebLogging configures the global logger for the web service
func setupWebLogging(cfg *config.WebServerConfig) error {
	logCfg := logger.Config{
		Level:         logger.ParseLevel(cfg.Pipeline.Logging.Level),
		LogFile:       cfg.Pipeline.Logging.File,
		LogToStderr:   cfg.Pipeline.Logging.File == "",
		AlsoLogStderr: cfg.Pipeline.Logging.File != "",
		Format:        cfg.Pipeline.Logging.Format,
	}

	globalLogger, err := logger.SetupLogger(logCfg)
	if err != nil {
		return err
	}

	// Set as default logger so all slog.Info/Warn/Error calls use our configured logger
	slog.SetDefault(globalLogger)

	return nil
}

// sessionSecret picks the cookie key - priority: env var > config file > random
func sessionSecret(cfg *config.WebServerConfig, log *slog.Logger) ([]byte, error) {
	// 1. Try environment variable first (best for production)
	if envSecret := os.Getenv("SESSION_SECRET"); envSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(envSecret)
		if err == nil {
			log.Info("using session secret (sessions will persist across restarts)", slog.String("source", "environment variable"))
			return secret, nil
		}
		log.Warn("failed to decode SESSION_SECRET env var, trying config", slog.Any("error", err))
	}

	// 2. Try config file if env var not set or failed
	if cfg.Cookie.Secret != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.Cookie.Secret)
		if err == nil {
			log.Info("using session secret (sessions will persist across restarts)", slog.String("source", "config file"))
			return secret, nil
		}
		log.Warn("failed to decode session secret from config", slog.Any("error", err))
	}

	// 3. Fall back to random generation (dev mode only)
	log.Warn("no session secret configured, generating random one (sessions won't persist)")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return secret, nil
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load web configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging (must be done before any logging calls)
	if err = setupWebLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	log := logger.WithComponent(slog.Default(), "web")
	log.Info("starting portal web service", slog.String("environment", cfg.Pipeline.Environment))

	if err := idgen.Initialize(cfg.Pipeline.Content.NodeID); err != nil {
		log.Error("failed to initialize id generator", slog.Any("error", err))
		os.Exit(1)
	}

	templates, err := render.LoadTemplates(cfg.Server.TemplatesDir)
	if err != nil {
		log.Error("failed to load templates", slog.Any("error", err))
		os.Exit(1)
	}
	render.LogTemplateNames(templates, log)

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		log.Error("failed to set up session secret", slog.Any("error", err))
		os.Exit(1)
	}
	cookies := session.NewManager(cfg.Cookie.Name, secret, cfg.Cookie.Secure, cfg.Cookie.MaxAge)

	registry, err := session.NewRegistry(&cfg.Pipeline, log)
	if err != nil {
		log.Error("failed to set up session registry", slog.Any("error", err))
		os.Exit(1)
	}

	authMw := middleware.NewAuthMiddleware(cookies, registry, cfg.Pipeline.Session.EntryPath, log)
	h := handlers.New(cookies, registry, templates, &cfg.Pipeline, nil, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(h, authMw, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down portal web service")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", slog.String("error", err.Error()))
	}
	if err := registry.Close(); err != nil {
		log.Error("error closing session registry", slog.String("error", err.Error()))
	}
}
