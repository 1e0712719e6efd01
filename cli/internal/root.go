package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/portal/internal/config"
	"github.com/devilmonastery/portal/internal/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// CliContext holds shared CLI context
type CliContext struct {
	Config   *Config
	Settings *config.Config
	Pipeline *Pipeline
	Logger   *slog.Logger
}

// Global logging flags
var (
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
	settingsPath  string
	contextFlag   string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	var ctx CliContext

	rootCmd := &cobra.Command{
		Use:           "portal",
		Short:         "CLI for reading content through the Portal session pipeline",
		Long:          `A command line interface for the Portal content service. Requests carry stored credentials, refresh them on expiry and end the session when refresh is refused.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Setup logging first
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = logger.WithCommand(logger.WithComponent(slog.Default(), "cli"), cmd.CommandPath())
			ctx.Logger.Debug("CLI started")

			// Config commands only touch ~/.portal
			if isConfigCommand(cmd) {
				cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
				return nil
			}

			cliConfig, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if contextFlag != "" {
				if err := cliConfig.SetCurrentContext(contextFlag); err != nil {
					return err
				}
			}
			current, err := cliConfig.GetCurrentContext()
			if err != nil {
				return fmt.Errorf("%w\nRun 'portal config add-context' to create one", err)
			}

			settings, err := config.Load(settingsPath)
			if err != nil {
				return err
			}

			pipeline, err := NewPipeline(cliConfig.CurrentContext, current, settings, cmd.OutOrStdout(), ctx.Logger)
			if err != nil {
				return fmt.Errorf("failed to set up session pipeline: %w", err)
			}

			ctx.Config = cliConfig
			ctx.Settings = settings
			ctx.Pipeline = pipeline
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.Pipeline != nil {
				return ctx.Pipeline.Close()
			}
			return nil
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newShellCommand())
	rootCmd.AddCommand(newPingCommand())

	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "",
		"Pipeline settings file (default: search ./config.yaml, /etc/portal/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&contextFlag, "context", "",
		"Context to use instead of the current one")

	// Add logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// isConfigCommand reports whether cmd is "config" or one of its subcommands.
func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" && c.HasParent() && !c.Parent().HasParent() {
			return true
		}
	}
	return false
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Set as default logger
	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}
