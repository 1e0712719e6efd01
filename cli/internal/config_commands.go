package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/portal/internal/config"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration and contexts",
		Long:  `Manage CLI configuration including server contexts, similar to kubectl contexts.`,
	}

	// Add subcommands
	cmd.AddCommand(newCurrentContextCommand())
	cmd.AddCommand(newUseContextCommand())
	cmd.AddCommand(newListContextsCommand())
	cmd.AddCommand(newAddContextCommand())
	cmd.AddCommand(newDeleteContextCommand())
	cmd.AddCommand(newConfigShowCommand()) // Keep legacy show command for compatibility

	return cmd
}

// current-context command
func newCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Display the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
			return nil
		},
	}
}

// use-context command
func newUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context CONTEXT_NAME",
		Short: "Switch to a different context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := cfg.SetCurrentContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q\n", contextName)
			return nil
		},
	}
}

// list-contexts command
func newListContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list-contexts",
		Aliases: []string{"get-contexts"},
		Short:   "List all available contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if len(cfg.Contexts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No contexts configured")
				return nil
			}

			// Sort context names for consistent output
			names := make([]string, 0, len(cfg.Contexts))
			for name := range cfg.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			// Use tabwriter for aligned output
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tSERVER\tSTORE\tTHEME")

			for _, name := range names {
				ctx := cfg.Contexts[name]
				current := " "
				if name == cfg.CurrentContext {
					current = "*"
				}
				backend := ctx.TokenStore.Backend
				if backend == "" {
					backend = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					current,
					name,
					ctx.Server.URL,
					backend,
					ctx.Theme(),
				)
			}
			w.Flush()

			return nil
		},
	}
}

// add-context command
func newAddContextCommand() *cobra.Command {
	var (
		serverURL   string
		grpcAddress string
		serverName  string
		backend     string
		theme       string
	)

	cmd := &cobra.Command{
		Use:   "add-context CONTEXT_NAME",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Create new context
			ctx := &Context{}
			ctx.Server.URL = serverURL
			ctx.Server.GRPCAddress = grpcAddress
			ctx.Server.Name = serverName
			ctx.TokenStore.Backend = backend
			ctx.Rendering.Theme = theme
			if err := validateContext(ctx); err != nil {
				return err
			}

			// Add or update the context
			cfg.AddContext(contextName, ctx)

			// If this is the first context, make it current
			if len(cfg.Contexts) == 1 {
				cfg.CurrentContext = contextName
			}

			if err := SaveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Context %q added/updated\n", contextName)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "", "Content service base URL")
	cmd.Flags().StringVar(&grpcAddress, "grpc-address", "", "Content service gRPC address (host:port)")
	cmd.Flags().StringVar(&serverName, "server-name", "", "TLS server name override")
	cmd.Flags().StringVar(&backend, "token-store", "", "Token store backend (file, keyring, redis, memory)")
	cmd.Flags().StringVar(&theme, "theme", "auto", "Rendering theme")
	cmd.MarkFlagRequired("url")

	return cmd
}

// delete-context command
func newDeleteContextCommand() *cobra.Command {
	var keepCredentials bool

	cmd := &cobra.Command{
		Use:   "delete-context CONTEXT_NAME",
		Short: "Delete a context and its stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			removed := cfg.Contexts[contextName]
			if err := cfg.DeleteContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Context %q deleted\n", contextName)
			if keepCredentials {
				return nil
			}
			if err := forgetCredentials(cmd.Context(), contextName, removed); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: stored credentials for %q were not cleared: %v\n", contextName, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepCredentials, "keep-credentials", false, "Leave the context's stored tokens in place")
	return cmd
}

// validateContext checks a context built from add-context flags.
func validateContext(ctx *Context) error {
	u, err := url.Parse(ctx.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("--url must be an absolute URL, got %q", ctx.Server.URL)
	}
	switch ctx.TokenStore.Backend {
	case "", "file", "keyring", "redis", "memory":
	default:
		return fmt.Errorf("unknown token store backend %q", ctx.TokenStore.Backend)
	}
	return nil
}

// forgetCredentials clears the token store a context used.
func forgetCredentials(ctx context.Context, name string, cliCtx *Context) error {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	opts, err := storeOptions(settings, name, cliCtx)
	if err != nil {
		return err
	}
	store, err := tokenstore.Open(opts)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	return store.Clear(ctx)
}

// show command (legacy) - now shows current context
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current context configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, err := cfg.GetCurrentContext()
			if err != nil {
				return fmt.Errorf("failed to get current context: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current context: %s\n", cfg.CurrentContext)
			fmt.Fprintf(out, "  Server URL: %s\n", ctx.Server.URL)
			fmt.Fprintf(out, "  gRPC Address: %s\n", ctx.Server.GRPCAddress)
			fmt.Fprintf(out, "  Token Store: %s\n", ctx.TokenStore.Backend)
			fmt.Fprintf(out, "  Glamour Theme: %s\n", ctx.Theme())

			configPath, _ := GetConfigPath()
			fmt.Fprintf(out, "  Config File: %s\n", configPath)

			return nil
		},
	}
}
