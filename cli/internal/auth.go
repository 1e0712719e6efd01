package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devilmonastery/portal/internal/client"
	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// formatDuration formats a duration in a human-friendly way (e.g., "2 days, 3 hours, 45 minutes")
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if len(parts) == 0 && seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Manage the credentials the Portal CLI sends with content requests`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthTokenCommand())

	return cmd
}

// loginOptions carries the login flags.
type loginOptions struct {
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
	username     string
	password     string
	loginPath    string
	next         string
}

func newAuthLoginCommand() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the content service",
		Long: `Store credentials for the current context.

Either exchange a username and password at the service's login endpoint, or
store tokens obtained elsewhere.

Examples:
  # Sign in with a password (prompts for anything missing)
  portal auth login --username user@example.com

  # Store tokens issued by another tool
  portal auth login --access-token "$ACCESS" --refresh-token "$REFRESH"

  # Resume where an ended session left off
  portal auth login --next /articles/welcome`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			logger := cliCtx.Logger.With("command", "login")

			state, err := resolveLogin(cmd.Context(), cliCtx.Pipeline, opts, time.Now())
			if err != nil {
				return err
			}
			if err := cliCtx.Pipeline.Store.Set(cmd.Context(), state); err != nil {
				return fmt.Errorf("failed to store credentials: %w", err)
			}
			logger.Info("Credentials stored",
				"context", cliCtx.Pipeline.ContextName,
				"token_prefix", state.TokenPreview(),
				"expires_at", state.ExpiresAt)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Signed in to context %q\n", cliCtx.Pipeline.ContextName)
			fmt.Fprintf(out, "  Token valid for %s\n", formatDuration(time.Until(state.ExpiresAt)))

			if opts.next == "" {
				return nil
			}
			fmt.Fprintf(out, "\nResuming %s\n\n", opts.next)
			return fetchAndPrint(cmd, cliCtx.Pipeline, opts.next)
		},
	}

	cmd.Flags().StringVar(&opts.accessToken, "access-token", "", "Access token to store")
	cmd.Flags().StringVar(&opts.refreshToken, "refresh-token", "", "Refresh token to store with --access-token")
	cmd.Flags().DurationVar(&opts.expiresIn, "expires-in", 0, "Access token lifetime (default: read from the token's exp claim)")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Username for password login (if not provided, will prompt)")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "Password for password login (if not provided, will prompt)")
	cmd.Flags().StringVar(&opts.loginPath, "login-path", "", "Login endpoint path on the content service (default: content.login_path setting)")
	cmd.Flags().StringVar(&opts.next, "next", "", "Content path to open after signing in")

	return cmd
}

// resolveLogin produces the credential triple from flags, prompting for a
// password login when no access token was given.
func resolveLogin(ctx context.Context, p *Pipeline, opts loginOptions, now time.Time) (tokenstore.State, error) {
	if opts.accessToken != "" {
		return tokensFromFlags(opts, now)
	}

	username, password := opts.username, opts.password
	if username == "" || password == "" {
		var err error
		username, password, err = promptCredentials(username)
		if err != nil {
			return tokenstore.State{}, err
		}
	}
	loginPath := opts.loginPath
	if loginPath == "" {
		loginPath = p.Settings.Content.LoginPath
	}
	state, err := client.PasswordLogin(ctx, nil, p.Client.BaseURL(), loginPath, username, password)
	if err != nil {
		var statusErr *client.RefreshStatusError
		if errors.As(err, &statusErr) {
			return tokenstore.State{}, fmt.Errorf("login rejected (status %d)", statusErr.StatusCode)
		}
		return tokenstore.State{}, fmt.Errorf("login failed: %w", err)
	}
	return state, nil
}

// tokensFromFlags builds the triple from --access-token and friends.
func tokensFromFlags(opts loginOptions, now time.Time) (tokenstore.State, error) {
	state := tokenstore.State{
		AccessToken:  opts.accessToken,
		RefreshToken: opts.refreshToken,
	}
	if opts.expiresIn > 0 {
		state.ExpiresAt = now.Add(opts.expiresIn)
	} else {
		exp, err := tokenstore.ExpiryFromJWT(opts.accessToken)
		if err != nil {
			return tokenstore.State{}, fmt.Errorf("cannot determine token expiry, pass --expires-in: %w", err)
		}
		state.ExpiresAt = exp
	}
	return state, nil
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the content service",
		Long:  `End the session for the current context and remove its stored credentials`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := getCliContext(cmd).Pipeline
			if !p.Terminator.Terminate(cmd.Context(), session.ReasonManual, "") {
				fmt.Fprintln(cmd.OutOrStdout(), "Sign-out already in progress")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Successfully logged out")
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := getCliContext(cmd).Pipeline
			state, err := p.Store.Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read credentials: %w", err)
			}
			printStatus(cmd.OutOrStdout(), p.ContextName, state, time.Now())
			return nil
		},
	}
}

// printStatus writes the human-readable credential summary.
func printStatus(w io.Writer, contextName string, state tokenstore.State, now time.Time) {
	if !state.HasAccessToken() {
		fmt.Fprintln(w, "Not logged in")
		return
	}

	fmt.Fprintf(w, "Context: %s\n", contextName)
	fmt.Fprintf(w, "Access token: %s\n", state.TokenPreview())
	if state.HasRefreshToken() {
		fmt.Fprintln(w, "Refresh token: present")
	} else {
		fmt.Fprintln(w, "Refresh token: none (the session ends when the access token is rejected)")
	}

	// Show expiry in local timezone
	fmt.Fprintf(w, "Token expires: %s\n", state.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))

	if state.IsExpired(now) {
		fmt.Fprintf(w, "⚠  Token expired %s ago - automatic refresh will be attempted on next request\n", formatDuration(now.Sub(state.ExpiresAt)))
	} else {
		fmt.Fprintf(w, "✓  Valid for %s\n", formatDuration(state.ExpiresAt.Sub(now)))
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the stored access token",
		Long:  `Print the stored access token for use with other tools (e.g. curl -H "Authorization: Bearer $(portal auth token)")`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := getCliContext(cmd).Pipeline
			state, err := p.Store.Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read credentials: %w", err)
			}
			if !state.HasAccessToken() {
				return fmt.Errorf("not logged in\nRun '%s' first", loginHint(""))
			}
			slog.Debug("printing access token", "token_prefix", state.TokenPreview())
			fmt.Fprintln(cmd.OutOrStdout(), state.AccessToken)
			return nil
		},
	}
}

// promptCredentials asks for whatever the flags left out.
func promptCredentials(username string) (string, string, error) {
	if username == "" {
		fmt.Print("Username: ")
		if _, err := fmt.Scanln(&username); err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
	}

	// Get password (hidden)
	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // newline after password input
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}

	return username, string(passwordBytes), nil
}
