package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"google.golang.org/grpc"

	"github.com/devilmonastery/portal/internal/client"
	"github.com/devilmonastery/portal/internal/config"
	"github.com/devilmonastery/portal/internal/pkg/idgen"
	"github.com/devilmonastery/portal/internal/pkg/urlutil"
	"github.com/devilmonastery/portal/internal/session"
	"github.com/devilmonastery/portal/internal/tokenstore"
)

// Pipeline is the per-invocation authenticated request pipeline for one context.
type Pipeline struct {
	ContextName string
	Context     *Context
	Settings    *config.Config
	Store       tokenstore.Store
	Terminator  *session.Terminator
	Client      *client.Client
	Events      *session.ChannelNotifier
	Logger      *slog.Logger

	out io.Writer
}

// terminalNotifier prints session events for the user.
type terminalNotifier struct {
	w io.Writer
}

func (n terminalNotifier) SessionEnded(sig session.Signal) {
	fmt.Fprintf(n.w, "\n⚠  %s\n", sig.Reason.Message())
}

func (n terminalNotifier) InactivityWarning(remaining time.Duration) {
	fmt.Fprintf(n.w, "\n⏳ Your session will end in %s unless you continue.\n", formatDuration(remaining))
}

// loginHint turns a re-authentication destination into the command that resumes it.
func loginHint(destination string) string {
	hint := "portal auth login"
	u, err := url.Parse(destination)
	if err != nil {
		return hint
	}
	if next := u.Query().Get(urlutil.NextParam); next != "" {
		hint += " --next " + next
	}
	return hint
}

// loginNavigator hands off to the login command. The CLI cannot navigate on
// the user's behalf, so the hand-off is complete once the hint is printed.
func loginNavigator(w io.Writer) session.Navigator {
	return session.NavigatorFunc(func(_ context.Context, destination string) error {
		_, err := fmt.Fprintf(w, "   Run '%s' to sign in again.\n", loginHint(destination))
		return err
	})
}

// storeOptions scopes the configured token store to the CLI context, so each
// context keeps its own credentials.
func storeOptions(settings *config.Config, contextName string, cliCtx *Context) (tokenstore.Options, error) {
	opts := settings.StoreOptions()
	if cliCtx.TokenStore.Backend != "" {
		opts.Backend = cliCtx.TokenStore.Backend
	}
	switch opts.Backend {
	case "", "file":
		base := opts.Dir
		if base == "" {
			var err error
			base, err = tokenstore.DefaultDir()
			if err != nil {
				return opts, err
			}
		}
		opts.Dir = filepath.Join(base, contextName)
	case "redis":
		opts.KeyPrefix = opts.KeyPrefix + ":" + contextName
	case "keyring":
		opts.KeyringService = opts.KeyringService + "-" + contextName
	}
	return opts, nil
}

// NewPipeline wires token store, terminator and content client for a context.
func NewPipeline(contextName string, cliCtx *Context, settings *config.Config, out io.Writer, log *slog.Logger) (*Pipeline, error) {
	if err := idgen.Initialize(settings.Content.NodeID); err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}

	opts, err := storeOptions(settings, contextName, cliCtx)
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	store, err := tokenstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	events := session.NewChannelNotifier(8, log)
	notifier := session.Notifiers{terminalNotifier{w: out}, events}
	term := session.NewTerminator(store, notifier, loginNavigator(out), settings.TerminatorConfig(), log)

	baseURL := cliCtx.Server.URL
	if baseURL == "" {
		baseURL = settings.Content.BaseURL
	}
	c, err := client.New(client.Options{
		BaseURL:        baseURL,
		Store:          store,
		Ender:          term,
		RefreshPath:    settings.Content.RefreshPath,
		RefreshTimeout: settings.Content.RefreshTimeout,
		Timeout:        settings.Content.Timeout,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		ContextName: contextName,
		Context:     cliCtx,
		Settings:    settings,
		Store:       store,
		Terminator:  term,
		Client:      c,
		Events:      events,
		Logger:      log,
		out:         out,
	}, nil
}

// Close releases the token store's connection, if it holds one.
func (p *Pipeline) Close() error {
	if c, ok := p.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewInactivityMonitor builds a monitor that ends this pipeline's session.
func (p *Pipeline) NewInactivityMonitor() (*session.InactivityMonitor, error) {
	return session.NewInactivityMonitor(p.Settings.InactivityConfig(), p.Terminator, terminalNotifier{w: p.out}, p.Logger)
}

// DialGRPC connects to the content service's gRPC endpoint through the
// pipeline's auth interceptor.
func (p *Pipeline) DialGRPC(extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	address := p.Context.Server.GRPCAddress
	if address == "" {
		address = p.Settings.Content.GRPCAddress
	}
	serverName := p.Context.Server.Name
	if serverName == "" {
		serverName = p.Settings.Content.GRPCServerName
	}
	interceptor := client.NewAuthInterceptor(p.Store, p.Client.Coordinator(), p.Logger)
	return client.Dial(address, serverName, interceptor, extra...)
}
