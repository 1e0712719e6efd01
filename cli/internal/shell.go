package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/portal/internal/session"
)

const shellHelp = `Commands:
  get <path>       fetch and print a page
  open <title>     fetch an article by title
  status           show credential status
  logout           end the session
  help             show this help
  exit             leave the shell
`

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with inactivity sign-out",
		Long: `Start an interactive shell. Every line you type counts as activity; when
none arrives for the configured window the session ends and its credentials
are removed. The shell exits when the session ends for any reason.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			sh := &shell{cmd: cmd, p: cliCtx.Pipeline}
			if cliCtx.Settings.Session.Inactivity.Enabled {
				monitor, err := cliCtx.Pipeline.NewInactivityMonitor()
				if err != nil {
					return fmt.Errorf("failed to start inactivity monitor: %w", err)
				}
				sh.monitor = monitor
			}
			return sh.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// shell is one interactive session over a pipeline.
type shell struct {
	cmd     *cobra.Command
	p       *Pipeline
	monitor *session.InactivityMonitor
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	out := s.cmd.OutOrStdout()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if s.monitor != nil {
		s.monitor.Start()
		defer s.monitor.Stop()
	}
	fmt.Fprintf(out, "Connected to %s as context %q. Type 'help' for commands.\n", s.p.Client.BaseURL(), s.p.ContextName)

	for {
		fmt.Fprint(out, "portal> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.p.Events.Events():
			if ev.Type == session.EventSessionEnded {
				s.p.Logger.Info("shell closing after session end", "reason", ev.Signal.Reason)
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			if s.monitor != nil {
				s.monitor.Touch(session.ActivityKey)
			}
			done, err := s.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

// exec runs one shell line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	out := s.cmd.OutOrStdout()

	switch fields[0] {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprint(out, shellHelp)
		return false, nil
	case "get":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: get <path>")
		}
		path, err := requestPath(fields[1:], "")
		if err != nil {
			return false, err
		}
		return false, s.open(path)
	case "open":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: open <title>")
		}
		return false, s.open(articlePath(strings.Join(fields[1:], " ")))
	case "status":
		state, err := s.p.Store.Get(ctx)
		if err != nil {
			return false, err
		}
		printStatus(out, s.p.ContextName, state, time.Now())
		return false, nil
	case "logout":
		s.p.Terminator.Terminate(ctx, session.ReasonManual, "")
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", fields[0])
	}
}

func (s *shell) open(path string) error {
	if s.monitor != nil {
		s.monitor.SetView(path)
		s.monitor.Touch(session.ActivityNavigation)
	}
	return fetchAndPrint(s.cmd, s.p, path)
}
