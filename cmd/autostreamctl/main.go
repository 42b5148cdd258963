// autostreamctl is a command-line client for the AutoStream backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	apiURL  string
	timeout time.Duration
	verbose bool
}

func (o *rootOptions) client() *backend.Client {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return backend.NewClient(backend.ClientConfig{BaseURL: o.apiURL, Timeout: o.timeout}, logger)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	defaultURL := os.Getenv("AUTOSTREAM_API_URL")
	if defaultURL == "" {
		defaultURL = backend.DefaultBaseURL
	}

	root := &cobra.Command{
		Use:           "autostreamctl",
		Short:         "Talk to the AutoStream sales assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", defaultURL, "backend base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout (0 = none)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log backend calls")

	root.AddCommand(newHealthCmd(opts))
	root.AddCommand(newStatsCmd(opts))
	root.AddCommand(newSessionCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newChatCmd(opts))
	return root
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backend %s: %s\n", opts.apiURL, h.Status)
			return nil
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show backend session statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := opts.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Inspect backend sessions"}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a session's backend state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := opts.client().GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	session.AddCommand(getCmd, deleteCmd)
	return session
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a health, chat, session and stats smoke test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts.client(), keep)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the smoke test session on the backend")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, client *backend.Client, keep bool) error {
	sessionID := "smoke_" + uuid.NewString()

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	_, _ = fmt.Fprintf(out, "health   ok (%s)\n", h.Status)

	resp, err := client.SendMessage(ctx, sessionID, "Hi")
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	_, _ = fmt.Fprintf(out, "chat     ok (intent=%s)\n", resp.Intent)

	state, err := client.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	_, _ = fmt.Fprintf(out, "session  ok (turns=%d)\n", state.TurnCount)

	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	_, _ = fmt.Fprintf(out, "stats    ok (%d/%d sessions)\n", stats.TotalSessions, stats.MaxSessions)

	if keep {
		_, _ = fmt.Fprintf(out, "kept session %s\n", sessionID)
		return nil
	}
	if err := client.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	_, _ = fmt.Fprintln(out, "cleanup  ok")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
