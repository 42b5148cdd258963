package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/content"
	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/spf13/cobra"
)

const replHelp = `commands:
  /new              start a new session
  /sessions         list sessions
  /switch <n>       switch to session n
  /plan basic|pro   say which plan you are interested in
  /pro              switch to the Pro plan
  /confirm          submit the lead
  /lead             show the lead collected so far
  /quit             exit
anything else is sent as a message`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		copyPath      string
		fallbackDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			copyText, err := content.Load(copyPath)
			if err != nil {
				return err
			}
			r := newREPL(cmd.OutOrStdout())
			ctrl := chat.NewController(chat.Config{
				ClientID:              "cli",
				Backend:               opts.client(),
				Notifier:              chat.NotifierFunc(r.notice),
				Copy:                  copyText,
				FallbackDelay:         fallbackDelay,
				GreetingFallbackDelay: fallbackDelay,
			})
			defer ctrl.Close()
			return r.run(cmd.Context(), ctrl, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&copyPath, "copy", "", "YAML file overriding the canned chat copy")
	cmd.Flags().DurationVar(&fallbackDelay, "fallback-delay", 500*time.Millisecond, "delay before the offline fallback message")
	return cmd
}

// repl prints AI messages as they land in the active session, from the
// store's change feed and synchronously after each command.
type repl struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]int
}

func newREPL(out io.Writer) *repl {
	return &repl{out: out, seen: make(map[string]int)}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) notice(n chat.Notice) {
	r.printf("[%s] %s\n", n.Level, n.Text)
}

// flush prints the AI messages of the active session not printed yet.
func (r *repl) flush(st chat.State) {
	active := st.Active()
	r.mu.Lock()
	defer r.mu.Unlock()
	// Feed snapshots can arrive after a newer synchronous flush.
	from := r.seen[active.ID]
	if from >= len(active.Messages) {
		return
	}
	for _, m := range active.Messages[from:] {
		if m.Sender == domain.SenderAI {
			_, _ = fmt.Fprintf(r.out, "assistant> %s\n", m.Content)
		}
	}
	r.seen[active.ID] = len(active.Messages)
}

func (r *repl) run(ctx context.Context, ctrl *chat.Controller, in io.Reader) error {
	updates, unsubscribe := ctrl.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range updates {
			r.flush(st)
		}
	}()
	defer func() {
		unsubscribe()
		<-done
	}()

	r.printf("connected; type /help for commands\n")
	r.start(ctx, ctrl)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := r.dispatch(ctx, ctrl, line)
		r.flush(ctrl.Snapshot())
		if err != nil {
			r.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func (r *repl) start(ctx context.Context, ctrl *chat.Controller) {
	if err := ctrl.Start(ctx); err != nil {
		r.printf("backend unreachable: %v\n", err)
	}
	r.flush(ctrl.Snapshot())
}

func (r *repl) dispatch(ctx context.Context, ctrl *chat.Controller, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		_, err := ctrl.HandleUserMessage(ctx, line)
		if errors.Is(err, chat.ErrInputDisabled) {
			return false, errors.New("this session is submitted; use /new to start another")
		}
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.printf("%s\n", replHelp)
	case "/new":
		sess := ctrl.CreateSession()
		r.printf("new session %s\n", sess.Title)
		r.start(ctx, ctrl)
	case "/sessions":
		st := ctrl.Snapshot()
		for i, s := range st.Sessions {
			marker := " "
			if s.ID == st.ActiveSessionID {
				marker = "*"
			}
			r.printf("%s %d. %s (%d messages)\n", marker, i+1, s.Title, len(s.Messages))
		}
	case "/switch":
		var n int
		if len(fields) != 2 {
			return false, errors.New("usage: /switch <n>")
		}
		if _, err := fmt.Sscanf(fields[1], "%d", &n); err != nil {
			return false, fmt.Errorf("usage: /switch <n>: %w", err)
		}
		st := ctrl.Snapshot()
		if n < 1 || n > len(st.Sessions) {
			return false, fmt.Errorf("no session %d", n)
		}
		ctrl.SelectSession(st.Sessions[n-1].ID)
		r.printf("switched to %s\n", st.Sessions[n-1].Title)
	case "/plan":
		if len(fields) != 2 {
			return false, errors.New("usage: /plan basic|pro")
		}
		_, err := ctrl.SelectPlan(ctx, domain.Plan(fields[1]))
		return false, err
	case "/pro":
		_, err := ctrl.SwitchToPro(ctx)
		return false, err
	case "/confirm":
		ctrl.Confirm()
		r.printf("lead submitted\n")
	case "/lead":
		lead := ctrl.Store().ActiveSession().LeadInfo
		r.printf("name=%s email=%s platform=%s\n", show(lead.Name), show(lead.Email), show(lead.Platform))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func show(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
