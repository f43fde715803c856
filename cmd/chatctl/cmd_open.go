package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chatsync/internal/connection"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
)

func init() {
	rootCmd.AddCommand(openCmd)
}

const openHelp = `Type a message and press enter to send it.
  /more          load older messages
  /rename NAME   rename the chat
  /quit          leave`

var openCmd = &cobra.Command{
	Use:   "open [chat-id]",
	Short: "Join a chat interactively; without an id a new chat is started",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := newPrinter(os.Stdout)
		ctrl := session.New(e.rest,
			session.ManagerFactory(e.cfg.Connection(), connection.WebSocketDialer{HandshakeTimeout: e.cfg.WSConnectTimeout}, e.creds, connection.WithLogger(e.logger)),
			session.Options{
				PageSize: e.cfg.PageSize,
				Logger:   e.logger,
				OnChange: p.render,
			},
		)
		defer ctrl.Close()

		if len(args) == 1 {
			if err := ctrl.SelectChat(ctx, args[0]); err != nil {
				return err
			}
		} else {
			chat, err := ctrl.StartNewChat(ctx, "")
			if err != nil {
				return err
			}
			fmt.Printf("Started chat %s.\n", chat.ID)
		}
		fmt.Println(openHelp)

		lines := make(chan string)
		go readLines(os.Stdin, lines)

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(ctx, ctrl, line); quit {
					return nil
				}
			}
		}
	},
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handleLine runs one input line and reports whether to leave.
func handleLine(ctx context.Context, ctrl *session.Controller, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/more":
		if err := ctrl.LoadMoreMessages(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "load more: %v\n", err)
		}
	case strings.HasPrefix(line, "/rename "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/rename "))
		if _, err := ctrl.RenameChat(ctx, ctrl.SelectedChatID(), name); err != nil {
			fmt.Fprintf(os.Stderr, "rename: %v\n", err)
		}
	case strings.HasPrefix(line, "/"):
		fmt.Println(openHelp)
	default:
		if err := ctrl.SendMessage(ctx, line); err != nil && !errors.Is(err, session.ErrEmptyMessage) {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
		}
	}
	return false
}

// printer writes each settled message once, plus connection changes.
type printer struct {
	out io.Writer

	mu     sync.Mutex
	seen   map[string]bool
	status connection.Status
	errs   map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, seen: map[string]bool{}, errs: map[string]bool{}}
}

func (p *printer) render(s session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Connection.Status != p.status {
		p.status = s.Connection.Status
		switch p.status {
		case connection.StatusOpen:
			fmt.Fprintln(p.out, "-- connected")
		case connection.StatusClosedError:
			msg := "-- connection lost"
			if s.Connection.ReconnectAttempt > 0 {
				msg += fmt.Sprintf(", reconnecting (attempt %d)", s.Connection.ReconnectAttempt)
			}
			fmt.Fprintln(p.out, msg)
		}
	}

	// Messages are newest first.
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.SendError && !p.seen[m.ID] {
			p.seen[m.ID] = true
			fmt.Fprintf(p.out, "!! not sent: %s\n", m.Content)
			continue
		}
		if m.IsTemporary || m.IsStreaming || m.Kind == model.KindThinking || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		fmt.Fprintln(p.out, formatMessage(m))
	}

	for _, err := range []error{s.ConnectionError, s.ParseError, s.SendError} {
		if err == nil || p.errs[err.Error()] {
			continue
		}
		p.errs[err.Error()] = true
		fmt.Fprintf(p.out, "!! %v\n", err)
	}
}
