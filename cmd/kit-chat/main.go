// kit-chat is a terminal client for the KIT notes server.
//
// Usage:
//
//	kit-chat [-url ws://localhost:8080/ws] [-token TOKEN]
//
// Lines starting with "/" are local commands; everything else is sent to
// the server as a query.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"kit-notes-server/internal/client"
	"kit-notes-server/internal/config"
	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/history"
	"kit-notes-server/pkg/logger"
)

const usage = `Commands:
  /history          show the context history
  /notes [tag]      list notes, optionally by tag
  /tags             list tags
  /status           show the connection state
  /quit             exit
Anything else is sent as a query.`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Client.ServerURL, "url", cfg.Client.ServerURL, "websocket URL of the server")
	flag.StringVar(&cfg.Client.Token, "token", cfg.Client.Token, "bearer token")
	verbose := flag.Bool("verbose", false, "log connection details to stderr")
	flag.Parse()

	if err := run(cfg, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, verbose bool) error {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logs, err := logger.New().WithLevel(level).ToWriter(os.Stderr).Make()
	if err != nil {
		return err
	}
	defer logs.Close()

	notes, err := client.NewNotesClient(cfg.Client.ServerURL, cfg.Client.Token)
	if err != nil {
		return err
	}

	term := &terminal{out: os.Stdout}
	// refresh is signalled from the read loop and drained by the input loop.
	refresh := make(chan struct{}, 1)
	onReply := func(r client.Reply) {
		term.printReply(r)
		if r.ChangedNotes() {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}

	session := client.NewSession(client.Options{
		URL:           cfg.Client.ServerURL,
		Token:         cfg.Client.Token,
		Retryer:       client.NewRetryer(cfg.Client),
		History:       history.New(cfg.Client.HistoryCapacity),
		OnStateChange: term.printState,
		OnReply:       onReply,
		Logger:        logs.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	term.println(usage)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case <-refresh:
			refreshNotes(ctx, term, notes)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, term, session, notes, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, term *terminal, session *client.Session, notes *client.NotesClient, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if _, err := session.Send(line); err != nil {
			term.println("[system] not sent: %v", err)
		}
		return false
	}

	fields := strings.Fields(line)
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/status":
		term.println("[status] %s", session.State())
	case "/history":
		entries := session.History().Entries()
		if len(entries) == 0 {
			term.println("[history] empty")
		}
		for i, e := range entries {
			term.println("%d. %s (%s, %d note(s))", i+1, e.QueryText, e.ActionType, len(e.Notes))
			for _, n := range e.Notes {
				term.println("   - %s: %s", n.ID, n.Content)
			}
		}
	case "/notes":
		tag := ""
		if len(fields) > 1 {
			tag = fields[1]
		}
		list, err := notes.ListNotes(reqCtx, "", tag)
		if err != nil {
			term.println("[system] %v", err)
			return false
		}
		printNotes(term, list)
	case "/tags":
		tags, err := notes.ListTags(reqCtx)
		if err != nil {
			term.println("[system] %v", err)
			return false
		}
		term.println("[tags] %s", strings.Join(tags, ", "))
	default:
		term.println(usage)
	}
	return false
}

func refreshNotes(ctx context.Context, term *terminal, notes *client.NotesClient) {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	list, err := notes.ListNotes(reqCtx, "", "")
	if err != nil {
		term.println("[system] note list not refreshed: %v", err)
		return
	}
	term.println("[notes] %d note(s)", len(list))
	printNotes(term, list)
}

func printNotes(term *terminal, notes []*domain.NoteResponse) {
	if len(notes) == 0 {
		term.println("[notes] none")
		return
	}
	for _, n := range notes {
		tags := ""
		if len(n.Tags) > 0 {
			tags = " #" + strings.Join(n.Tags, " #")
		}
		term.println("%s. %s%s", n.ID, n.Content, tags)
	}
}

// terminal serializes output from the read loop and the prompt.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) println(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) printState(s client.State) {
	t.println("[status] %s", s)
}

func (t *terminal) printReply(r client.Reply) {
	resp := r.Response
	if resp.Error != "" {
		t.println("[system] %s", resp.Error)
		return
	}
	if resp.ResponseText != "" {
		t.println("KIT: %s", resp.ResponseText)
	}
	if resp.ActionFeedback != "" {
		t.println("[action] %s", resp.ActionFeedback)
	}
	if r.Recorded {
		t.println("[history] recorded %q", r.Query)
	}
}
