// ABOUTME: Session worker feeding inbound messages from one transport into the dispatcher.
// ABOUTME: Runs background scanners on every message and dispatches prefixed commands.

package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/plugins"
	"github.com/2389/coven-bot/internal/transport"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "!"

// DefaultConcurrency bounds how many messages one worker handles at once.
const DefaultConcurrency = 16

// Config contains configuration options for a Worker.
type Config struct {
	SessionID   string
	Prefixes    []string
	Concurrency int
	Listener    transport.Listener
	Dispatcher  *plugins.Dispatcher
	Logger      *slog.Logger
}

// Outcome is what a worker did with one message.
type Outcome struct {
	Scan    plugins.ScanReport
	Command string
	Result  *plugins.Result
}

// Worker is one logged-in session's message loop.
type Worker struct {
	id         string
	sessionID  string
	prefixes   []string
	listener   transport.Listener
	dispatcher *plugins.Dispatcher
	logger     *slog.Logger

	sem      chan struct{}
	wg       sync.WaitGroup
	received atomic.Int64
	commands atomic.Int64
}

// NewWorker creates a Worker with a fresh worker ID.
func NewWorker(cfg Config) *Worker {
	prefixes := make([]string, 0, len(cfg.Prefixes))
	for _, p := range cfg.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		prefixes = []string{DefaultPrefix}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	id := uuid.New().String()
	return &Worker{
		id:         id,
		sessionID:  cfg.SessionID,
		prefixes:   prefixes,
		listener:   cfg.Listener,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger.With("component", "worker", "session_id", cfg.SessionID, "worker_id", id),
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// ID returns the worker's unique ID.
func (w *Worker) ID() string {
	return w.id
}

// SessionID returns the session the worker serves.
func (w *Worker) SessionID() string {
	return w.sessionID
}

// Run listens for messages until ctx is cancelled, then waits for in-flight
// messages to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("session worker running")
	defer w.logger.Info("session worker stopped",
		"received", w.received.Load(),
		"commands", w.commands.Load(),
	)

	err := w.listener.Listen(ctx, func(_ context.Context, msg transport.Inbound) {
		w.HandleMessage(ctx, msg)
	})
	w.wg.Wait()
	return err
}

// HandleMessage processes msg in the background so the listener is never
// blocked. Messages are dropped once ctx is cancelled.
func (w *Worker) HandleMessage(ctx context.Context, msg transport.Inbound) {
	w.received.Add(1)

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.Process(ctx, msg)
	}()
}

// Process runs scanners and, for prefixed messages, the command dispatcher.
func (w *Worker) Process(ctx context.Context, msg transport.Inbound) Outcome {
	m := permission.MessageContext{
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		MessageID: msg.MessageID,
		SessionID: w.sessionID,
		WorkerID:  w.id,
		IsGroup:   msg.IsGroup,
	}

	var out Outcome
	out.Scan = w.dispatcher.Scan(ctx, m, msg.Text)

	command, args, ok := ParseCommand(msg.Text, w.prefixes)
	if !ok {
		return out
	}
	w.commands.Add(1)

	res := w.dispatcher.Dispatch(ctx, m, command, args)
	out.Command = command
	out.Result = &res

	if res.Err != nil && !res.Success {
		w.logger.Debug("command not executed",
			"command", command,
			"chat_id", msg.ChatID,
			"error", res.Err,
		)
	}
	return out
}

// ParseCommand splits a prefixed message into a command and its arguments.
// The longest matching prefix wins.
func ParseCommand(text string, prefixes []string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	matched := ""
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) && len(p) > len(matched) {
			matched = p
		}
	}
	if matched == "" {
		return "", nil, false
	}

	fields := strings.Fields(strings.TrimPrefix(text, matched))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
