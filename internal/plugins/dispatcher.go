// ABOUTME: Dispatcher running the mode, permission, feature and execution pipeline per message.
// ABOUTME: Gates side effects through the deduplicator and retries transient failures for one category.

package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-bot/internal/dedupe"
	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/store"
	"github.com/2389/coven-bot/internal/transport"
	"github.com/2389/coven-bot/internal/ttlcache"
)

// Dispatch outcomes.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidContext   = errors.New("invalid message context")
	ErrDuplicate        = errors.New("already handled by another worker")
	ErrModeRestricted   = errors.New("session is in self mode")
	ErrFeatureDisabled  = errors.New("feature disabled")
	ErrPermissionDenied = errors.New("permission denied")
	ErrHandlerPanic     = errors.New("handler panicked")
)

// GenericErrorMessage is sent when a handler fails unexpectedly.
const GenericErrorMessage = "An error occurred, please try again."

// Dedup actions are the handler ID prefixed with one of these. Each action
// locks its own record, so a worker sending a denial or running a scanner
// never holds up execution of the same message elsewhere.
const (
	actionExec = "exec:"
	actionDeny = "deny:"
	actionScan = "scan:"
)

// Default dispatcher tuning.
const (
	DefaultMaxAttempts  = 2
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultExecTimeout  = 30 * time.Second
)

// Result is the outcome of one dispatch.
type Result struct {
	Success bool
	// Output is the handler's reply, or the denial message on a permission denial.
	Output string
	Err    error
	// Silent means nothing was sent to the chat.
	Silent bool
}

// Stats is a snapshot of dispatcher state.
type Stats struct {
	TotalHandlers int   `json:"total_handlers"`
	TotalCommands int   `json:"total_commands"`
	TotalScanners int   `json:"total_scanners"`
	CacheSize     int   `json:"cache_size"`
	LockCount     int   `json:"lock_count"`
	Dispatched    int64 `json:"dispatched"`
	Executed      int64 `json:"executed"`
	Denied        int64 `json:"denied"`
	Failed        int64 `json:"failed"`
	Scanned       int64 `json:"scanned"`
}

// ScanReport counts what one Scan call did.
type ScanReport struct {
	Processed int
	Skipped   int
	Failed    int
}

// DispatcherConfig contains configuration options for the Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Engine   *permission.Engine
	Dedup    *dedupe.Deduplicator
	Sessions *transport.Sessions
	Settings store.SettingsStore
	Logger   *slog.Logger

	// DedupDenialCategories lists handler categories whose denial messages are
	// sent by only one of several racing workers.
	DedupDenialCategories []string
	// RetryCategory is the one handler category retried on transient errors.
	RetryCategory string
	MaxAttempts   int
	RetryBackoff  time.Duration
	ExecTimeout   time.Duration
	// NotifyFeatureDisabled tells group admins when a disabled feature is invoked.
	NotifyFeatureDisabled bool
	// ModeCache tunes the session mode cache.
	ModeCache ttlcache.Options
}

// Dispatcher routes commands to handlers.
type Dispatcher struct {
	registry *Registry
	engine   *permission.Engine
	dedup    *dedupe.Deduplicator
	sessions *transport.Sessions
	settings store.SettingsStore
	modes    *ttlcache.Cache[store.SessionMode]
	logger   *slog.Logger

	dedupDenial   []string
	retryCategory string
	maxAttempts   int
	retryBackoff  time.Duration
	execTimeout   time.Duration
	notifyFeature bool

	dispatched atomic.Int64
	executed   atomic.Int64
	denied     atomic.Int64
	failed     atomic.Int64
	scanned    atomic.Int64
}

// NewDispatcher creates a new Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.DedupDenialCategories == nil {
		cfg.DedupDenialCategories = []string{permission.GroupCategory, "owner"}
	}
	logger := cfg.Logger.With("component", "dispatcher")

	categories := make([]string, 0, len(cfg.DedupDenialCategories))
	for _, c := range cfg.DedupDenialCategories {
		categories = append(categories, strings.ToLower(strings.TrimSpace(c)))
	}

	return &Dispatcher{
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		dedup:         cfg.Dedup,
		sessions:      cfg.Sessions,
		settings:      cfg.Settings,
		modes:         ttlcache.New[store.SessionMode](cfg.ModeCache, logger),
		logger:        logger,
		dedupDenial:   categories,
		retryCategory: strings.ToLower(strings.TrimSpace(cfg.RetryCategory)),
		maxAttempts:   cfg.MaxAttempts,
		retryBackoff:  cfg.RetryBackoff,
		execTimeout:   cfg.ExecTimeout,
		notifyFeature: cfg.NotifyFeatureDisabled,
	}
}

// RegisterBackgroundHandler registers h as a background scanner.
func (d *Dispatcher) RegisterBackgroundHandler(h *Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidHandler)
	}
	cp := *h
	cp.Kind = KindScanner
	return d.registry.Register(&cp)
}

// Dispatch runs command for the message in m.
func (d *Dispatcher) Dispatch(ctx context.Context, m permission.MessageContext, command string, args []string) Result {
	d.dispatched.Add(1)

	h, ok := d.registry.Resolve(command)
	if !ok {
		return Result{Silent: true, Err: fmt.Errorf("%w: %q", ErrUnknownCommand, command)}
	}

	key, t, err := d.validate(m)
	if err != nil {
		d.logger.Warn("refusing to dispatch",
			"handler_id", h.ID,
			"chat_id", m.ChatID,
			"sender_id", m.SenderID,
			"message_id", m.MessageID,
			"error", err,
		)
		return Result{Silent: true, Err: err}
	}

	m = d.enrich(ctx, t, m)

	d.logger.Info("→ dispatching command",
		"command", normalizeCommand(command),
		"handler_id", h.ID,
		"chat_id", m.ChatID,
		"sender_id", m.SenderID,
		"session_id", m.SessionID,
	)

	var (
		modeOK   bool
		decision permission.Decision
	)
	var g errgroup.Group
	g.Go(func() error {
		modeOK = d.checkMode(ctx, m)
		return nil
	})
	g.Go(func() error {
		decision = d.engine.Evaluate(ctx, h.Permissions, m)
		return nil
	})
	_ = g.Wait()

	if !modeOK {
		d.logger.Debug("session in self mode, ignoring command", "handler_id", h.ID, "sender_id", m.SenderID)
		return Result{Silent: true, Err: ErrModeRestricted}
	}

	if res, blocked := d.checkFeature(ctx, t, h, m, true); blocked {
		return res
	}

	if !decision.Allowed {
		return d.deny(ctx, t, key, h, m, decision)
	}

	return d.execute(ctx, t, key, h, &Invocation{
		Handler:   h,
		Message:   m,
		Command:   normalizeCommand(command),
		Args:      args,
		Transport: t,
	})
}

// Scan runs every background scanner against one inbound message. Each
// scanner processes the message at most once across workers.
func (d *Dispatcher) Scan(ctx context.Context, m permission.MessageContext, text string) ScanReport {
	var report ScanReport

	scanners := d.registry.Scanners()
	if len(scanners) == 0 {
		return report
	}

	key, t, err := d.validate(m)
	if err != nil {
		d.logger.Warn("refusing to scan", "chat_id", m.ChatID, "message_id", m.MessageID, "error", err)
		return report
	}
	m = d.enrich(ctx, t, m)

	for _, h := range scanners {
		if _, blocked := d.checkFeature(ctx, t, h, m, false); blocked {
			report.Skipped++
			continue
		}

		sd := d.engine.EvaluateScanner(ctx, h.Permissions, m)
		if !sd.Process {
			d.logger.Debug("scanner skipped sender", "handler_id", h.ID, "sender_id", m.SenderID, "reason", sd.Reason)
			report.Skipped++
			continue
		}

		action := actionScan + h.ID
		lk := lockKey(key, action)
		if !d.dedup.TryLockForProcessing(lk, m.WorkerID, action) {
			report.Skipped++
			continue
		}

		inv := &Invocation{Handler: h, Message: m, Text: text, Transport: t}
		out, err := d.run(ctx, h, inv)
		if err != nil {
			d.logger.Error("scanner failed", "handler_id", h.ID, "chat_id", m.ChatID, "error", err)
			report.Failed++
		} else {
			d.reply(ctx, t, m, out)
			report.Processed++
		}
		d.dedup.MarkAsProcessed(lk, m.WorkerID, action)
		d.scanned.Add(1)
	}
	return report
}

// validate checks the message context and returns its dedup key and the
// session's transport.
func (d *Dispatcher) validate(m permission.MessageContext) (string, transport.Transport, error) {
	if m.ChatID == "" || m.SenderID == "" || m.MessageID == "" || m.WorkerID == "" {
		return "", nil, ErrInvalidContext
	}
	key, ok := dedupe.GenerateKey(m.ChatID, m.MessageID)
	if !ok {
		return "", nil, ErrInvalidContext
	}
	t, err := d.sessions.Get(m.SessionID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}
	return key, t, nil
}

// enrich resolves IsCreator and, in groups, prefetches admin answers in parallel.
// Failed prefetches are left unset so evaluation retries and applies its own
// error policy.
func (d *Dispatcher) enrich(ctx context.Context, t transport.Transport, m permission.MessageContext) permission.MessageContext {
	if !m.IsCreator {
		m.IsCreator = m.SenderID == t.BotID()
	}
	if !m.IsGroup {
		return m
	}

	var isAdmin, isBotAdmin *bool
	var g errgroup.Group
	g.Go(func() error {
		if ok, err := d.engine.AdminStatus(ctx, m); err == nil {
			isAdmin = &ok
		}
		return nil
	})
	g.Go(func() error {
		if ok, err := d.engine.BotAdminStatus(ctx, m); err == nil {
			isBotAdmin = &ok
		}
		return nil
	})
	_ = g.Wait()

	m.IsAdmin = isAdmin
	m.IsBotAdmin = isBotAdmin
	return m
}

// checkMode reports whether the session's mode lets the sender run commands.
// A failed lookup fails closed.
func (d *Dispatcher) checkMode(ctx context.Context, m permission.MessageContext) bool {
	mode, ok := d.modes.Get(m.SessionID)
	if !ok {
		var err error
		mode, err = d.settings.SessionMode(ctx, m.SessionID)
		if err != nil {
			d.logger.Warn("session mode lookup failed", "session_id", m.SessionID, "error", err)
			return false
		}
		d.modes.Set(m.SessionID, mode)
	}
	if mode != store.ModeSelf {
		return true
	}

	owner, err := d.engine.OwnerStatus(ctx, m)
	if err != nil {
		d.logger.Warn("owner lookup failed in self mode", "session_id", m.SessionID, "error", err)
		return false
	}
	return owner
}

// InvalidateMode drops the cached mode for a session.
func (d *Dispatcher) InvalidateMode(sessionID string) {
	d.modes.Delete(sessionID)
}

// checkFeature reports whether h's feature toggle blocks it in m's chat. When
// notify is set and the chat is a group, the group's admins are told once.
func (d *Dispatcher) checkFeature(ctx context.Context, t transport.Transport, h *Handler, m permission.MessageContext, notify bool) (Result, bool) {
	if h.Feature == "" {
		return Result{}, false
	}

	enabled, err := d.settings.FeatureEnabled(ctx, m.ChatID, h.Feature)
	switch {
	case errors.Is(err, store.ErrNotFound):
		enabled = h.FeatureDefault
	case err != nil:
		d.logger.Warn("feature lookup failed", "feature", h.Feature, "chat_id", m.ChatID, "error", err)
		return Result{Silent: true, Err: fmt.Errorf("%w: %s: %w", ErrFeatureDisabled, h.Feature, err)}, true
	}
	if enabled {
		return Result{}, false
	}

	res := Result{Silent: true, Err: fmt.Errorf("%w: %s", ErrFeatureDisabled, h.Feature)}
	if notify && d.notifyFeature && m.IsGroup {
		if d.notifyAdmins(ctx, t, h, m) {
			res.Silent = false
		}
	}
	return res, true
}

func (d *Dispatcher) notifyAdmins(ctx context.Context, t transport.Transport, h *Handler, m permission.MessageContext) bool {
	key, _ := dedupe.GenerateKey(m.ChatID, m.MessageID)
	action := actionDeny + h.ID
	lk := lockKey(key, action)
	if !d.dedup.TryLockForProcessing(lk, m.WorkerID, action) {
		return false
	}
	defer d.dedup.MarkAsProcessed(lk, m.WorkerID, action)

	meta, err := t.GetGroupMetadata(ctx, m.ChatID)
	if err != nil {
		d.logger.Warn("could not load group admins", "chat_id", m.ChatID, "error", err)
		return false
	}
	msg := fmt.Sprintf("The %s feature is disabled in this group. An admin can enable it.", h.Feature)
	if _, err := t.SendMessage(ctx, m.ChatID, msg, transport.SendOptions{
		ReplyTo:  m.MessageID,
		Mentions: meta.Admins(),
	}); err != nil {
		d.logger.Warn("failed to notify admins", "chat_id", m.ChatID, "error", err)
		return false
	}
	return true
}

// deny reports a permission denial, sending the message unless silent. For
// the configured categories only one racing worker sends it.
func (d *Dispatcher) deny(ctx context.Context, t transport.Transport, key string, h *Handler, m permission.MessageContext, decision permission.Decision) Result {
	d.denied.Add(1)
	res := Result{
		Output: decision.Message,
		Err:    fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Message),
		Silent: true,
	}
	if decision.Err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrPermissionDenied, decision.Message, decision.Err)
	}

	d.logger.Info("permission denied",
		"handler_id", h.ID,
		"sender_id", m.SenderID,
		"chat_id", m.ChatID,
		"reason", decision.Message,
		"silent", decision.Silent || h.Silent,
	)

	if decision.Silent || h.Silent || decision.Message == "" {
		return res
	}

	if slices.Contains(d.dedupDenial, strings.ToLower(h.Category)) {
		action := actionDeny + h.ID
		lk := lockKey(key, action)
		if !d.dedup.TryLockForProcessing(lk, m.WorkerID, action) {
			return res
		}
		defer d.dedup.MarkAsProcessed(lk, m.WorkerID, action)
	}

	if _, err := t.SendMessage(ctx, m.ChatID, decision.Message, transport.SendOptions{ReplyTo: m.MessageID}); err != nil {
		d.logger.Warn("failed to send denial", "handler_id", h.ID, "chat_id", m.ChatID, "error", err)
		return res
	}
	res.Silent = false
	return res
}

// execute runs the handler at most once across workers and replies with its output.
func (d *Dispatcher) execute(ctx context.Context, t transport.Transport, key string, h *Handler, inv *Invocation) Result {
	m := inv.Message
	action := actionExec + h.ID
	lk := lockKey(key, action)
	if !d.dedup.TryLockForProcessing(lk, m.WorkerID, action) {
		d.logger.Debug("command already handled", "handler_id", h.ID, "key", lk, "worker_id", m.WorkerID)
		return Result{Silent: true, Err: ErrDuplicate}
	}
	defer d.dedup.MarkAsProcessed(lk, m.WorkerID, action)
	defer d.holdLock(lk, m.WorkerID)()

	out, err := d.runWithRetry(ctx, h, inv)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("handler failed",
			"handler_id", h.ID,
			"chat_id", m.ChatID,
			"sender_id", m.SenderID,
			"error", err,
		)
		d.reply(ctx, t, m, GenericErrorMessage)
		return Result{Err: fmt.Errorf("handler %s: %w", h.ID, err)}
	}

	d.executed.Add(1)
	d.logger.Info("← handler completed", "handler_id", h.ID, "chat_id", m.ChatID)
	d.reply(ctx, t, m, out)
	return Result{Success: true, Output: out, Silent: out == ""}
}

// holdLock refreshes the lock on key every third of the lock timeout until
// the returned func is called, so a long handler keeps exclusivity.
func (d *Dispatcher) holdLock(key, workerID string) (release func()) {
	interval := d.dedup.LockTimeout() / 3
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !d.dedup.Refresh(key, workerID) {
					d.logger.Warn("lost processing lock while handler running", "key", key, "worker_id", workerID)
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func lockKey(key, action string) string {
	return key + "#" + action
}

// runWithRetry retries transient failures for the configured category with
// linear backoff.
func (d *Dispatcher) runWithRetry(ctx context.Context, h *Handler, inv *Invocation) (string, error) {
	retryable := d.retryCategory != "" && strings.EqualFold(h.Category, d.retryCategory)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		out, err := d.run(ctx, h, inv)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable || !errors.Is(err, store.ErrTransient) || attempt == d.maxAttempts {
			break
		}

		wait := time.Duration(attempt) * d.retryBackoff
		d.logger.Warn("transient handler failure, retrying",
			"handler_id", h.ID,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// run invokes the handler with a timeout, converting panics into errors.
func (d *Dispatcher) run(ctx context.Context, h *Handler, inv *Invocation) (out string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered",
				"handler_id", h.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return h.Exec(ctx, inv)
}

func (d *Dispatcher) reply(ctx context.Context, t transport.Transport, m permission.MessageContext, content string) {
	if content == "" {
		return
	}
	if _, err := t.SendMessage(ctx, m.ChatID, content, transport.SendOptions{ReplyTo: m.MessageID, Markdown: true}); err != nil {
		d.logger.Warn("failed to send reply", "chat_id", m.ChatID, "error", err)
	}
}

// GetStats returns registry counts, cache size, lock count and dispatch counters.
func (d *Dispatcher) GetStats() Stats {
	rs := d.registry.Stats()
	return Stats{
		TotalHandlers: rs.Handlers,
		TotalCommands: rs.Commands,
		TotalScanners: rs.Scanners,
		CacheSize:     d.engine.CacheSize(),
		LockCount:     d.dedup.Len(),
		Dispatched:    d.dispatched.Load(),
		Executed:      d.executed.Load(),
		Denied:        d.denied.Load(),
		Failed:        d.failed.Load(),
		Scanned:       d.scanned.Load(),
	}
}

// Close stops the mode cache sweep.
func (d *Dispatcher) Close() {
	d.modes.Close()
}
