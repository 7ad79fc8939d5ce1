// ABOUTME: Watches the handler manifest directory and forwards change notifications.
// ABOUTME: Uses fsnotify with a modification-time poll as a safety net.

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the period of the safety-net directory scan.
const DefaultPollInterval = time.Minute

// Notifier receives change notifications for individual files.
type Notifier interface {
	Notify(path string)
}

// Watcher forwards changes under one directory to a Notifier.
type Watcher struct {
	dir      string
	notifier Notifier
	poll     time.Duration
	logger   *slog.Logger

	seen    map[string]time.Time
	scanned bool
}

// New creates a Watcher for dir. A zero poll interval uses DefaultPollInterval.
func New(dir string, notifier Notifier, poll time.Duration, logger *slog.Logger) *Watcher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{
		dir:      filepath.Clean(dir),
		notifier: notifier,
		poll:     poll,
		logger:   logger.With("component", "watcher", "dir", dir),
		seen:     make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled. If fsnotify is unavailable it falls
// back to polling alone.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := os.Stat(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.scan()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
		return w.pollLoop(ctx)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		w.logger.Warn("could not watch directory, polling only", "error", err)
		return w.pollLoop(ctx)
	}
	w.logger.Info("watching handler directory", "poll_interval", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
	w.notifier.Notify(ev.Name)
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan notifies for files whose modification time changed or that vanished
// since the previous scan. The first scan only records state.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scan failed", "error", err)
		return
	}

	first := !w.scanned
	w.scanned = true
	current := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		current[path] = info.ModTime()
		if prev, ok := w.seen[path]; !first && (!ok || !prev.Equal(info.ModTime())) {
			w.notifier.Notify(path)
		}
	}
	for path := range w.seen {
		if _, ok := current[path]; !ok {
			w.notifier.Notify(path)
		}
	}
	w.seen = current
}
