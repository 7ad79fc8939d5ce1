// ABOUTME: Debounced hot reload of handler manifests into the registry.
// ABOUTME: One timer per path; a change loads and replaces, a removal unregisters.

package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long a path must stay unchanged before it is reloaded.
const DefaultQuietPeriod = time.Second

// Reloader applies file change notifications to a Registry.
type Reloader struct {
	registry *Registry
	loader   Loader
	quiet    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*pendingReload
	gen    uint64
	closed bool
}

// pendingReload is the debounce timer for one path. gen identifies the timer
// so a callback from a replaced timer can tell it is stale.
type pendingReload struct {
	timer *time.Timer
	gen   uint64
}

// NewReloader creates a Reloader. A zero quiet period uses DefaultQuietPeriod.
func NewReloader(registry *Registry, loader Loader, quiet time.Duration, logger *slog.Logger) *Reloader {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Reloader{
		registry: registry,
		loader:   loader,
		quiet:    quiet,
		logger:   logger.With("component", "reloader"),
		timers:   make(map[string]*pendingReload),
	}
}

// LoadDir loads every manifest in dir. Files that fail to load are skipped
// and reported in the joined error.
func (r *Reloader) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading handler dir: %w", err)
	}

	var errs []error
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !IsManifest(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := r.loader.Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := r.registry.ReplaceSource(h); err != nil {
			errs = append(errs, fmt.Errorf("registering %s: %w", path, err))
			continue
		}
		loaded++
	}

	r.logger.Info("handlers loaded", "dir", dir, "loaded", loaded, "failed", len(errs))
	return loaded, errors.Join(errs...)
}

// Notify schedules a reload of path once it has been quiet for the quiet
// period. Repeated notifications restart the same timer.
func (r *Reloader) Notify(path string) {
	if !IsManifest(path) {
		return
	}
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	// A timer that already fired may have its callback waiting on r.mu;
	// replace it rather than re-arming it.
	if p, ok := r.timers[path]; ok && p.timer.Stop() {
		p.timer.Reset(r.quiet)
		return
	}
	r.gen++
	gen := r.gen
	r.timers[path] = &pendingReload{
		gen:   gen,
		timer: time.AfterFunc(r.quiet, func() { r.fire(path, gen) }),
	}
}

// fire runs when the timer for gen expires. It reloads path only if that
// timer is still the pending one.
func (r *Reloader) fire(path string, gen uint64) {
	r.mu.Lock()
	if p, ok := r.timers[path]; r.closed || !ok || p.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.timers, path)
	r.mu.Unlock()

	r.reload(path)
}

// Pending returns the number of paths waiting for their quiet period.
func (r *Reloader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// reload applies the current state of path to the registry. A failed load
// keeps the previously registered handler.
func (r *Reloader) reload(path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		r.registry.RemoveBySource(path)
		return
	}

	h, err := r.loader.Load(path)
	if err != nil {
		r.logger.Error("reload failed, keeping previous handler", "path", path, "error", err)
		return
	}
	if _, err := r.registry.ReplaceSource(h); err != nil {
		r.logger.Error("reload rejected", "path", path, "error", err)
		return
	}
	r.logger.Info("handler reloaded", "path", path, "handler_id", h.ID)
}

// Close cancels pending reloads. It is safe to call multiple times.
func (r *Reloader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for path, p := range r.timers {
		p.timer.Stop()
		delete(r.timers, path)
	}
}
