// ABOUTME: Thread-safe registry of command handlers and background scanners.
// ABOUTME: Indexes handlers by ID, command name, and source file; supports atomic replace on reload.

package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrInvalidHandler indicates a handler is missing a required field.
var ErrInvalidHandler = errors.New("invalid handler")

// RegistryStats summarizes registry contents.
type RegistryStats struct {
	Handlers int
	Commands int
	Scanners int
}

// Registry maintains the set of registered handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler // by ID
	commands map[string]*Handler // by normalized command name
	logger   *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]*Handler),
		commands: make(map[string]*Handler),
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a handler. A handler with the same ID is replaced.
func (r *Registry) Register(h *Handler) error {
	_, err := r.Replace(h)
	return err
}

// Replace installs h, atomically swapping out any handler with the same ID.
// Command names are last-wins: a name bound to another handler moves to h.
// Returns true if a handler with h's ID was already registered.
func (r *Registry) Replace(h *Handler) (bool, error) {
	stored, err := prepare(h)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installLocked(stored), nil
}

// ReplaceSource installs h and removes every other handler loaded from the
// same source file, in one step.
func (r *Registry) ReplaceSource(h *Handler) (bool, error) {
	stored, err := prepare(h)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored.Source != "" {
		for id, old := range r.handlers {
			if id != stored.ID && old.Source == stored.Source {
				r.removeLocked(old)
			}
		}
	}
	return r.installLocked(stored), nil
}

// prepare validates h and returns a private copy with its command set computed.
func prepare(h *Handler) (*Handler, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidHandler)
	}
	if strings.TrimSpace(h.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidHandler)
	}
	if strings.TrimSpace(h.Name) == "" {
		return nil, fmt.Errorf("%w: handler %s missing name", ErrInvalidHandler, h.ID)
	}
	if h.Exec == nil {
		return nil, fmt.Errorf("%w: handler %s has no implementation", ErrInvalidHandler, h.ID)
	}

	cp := *h
	if cp.Kind == "" {
		cp.Kind = KindCommand
	}
	if cp.Source != "" {
		cp.Source = filepath.Clean(cp.Source)
	}
	cp.Aliases = slices.Clone(h.Aliases)
	if cp.Kind == KindCommand {
		cp.commands = cp.commandSet()
	} else {
		cp.commands = nil
	}
	return &cp, nil
}

func (r *Registry) installLocked(h *Handler) bool {
	old, replaced := r.handlers[h.ID]
	if replaced {
		r.removeLocked(old)
	}

	for _, c := range h.commands {
		if prev, taken := r.commands[c]; taken && prev.ID != h.ID {
			r.logger.Warn("command name taken over",
				"command", c,
				"previous_handler", prev.ID,
				"handler_id", h.ID,
			)
		}
		r.commands[c] = h
	}
	r.handlers[h.ID] = h

	msg := "=== HANDLER REGISTERED ==="
	if replaced {
		msg = "=== HANDLER REPLACED ==="
	}
	r.logger.Info(msg,
		"handler_id", h.ID,
		"kind", h.Kind,
		"commands", h.commands,
		"source", h.Source,
		"total_handlers", len(r.handlers),
		"total_commands", len(r.commands),
	)
	return replaced
}

// removeLocked drops h and every command name still bound to it.
func (r *Registry) removeLocked(h *Handler) {
	for _, c := range h.commands {
		if cur, ok := r.commands[c]; ok && cur == h {
			delete(r.commands, c)
		}
	}
	delete(r.handlers, h.ID)
}

// Resolve finds the command handler bound to a command name. Matching is
// case-insensitive and ignores surrounding whitespace.
func (r *Registry) Resolve(command string) (*Handler, bool) {
	c := normalizeCommand(command)
	if c == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.commands[c]
	return h, ok
}

// Get retrieves a handler by ID.
func (r *Registry) Get(id string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Remove unregisters a handler by ID. Returns false if it was not registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[id]
	if !ok {
		return false
	}
	r.removeLocked(h)

	r.logger.Info("=== HANDLER UNREGISTERED ===",
		"handler_id", id,
		"total_handlers", len(r.handlers),
		"total_commands", len(r.commands),
	)
	return true
}

// RemoveBySource unregisters every handler loaded from path and returns how
// many were removed.
func (r *Registry) RemoveBySource(path string) int {
	if path == "" {
		return 0
	}
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, h := range r.handlers {
		if h.Source == path {
			r.removeLocked(h)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("=== SOURCE UNLOADED ===",
			"source", path,
			"handlers_removed", removed,
			"total_handlers", len(r.handlers),
		)
	}
	return removed
}

// Handlers returns every registered handler ordered by ID.
func (r *Registry) Handlers() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(*Handler) bool { return true })
}

// Scanners returns the registered background scanners ordered by ID.
func (r *Registry) Scanners() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked((*Handler).IsScanner)
}

func (r *Registry) sortedLocked(keep func(*Handler) bool) []*Handler {
	out := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		if keep(h) {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b *Handler) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Stats returns handler, command and scanner counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Handlers: len(r.handlers),
		Commands: len(r.commands),
	}
	for _, h := range r.handlers {
		if h.IsScanner() {
			stats.Scanners++
		}
	}
	return stats
}
