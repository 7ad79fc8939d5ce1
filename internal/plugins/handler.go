// ABOUTME: Handler record types for commands and background scanners.
// ABOUTME: Defines the invocation passed to handler implementations and the catalog of implementations.

package plugins

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/transport"
)

// Kind distinguishes command handlers from background scanners.
type Kind string

const (
	// KindCommand handlers run when a user invokes one of their commands.
	KindCommand Kind = "command"
	// KindScanner handlers run against every inbound message.
	KindScanner Kind = "scanner"
)

// Invocation is everything a handler implementation sees for one call.
type Invocation struct {
	Handler   *Handler
	Message   permission.MessageContext
	Command   string
	Args      []string
	Text      string
	Transport transport.Transport
}

// Reply sends content to the invocation's chat as a reply to the triggering message.
func (inv *Invocation) Reply(ctx context.Context, content string) error {
	_, err := inv.Transport.SendMessage(ctx, inv.Message.ChatID, content, transport.SendOptions{
		ReplyTo:  inv.Message.MessageID,
		Markdown: true,
	})
	return err
}

// ExecFunc is a handler implementation. A non-empty output is sent back to the
// chat as a reply.
type ExecFunc func(ctx context.Context, inv *Invocation) (string, error)

// Catalog maps manifest entry names to implementations.
type Catalog map[string]ExecFunc

// Handler is a registered command or scanner. Handlers are immutable once
// registered; a reload registers a new value under the same ID.
type Handler struct {
	ID          string
	Name        string
	Aliases     []string
	Category    string
	Description string
	Kind        Kind
	Permissions permission.Descriptor

	// Feature names a per-group toggle gating the handler. Empty means ungated.
	Feature string
	// FeatureDefault applies when the toggle was never set for a group.
	FeatureDefault bool
	// Silent suppresses permission denial messages.
	Silent bool

	// Source is the manifest path the handler was loaded from, if any.
	Source string
	Exec   ExecFunc

	commands []string
}

// IsScanner reports whether h is a background scanner.
func (h *Handler) IsScanner() bool {
	return h.Kind == KindScanner
}

// Commands returns the normalized command names bound to h.
func (h *Handler) Commands() []string {
	out := make([]string, len(h.commands))
	copy(out, h.commands)
	return out
}

// DefaultName derives a command name from the handler's source file name.
func (h *Handler) DefaultName() string {
	if h.Source == "" {
		return ""
	}
	base := filepath.Base(h.Source)
	return normalizeCommand(strings.TrimSuffix(base, filepath.Ext(base)))
}

// commandSet returns name, aliases and the derived default name, normalized
// and without duplicates.
func (h *Handler) commandSet() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		c = normalizeCommand(c)
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(h.Name)
	for _, a := range h.Aliases {
		add(a)
	}
	add(h.DefaultName())
	return out
}

func normalizeCommand(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
