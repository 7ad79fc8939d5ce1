// ABOUTME: Catalog of built-in handler implementations and their shared dependencies.
// ABOUTME: Manifests bind these entries to command names and permissions.

package builtins

import (
	"time"

	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/plugins"
	"github.com/2389/coven-bot/internal/store"
)

// ModeInvalidator drops cached session modes after a mode change.
type ModeInvalidator interface {
	InvalidateMode(sessionID string)
}

// Deps are the collaborators built-in handlers use.
type Deps struct {
	Store    store.Store
	Engine   *permission.Engine
	Modes    ModeInvalidator
	Registry *plugins.Registry
}

type handlers struct {
	store    store.Store
	engine   *permission.Engine
	modes    ModeInvalidator
	registry *plugins.Registry
	started  time.Time
	now      func() time.Time
}

// Catalog returns every built-in implementation keyed by manifest entry name.
func Catalog(d Deps) plugins.Catalog {
	return newHandlers(d, time.Now).catalog()
}

func newHandlers(d Deps, now func() time.Time) *handlers {
	return &handlers{
		store:    d.Store,
		engine:   d.Engine,
		modes:    d.Modes,
		registry: d.Registry,
		started:  now(),
		now:      now,
	}
}

func (h *handlers) catalog() plugins.Catalog {
	return plugins.Catalog{
		"ping":          h.Ping,
		"whoami":        h.WhoAmI,
		"help":          h.Help,
		"vip":           h.VIP,
		"mode":          h.Mode,
		"groupinfo":     h.GroupInfo,
		"refreshadmins": h.RefreshAdmins,
		"feature":       h.Feature,
		"antilink":      AntiLink,
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
