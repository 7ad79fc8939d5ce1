// ABOUTME: Tests for the handler registry.
// ABOUTME: Validates command binding, last-wins names, atomic replace, and source removal.

package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/2389/coven-bot/internal/permission"
)

func noop(ctx context.Context, inv *Invocation) (string, error) {
	return "", nil
}

func TestRegistryRegister(t *testing.T) {
	t.Run("binds name, aliases and default name", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		err := r.Register(&Handler{
			ID:      "ping-v1",
			Name:    "Ping",
			Aliases: []string{"p", " PONG "},
			Source:  "/plugins/latency.yaml",
			Exec:    noop,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, c := range []string{"ping", "PING", " p ", "pong", "latency"} {
			h, ok := r.Resolve(c)
			if !ok {
				t.Errorf("expected %q to resolve", c)
				continue
			}
			if h.ID != "ping-v1" {
				t.Errorf("expected handler ping-v1 for %q, got %s", c, h.ID)
			}
		}

		if _, ok := r.Resolve(""); ok {
			t.Error("empty command should not resolve")
		}
		if stats := r.Stats(); stats.Commands != 4 || stats.Handlers != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	})

	t.Run("rejects invalid handlers", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		cases := []*Handler{
			nil,
			{Name: "x", Exec: noop},
			{ID: "x", Exec: noop},
			{ID: "x", Name: "x"},
		}
		for i, h := range cases {
			if err := r.Register(h); !errors.Is(err, ErrInvalidHandler) {
				t.Errorf("case %d: expected ErrInvalidHandler, got %v", i, err)
			}
		}
		if r.Stats().Handlers != 0 {
			t.Error("invalid handlers must not be stored")
		}
	})

	t.Run("last registration wins a shared name", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		mustRegister(t, r, &Handler{ID: "a", Name: "stats", Exec: noop})
		mustRegister(t, r, &Handler{ID: "b", Name: "stats", Exec: noop})

		h, _ := r.Resolve("stats")
		if h.ID != "b" {
			t.Errorf("expected b to own 'stats', got %s", h.ID)
		}

		// Removing the loser must not unbind the winner.
		r.Remove("a")
		if h, ok := r.Resolve("stats"); !ok || h.ID != "b" {
			t.Error("expected 'stats' to remain bound to b")
		}
	})

	t.Run("stored handler is a private copy", func(t *testing.T) {
		r := NewRegistry(slog.Default())
		h := &Handler{ID: "a", Name: "alpha", Aliases: []string{"al"}, Exec: noop}
		mustRegister(t, r, h)

		h.Aliases[0] = "mutated"
		h.Name = "mutated"

		got, _ := r.Get("a")
		if got.Name != "alpha" || got.Aliases[0] != "al" {
			t.Errorf("registry copy was mutated: %+v", got)
		}
	})
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(slog.Default())
	mustRegister(t, r, &Handler{ID: "greet", Name: "hello", Aliases: []string{"hi"}, Exec: noop})

	replaced, err := r.Replace(&Handler{
		ID:          "greet",
		Name:        "hello",
		Aliases:     []string{"hey"},
		Permissions: permission.Descriptor{GroupOnly: true},
		Exec:        noop,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replaced {
		t.Error("expected replace to report an existing handler")
	}

	if _, ok := r.Resolve("hi"); ok {
		t.Error("old alias should be unbound after replace")
	}
	h, ok := r.Resolve("hey")
	if !ok || !h.Permissions.GroupOnly {
		t.Error("new alias should resolve to the new handler")
	}
	if r.Stats().Handlers != 1 {
		t.Errorf("expected 1 handler, got %d", r.Stats().Handlers)
	}
}

func TestRegistryReplaceSource(t *testing.T) {
	r := NewRegistry(slog.Default())
	mustRegister(t, r, &Handler{ID: "old-id", Name: "thing", Source: "/p/thing.yaml", Exec: noop})
	mustRegister(t, r, &Handler{ID: "other", Name: "other", Source: "/p/other.yaml", Exec: noop})

	if _, err := r.ReplaceSource(&Handler{ID: "new-id", Name: "thing2", Source: "/p/thing.yaml", Exec: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Get("old-id"); ok {
		t.Error("handler renamed within a source should drop the old id")
	}
	if _, ok := r.Get("other"); !ok {
		t.Error("handlers from other sources must survive")
	}
	if h, ok := r.Resolve("thing"); !ok || h.ID != "new-id" {
		t.Error("default name should bind to the new handler")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(slog.Default())
	mustRegister(t, r, &Handler{ID: "a", Name: "a", Source: "/p/x.yaml", Exec: noop})
	mustRegister(t, r, &Handler{ID: "b", Name: "b", Source: "/p/x.yaml", Kind: KindScanner, Exec: noop})
	mustRegister(t, r, &Handler{ID: "c", Name: "c", Exec: noop})

	if n := r.RemoveBySource("/p/./x.yaml"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if n := r.RemoveBySource(""); n != 0 {
		t.Errorf("empty source removed %d", n)
	}
	if !r.Remove("c") {
		t.Error("expected c to be removed")
	}
	if r.Remove("c") {
		t.Error("second remove should report false")
	}
	if stats := r.Stats(); stats != (RegistryStats{}) {
		t.Errorf("expected empty registry, got %+v", stats)
	}
}

func TestRegistryScanners(t *testing.T) {
	r := NewRegistry(slog.Default())
	mustRegister(t, r, &Handler{ID: "z-scan", Name: "z", Kind: KindScanner, Exec: noop})
	mustRegister(t, r, &Handler{ID: "a-scan", Name: "a", Kind: KindScanner, Exec: noop})
	mustRegister(t, r, &Handler{ID: "cmd", Name: "cmd", Exec: noop})

	scanners := r.Scanners()
	if len(scanners) != 2 || scanners[0].ID != "a-scan" || scanners[1].ID != "z-scan" {
		t.Errorf("unexpected scanners: %v", scanners)
	}
	if _, ok := r.Resolve("z"); ok {
		t.Error("scanners must not bind command names")
	}
	if got := r.Stats(); got.Scanners != 2 || got.Commands != 1 {
		t.Errorf("unexpected stats: %+v", got)
	}
	if len(r.Handlers()) != 3 {
		t.Error("expected all handlers listed")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(slog.Default())
	mustRegister(t, r, &Handler{ID: "h", Name: "cmd", Exec: noop})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Replace(&Handler{ID: "h", Name: "cmd", Aliases: []string{fmt.Sprintf("a%d", i)}, Exec: noop})
		}(i)
		go func() {
			defer wg.Done()
			if h, ok := r.Resolve("cmd"); !ok || h.ID != "h" {
				t.Error("cmd must always resolve during replacement")
			}
		}()
	}
	wg.Wait()

	if stats := r.Stats(); stats.Handlers != 1 || stats.Commands != 2 {
		t.Errorf("unexpected stats after concurrent replace: %+v", stats)
	}
}

func mustRegister(t *testing.T, r *Registry, h *Handler) {
	t.Helper()
	if err := r.Register(h); err != nil {
		t.Fatalf("failed to register %s: %v", h.ID, err)
	}
}
