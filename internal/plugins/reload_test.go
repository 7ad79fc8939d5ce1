// ABOUTME: Tests for debounced manifest hot reload.
// ABOUTME: Covers directory loading, debounced replace, removal on delete, and failed reloads.

package plugins

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLoader wraps a Loader and counts Load calls.
type countingLoader struct {
	inner Loader
	loads atomic.Int32
}

func (c *countingLoader) Load(path string) (*Handler, error) {
	c.loads.Add(1)
	return c.inner.Load(path)
}

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReloader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "ping.yaml", "aliases: [p]\n")
	writeManifest(t, dir, "links.yaml", "kind: scanner\nentry: antilink\n")
	writeManifest(t, dir, "broken.yaml", "entry: missing\n")
	writeManifest(t, dir, "README.md", "not a manifest")

	registry := NewRegistry(slog.Default())
	r := NewReloader(registry, NewManifestLoader(testCatalog()), time.Millisecond, slog.Default())
	t.Cleanup(r.Close)

	n, err := r.LoadDir(dir)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrUnknownEntry)

	_, ok := registry.Resolve("p")
	assert.True(t, ok)
	assert.Len(t, registry.Scanners(), 1)

	_, err = r.LoadDir(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}

func TestReloader_DebouncesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "ping.yaml", "aliases: [p]\n")

	registry := NewRegistry(slog.Default())
	loader := &countingLoader{inner: NewManifestLoader(testCatalog())}
	r := NewReloader(registry, loader, 50*time.Millisecond, slog.Default())
	t.Cleanup(r.Close)

	_, err := r.LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, int32(1), loader.loads.Load())

	writeManifest(t, dir, "ping.yaml", "aliases: [pp]\n")
	for range 5 {
		r.Notify(path)
	}
	assert.Equal(t, 1, r.Pending())

	assert.Eventually(t, func() bool {
		_, ok := registry.Resolve("pp")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := registry.Resolve("p")
	assert.False(t, ok, "old alias must be gone after reload")
	assert.Equal(t, int32(2), loader.loads.Load(), "burst of notifications loads once")
	assert.Equal(t, 0, r.Pending())
}

func TestReloader_RemovesDeletedSource(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "ping.yaml", "")

	registry := NewRegistry(slog.Default())
	r := NewReloader(registry, NewManifestLoader(testCatalog()), time.Millisecond, slog.Default())
	t.Cleanup(r.Close)

	_, err := r.LoadDir(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	r.Notify(path)
	assert.Eventually(t, func() bool {
		return registry.Stats().Handlers == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReloader_FailedReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "ping.yaml", "aliases: [p]\n")

	registry := NewRegistry(slog.Default())
	r := NewReloader(registry, NewManifestLoader(testCatalog()), time.Millisecond, slog.Default())
	t.Cleanup(r.Close)

	_, err := r.LoadDir(dir)
	require.NoError(t, err)

	writeManifest(t, dir, "ping.yaml", "entry: missing\n")
	r.reload(path)

	_, ok := registry.Resolve("p")
	assert.True(t, ok)
}

func TestReloader_IgnoresNonManifestsAndClose(t *testing.T) {
	registry := NewRegistry(slog.Default())
	r := NewReloader(registry, NewManifestLoader(testCatalog()), time.Hour, slog.Default())

	r.Notify("/tmp/notes.txt")
	assert.Equal(t, 0, r.Pending())

	r.Notify("/tmp/ping.yaml")
	assert.Equal(t, 1, r.Pending())

	r.Close()
	r.Close()
	assert.Equal(t, 0, r.Pending())

	r.Notify("/tmp/ping.yaml")
	assert.Equal(t, 0, r.Pending())
}

func TestReloader_StaleTimerDoesNotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "ping.yaml", "aliases: [p]\n")

	registry := NewRegistry(slog.Default())
	loader := &countingLoader{inner: NewManifestLoader(testCatalog())}
	r := NewReloader(registry, loader, time.Hour, slog.Default())
	t.Cleanup(r.Close)

	r.Notify(path)
	require.Equal(t, 1, r.Pending())

	r.mu.Lock()
	current := r.timers[filepath.Clean(path)].gen
	r.mu.Unlock()

	// A callback from a timer that was replaced must leave the new one alone.
	r.fire(filepath.Clean(path), current-1)
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, int32(0), loader.loads.Load())

	r.fire(filepath.Clean(path), current)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, int32(1), loader.loads.Load())
}
