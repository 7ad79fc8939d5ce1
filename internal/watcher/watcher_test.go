// ABOUTME: Tests for the manifest directory watcher.
// ABOUTME: Covers fsnotify delivery and the polling safety net.

package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Notify(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.paths, path)
}

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, rec, time.Hour, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "ping.yaml")
	assert.Eventually(t, func() bool {
		// Rewrite until the watcher is attached and reports it.
		_ = os.WriteFile(path, []byte("name: ping\n"), 0o644)
		return rec.has(path)
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_ScanDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.yaml")
	gone := filepath.Join(dir, "gone.yaml")
	require.NoError(t, os.WriteFile(keep, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(gone, []byte("a"), 0o644))

	rec := &recorder{}
	w := New(dir, rec, time.Hour, slog.Default())

	w.scan()
	assert.Empty(t, rec.paths, "first scan only records state")

	require.NoError(t, os.Remove(gone))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(keep, later, later))
	added := filepath.Join(dir, "new.yaml")
	require.NoError(t, os.WriteFile(added, []byte("b"), 0o644))

	w.scan()
	assert.True(t, rec.has(gone))
	assert.True(t, rec.has(keep))
	assert.True(t, rec.has(added))
}

func TestWatcher_MissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent"), &recorder{}, time.Hour, slog.Default())
	assert.Error(t, w.Run(context.Background()))
}
