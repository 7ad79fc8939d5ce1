// ABOUTME: Cross-worker message lock enforcing at-most-once execution per chat/message/action.
// ABOUTME: Records expire after a retention window; abandoned locks are released after a timeout.

package dedupe

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Default timing and sizing values.
const (
	DefaultLockTimeout   = 15 * time.Second
	DefaultRetention     = 30 * time.Second
	DefaultSweepInterval = 10 * time.Second
	DefaultMaxRecords    = 300
)

// Options configures a Deduplicator.
type Options struct {
	// LockTimeout is how long a holder keeps exclusivity without completing.
	LockTimeout time.Duration
	// Retention is how long a record survives after an action completes.
	Retention time.Duration
	// SweepInterval is the period of the background cleanup.
	SweepInterval time.Duration
	// MaxRecords caps the record count; above it the oldest half is evicted.
	MaxRecords int
}

// record is the lock bookkeeping for one chat/message pair.
type record struct {
	completed   map[string]struct{}
	holder      string
	lastTouched time.Time
	deleteAt    time.Time // zero until an action completes
}

// Deduplicator tracks which actions have been performed for which messages
// and which worker currently holds the processing lock.
type Deduplicator struct {
	mu      sync.Mutex
	records map[string]*record
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// New creates a Deduplicator and starts its background cleanup goroutine.
func New(opts Options, logger *slog.Logger) *Deduplicator {
	return newDeduplicator(opts, logger, time.Now)
}

func newDeduplicator(opts Options, logger *slog.Logger, now func() time.Time) *Deduplicator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Deduplicator{
		records: make(map[string]*record),
		opts:    opts,
		now:     now,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.cleanup()
	return d
}

// GenerateKey builds the record key for a chat/message pair. It returns false
// when either part is missing, in which case the caller must not proceed.
func GenerateKey(chatID, messageID string) (string, bool) {
	chatID = strings.TrimSpace(chatID)
	messageID = strings.TrimSpace(messageID)
	if chatID == "" || messageID == "" {
		return "", false
	}
	return chatID + "_" + messageID, true
}

// TryLockForProcessing attempts to take the processing lock for action on key.
// It returns false if the action already completed, or if a different worker
// holds a lock that has not yet timed out. The check and the update happen in
// one critical section.
func (d *Deduplicator) TryLockForProcessing(key, workerID, action string) bool {
	if key == "" || workerID == "" || action == "" {
		d.logger.Warn("refusing lock with incomplete input",
			"key", key,
			"worker_id", workerID,
			"action", action,
		)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	rec, ok := d.records[key]
	if ok && d.removable(rec, now) {
		delete(d.records, key)
		ok = false
	}
	if !ok {
		d.records[key] = &record{
			completed:   make(map[string]struct{}),
			holder:      workerID,
			lastTouched: now,
		}
		return true
	}

	if _, done := rec.completed[action]; done {
		return false
	}
	if rec.holder != "" && rec.holder != workerID && now.Sub(rec.lastTouched) < d.opts.LockTimeout {
		return false
	}

	if rec.holder != "" && rec.holder != workerID {
		d.logger.Info("seizing abandoned lock",
			"key", key,
			"previous_holder", rec.holder,
			"worker_id", workerID,
			"action", action,
		)
	}
	rec.holder = workerID
	rec.lastTouched = now
	return true
}

// MarkAsProcessed records that action completed for key, releases the lock
// if workerID holds it, and schedules the record for deletion after the
// retention window.
func (d *Deduplicator) MarkAsProcessed(key, workerID, action string) {
	if key == "" || action == "" {
		d.logger.Warn("ignoring mark with incomplete input", "key", key, "action", action)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	rec, ok := d.records[key]
	if !ok {
		rec = &record{completed: make(map[string]struct{})}
		d.records[key] = rec
	}
	rec.completed[action] = struct{}{}
	if rec.holder == workerID {
		rec.holder = ""
	}
	rec.lastTouched = now
	rec.deleteAt = now.Add(d.opts.Retention)
}

// Refresh extends the lock workerID holds on key. It returns false when
// workerID no longer holds it.
func (d *Deduplicator) Refresh(key, workerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[key]
	if !ok || workerID == "" || rec.holder != workerID {
		return false
	}
	rec.lastTouched = d.now()
	return true
}

// LockTimeout returns how long an unrefreshed lock stays exclusive.
func (d *Deduplicator) LockTimeout() time.Duration {
	return d.opts.LockTimeout
}

// IsActionProcessed reports whether action has completed for key.
// It has no side effects.
func (d *Deduplicator) IsActionProcessed(key, action string) bool {
	if key == "" || action == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[key]
	if !ok || d.removable(rec, d.now()) {
		return false
	}
	_, done := rec.completed[action]
	return done
}

// Len returns the number of live lock records.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// removable reports whether a record has outlived its usefulness.
// Must be called with mu held.
func (d *Deduplicator) removable(rec *record, now time.Time) bool {
	lockLive := rec.holder != "" && now.Sub(rec.lastTouched) < d.opts.LockTimeout
	if !rec.deleteAt.IsZero() {
		return !now.Before(rec.deleteAt) && !lockLive
	}
	return now.Sub(rec.lastTouched) > d.opts.Retention
}

// cleanup runs in a background goroutine until Close is called.
func (d *Deduplicator) cleanup() {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.runCleanup()
		case <-d.done:
			return
		}
	}
}

// runCleanup drops expired records, caps the record count, and releases
// locks whose holder never completed anything within the lock timeout.
func (d *Deduplicator) runCleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	expired, released := 0, 0
	for key, rec := range d.records {
		if d.removable(rec, now) {
			delete(d.records, key)
			expired++
			continue
		}
		if rec.holder != "" && len(rec.completed) == 0 && now.Sub(rec.lastTouched) >= d.opts.LockTimeout {
			rec.holder = ""
			released++
		}
	}

	evicted := 0
	if len(d.records) > d.opts.MaxRecords {
		evicted = d.evictOldestHalf()
	}

	if expired+released+evicted > 0 {
		d.logger.Debug("dedupe cleanup",
			"expired", expired,
			"stale_released", released,
			"evicted", evicted,
			"remaining", len(d.records),
		)
	}
}

// evictOldestHalf removes the least recently touched half of the records.
// Must be called with mu held.
func (d *Deduplicator) evictOldestHalf() int {
	keys := make([]string, 0, len(d.records))
	for key := range d.records {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return d.records[a].lastTouched.Compare(d.records[b].lastTouched)
	})

	n := len(keys) / 2
	for _, key := range keys[:n] {
		delete(d.records, key)
	}
	return n
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (d *Deduplicator) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		close(d.done)
		d.closed = true
	}
}
