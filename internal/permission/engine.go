// ABOUTME: Permission engine evaluating descriptors for commands and background scanners.
// ABOUTME: Caches owner/VIP/admin lookups with TTL and drains a group invalidation queue.

package permission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-bot/internal/store"
	"github.com/2389/coven-bot/internal/ttlcache"
)

// User-facing denial messages.
const (
	MsgGroupOnly    = "This command can only be used in groups."
	MsgPrivateOnly  = "This command can only be used in a private chat."
	MsgBotAdmin     = "I need to be a group admin to run this command."
	MsgOwnerOnly    = "This command is restricted to the bot owner."
	MsgDefaultVIP   = "This command requires Default VIP access."
	MsgOwnerAndVIP  = "This command requires the bot owner with VIP access."
	MsgAlsoNeedsVIP = "You must also have VIP status to use this command."
	MsgOwnerOrVIP   = "This command requires owner or VIP access."
	MsgVIP          = "This command requires VIP access."
	MsgAdmin        = "This command requires group admin rights."
	MsgCheckFailed  = "Permission check failed. Please try again later."
)

// DefaultInvalidationInterval is how often queued group invalidations are drained.
const DefaultInvalidationInterval = 5 * time.Second

// MessageContext carries the facts about one inbound message that permission
// evaluation needs. IsAdmin and IsBotAdmin are optional prefetched answers.
type MessageContext struct {
	ChatID    string
	SenderID  string
	MessageID string
	SessionID string
	IsGroup   bool
	IsCreator bool
	// WorkerID identifies the session worker handling the message.
	WorkerID string

	IsAdmin    *bool
	IsBotAdmin *bool
}

// Decision is the outcome of evaluating a command handler.
type Decision struct {
	Allowed bool
	Message string
	Silent  bool
	// Err is the lookup failure that caused a denial, if any.
	Err error
}

// ScanDecision is the outcome of evaluating a background scanner.
type ScanDecision struct {
	Process bool
	// Reason names the exemption when Process is false.
	Reason string
}

// AdminLookup answers group admin questions on behalf of a session.
type AdminLookup interface {
	IsGroupAdmin(ctx context.Context, sessionID, groupID, userID string) (bool, error)
	IsBotAdmin(ctx context.Context, sessionID, groupID string) (bool, error)
}

// Options tunes the engine's cache and invalidation drain.
type Options struct {
	Cache                ttlcache.Options
	InvalidationInterval time.Duration
}

// tier is a cached lookup result.
type tier struct {
	Flag bool
	VIP  store.VIPStatus
}

// Engine evaluates handler permissions against message contexts.
type Engine struct {
	admins   AdminLookup
	identity store.IdentityStore
	cache    *ttlcache.Cache[tier]
	flight   singleflight.Group
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	interval time.Duration
	done     chan struct{}
	closed   bool
}

// NewEngine creates an Engine and starts its invalidation drain loop.
func NewEngine(admins AdminLookup, identity store.IdentityStore, opts Options, logger *slog.Logger) *Engine {
	if opts.InvalidationInterval <= 0 {
		opts.InvalidationInterval = DefaultInvalidationInterval
	}
	logger = logger.With("component", "permission")

	e := &Engine{
		admins:   admins,
		identity: identity,
		cache:    ttlcache.New[tier](opts.Cache, logger),
		logger:   logger,
		pending:  make(map[string]struct{}),
		interval: opts.InvalidationInterval,
		done:     make(chan struct{}),
	}
	go e.drainLoop()
	return e
}

// Evaluate decides whether a command handler may run. Checks run in order
// (chat context, bot capability, user tiers) and the first denial wins.
// Lookup failures deny with a generic message.
func (e *Engine) Evaluate(ctx context.Context, d Descriptor, m MessageContext) Decision {
	if d.GroupOnly && !m.IsGroup {
		return deny(MsgGroupOnly)
	}
	if d.PrivateOnly && m.IsGroup {
		return Decision{Message: MsgPrivateOnly, Silent: true}
	}

	if d.BotAdminRequired && m.IsGroup {
		ok, err := e.BotAdminStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("bot_admin", m, err)
		}
		if !ok {
			return deny(MsgBotAdmin)
		}
	}

	return e.evaluateTiers(ctx, d, m)
}

// evaluateTiers applies the first matching user-tier rule.
func (e *Engine) evaluateTiers(ctx context.Context, d Descriptor, m MessageContext) Decision {
	switch {
	case d.OwnerOnly:
		owner, err := e.OwnerStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("owner", m, err)
		}
		if !owner {
			return deny(MsgOwnerOnly)
		}
		return allow()

	case d.DefaultVIPOnly:
		return e.ownerOr(ctx, m, MsgDefaultVIP, store.VIPStatus.IsDefaultTier)

	case d.OwnerAndVIP:
		owner, err := e.OwnerStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("owner", m, err)
		}
		if !owner {
			return deny(MsgOwnerAndVIP)
		}
		vip, err := e.VIPStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("vip", m, err)
		}
		if !vip.IsVIP {
			return deny(MsgAlsoNeedsVIP)
		}
		return allow()

	case d.OwnerOrVIP:
		return e.ownerOr(ctx, m, MsgOwnerOrVIP, isVIP)

	case d.VIPRequired:
		return e.ownerOr(ctx, m, MsgVIP, isVIP)

	case d.AdminRequired && m.IsGroup:
		owner, err := e.OwnerStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("owner", m, err)
		}
		if owner {
			return allow()
		}
		admin, err := e.AdminStatus(ctx, m)
		if err != nil {
			return e.lookupFailed("admin", m, err)
		}
		if !admin {
			return deny(MsgAdmin)
		}
		return allow()
	}

	return allow()
}

// ownerOr lets the owner through, otherwise requires the VIP predicate.
func (e *Engine) ownerOr(ctx context.Context, m MessageContext, msg string, pred func(store.VIPStatus) bool) Decision {
	owner, err := e.OwnerStatus(ctx, m)
	if err != nil {
		return e.lookupFailed("owner", m, err)
	}
	if owner {
		return allow()
	}
	vip, err := e.VIPStatus(ctx, m)
	if err != nil {
		return e.lookupFailed("vip", m, err)
	}
	if !pred(vip) {
		return deny(msg)
	}
	return allow()
}

// EvaluateScanner decides whether a background scanner should process the
// sender. The logic is inverted relative to Evaluate: senders holding the
// named tiers are exempt and skipped. Lookup failures never exempt a sender.
func (e *Engine) EvaluateScanner(ctx context.Context, d Descriptor, m MessageContext) ScanDecision {
	if d.GroupOnly && !m.IsGroup {
		return skip("not_group")
	}
	if d.PrivateOnly && m.IsGroup {
		return skip("not_private")
	}

	if d.BotAdminRequired && m.IsGroup {
		ok, err := e.BotAdminStatus(ctx, m)
		if err != nil {
			e.scanLookupFailed("bot_admin", m, err)
		} else if !ok {
			return skip("bot_not_admin")
		}
	}

	if d.AdminRequired && m.IsGroup {
		admin, err := e.AdminStatus(ctx, m)
		if err != nil {
			e.scanLookupFailed("admin", m, err)
		} else if admin {
			return skip("sender_admin")
		}
	}

	if d.VIPRequired {
		vip, err := e.VIPStatus(ctx, m)
		if err != nil {
			e.scanLookupFailed("vip", m, err)
		} else if vip.IsVIP {
			return skip("sender_vip")
		}
	}

	if d.OwnerOnly {
		owner, err := e.OwnerStatus(ctx, m)
		if err != nil {
			e.scanLookupFailed("owner", m, err)
		} else if owner {
			return skip("sender_owner")
		}
	}

	return ScanDecision{Process: true}
}

// OwnerStatus reports whether the sender owns the session. A message flagged
// as coming from the bot's own account always counts.
func (e *Engine) OwnerStatus(ctx context.Context, m MessageContext) (bool, error) {
	if m.IsCreator {
		return true, nil
	}
	id := store.NormalizePhone(m.SenderID)
	if id == "" {
		return false, nil
	}

	t, err := e.lookup(ctx, ownerKey(m.SessionID, id), func(ctx context.Context) (tier, error) {
		acct, err := e.identity.GetUserByPhone(ctx, id)
		if err != nil {
			return tier{}, err
		}
		return tier{Flag: acct.OwnsSession(m.SessionID)}, nil
	})
	return t.Flag, err
}

// VIPStatus returns the sender's VIP tier. Unknown senders are not VIP.
func (e *Engine) VIPStatus(ctx context.Context, m MessageContext) (store.VIPStatus, error) {
	id := store.NormalizePhone(m.SenderID)
	if id == "" {
		return store.VIPStatus{}, nil
	}

	t, err := e.lookup(ctx, vipKey(id), func(ctx context.Context) (tier, error) {
		acct, err := e.identity.GetUserByPhone(ctx, id)
		if err != nil {
			return tier{}, err
		}
		if acct == nil {
			return tier{}, nil
		}
		status, err := e.identity.IsVIP(ctx, acct.ID)
		if err != nil {
			return tier{}, err
		}
		return tier{Flag: status.IsVIP, VIP: status}, nil
	})
	return t.VIP, err
}

// AdminStatus reports whether the sender administers the group. A prefetched
// answer in the context is used when present.
func (e *Engine) AdminStatus(ctx context.Context, m MessageContext) (bool, error) {
	if m.IsAdmin != nil {
		return *m.IsAdmin, nil
	}
	if !m.IsGroup {
		return false, nil
	}

	t, err := e.lookup(ctx, "admin:"+m.ChatID+":"+m.SenderID, func(ctx context.Context) (tier, error) {
		ok, err := e.admins.IsGroupAdmin(ctx, m.SessionID, m.ChatID, m.SenderID)
		return tier{Flag: ok}, err
	})
	return t.Flag, err
}

// BotAdminStatus reports whether the session's own account administers the group.
func (e *Engine) BotAdminStatus(ctx context.Context, m MessageContext) (bool, error) {
	if m.IsBotAdmin != nil {
		return *m.IsBotAdmin, nil
	}
	if !m.IsGroup {
		return false, nil
	}

	t, err := e.lookup(ctx, "botadmin:"+m.ChatID+":"+m.SessionID, func(ctx context.Context) (tier, error) {
		ok, err := e.admins.IsBotAdmin(ctx, m.SessionID, m.ChatID)
		return tier{Flag: ok}, err
	})
	return t.Flag, err
}

// lookup serves key from the cache, or runs fetch once for all concurrent
// callers and caches a successful result. Failures are never cached.
func (e *Engine) lookup(ctx context.Context, key string, fetch func(ctx context.Context) (tier, error)) (tier, error) {
	if t, ok := e.cache.Get(key); ok {
		return t, nil
	}

	v, err, _ := e.flight.Do(key, func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lookup panicked: %v", r)
			}
		}()

		t, err := fetch(ctx)
		if err != nil {
			return tier{}, err
		}
		e.cache.Set(key, t)
		return t, nil
	})
	if err != nil {
		return tier{}, fmt.Errorf("lookup %s: %w", key, err)
	}
	return v.(tier), nil
}

// QueueInvalidation schedules purging of every admin and bot-admin entry for
// a group on the next drain.
func (e *Engine) QueueInvalidation(groupID string) {
	if groupID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[groupID] = struct{}{}
}

// DrainInvalidations purges cache entries for every queued group and returns
// how many entries were removed.
func (e *Engine) DrainInvalidations() int {
	e.mu.Lock()
	groups := e.pending
	e.pending = make(map[string]struct{})
	e.mu.Unlock()

	removed := 0
	for groupID := range groups {
		removed += e.cache.Invalidate("admin:" + groupID + ":")
		removed += e.cache.Invalidate("botadmin:" + groupID + ":")
	}
	if len(groups) > 0 {
		e.logger.Debug("drained admin invalidations", "groups", len(groups), "entries_removed", removed)
	}
	return removed
}

// InvalidateAccount immediately purges cached owner and VIP answers for one
// account. userID may be spelled any way NormalizePhone accepts.
func (e *Engine) InvalidateAccount(userID string) int {
	id := store.NormalizePhone(userID)
	if id == "" {
		return 0
	}
	vip := vipKey(id)
	suffix := ":" + id
	return e.cache.InvalidateFunc(func(key string) bool {
		if key == vip {
			return true
		}
		return strings.HasPrefix(key, "owner:") && strings.HasSuffix(key, suffix)
	})
}

func ownerKey(sessionID, id string) string {
	return "owner:" + sessionID + ":" + id
}

func vipKey(id string) string {
	return "vip:" + id
}

// CacheSize returns the number of cached lookups.
func (e *Engine) CacheSize() int {
	return e.cache.Len()
}

func (e *Engine) drainLoop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.DrainInvalidations()
		case <-e.done:
			return
		}
	}
}

// Close stops the drain loop and the cache sweep. It is safe to call multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.closed {
		close(e.done)
		e.closed = true
	}
	e.mu.Unlock()
	e.cache.Close()
}

func (e *Engine) lookupFailed(check string, m MessageContext, err error) Decision {
	e.logger.Warn("permission lookup failed, denying",
		"check", check,
		"chat_id", m.ChatID,
		"sender_id", m.SenderID,
		"error", err,
	)
	return Decision{Message: MsgCheckFailed, Err: err}
}

func (e *Engine) scanLookupFailed(check string, m MessageContext, err error) {
	e.logger.Warn("scanner exemption lookup failed, treating sender as not exempt",
		"check", check,
		"chat_id", m.ChatID,
		"sender_id", m.SenderID,
		"error", err,
	)
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(msg string) Decision {
	return Decision{Message: msg}
}

func skip(reason string) ScanDecision {
	return ScanDecision{Reason: reason}
}

func isVIP(s store.VIPStatus) bool {
	return s.IsVIP
}
