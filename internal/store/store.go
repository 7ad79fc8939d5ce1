// ABOUTME: Store interfaces and data types for bot identity and settings persistence
// ABOUTME: Defines accounts, VIP status, session modes, and group feature toggles

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrTransient marks storage failures that may succeed on retry (busy or locked database)
var ErrTransient = errors.New("transient storage error")

// DefaultVIPLevel is the reserved highest VIP tier ("default/admin" VIP)
const DefaultVIPLevel = 99

// Account is a known user, keyed by a normalized phone-style handle
type Account struct {
	ID        string
	Phone     string
	SessionID string // session this account owns, empty if none
	CreatedAt time.Time
}

// OwnsSession reports whether the account owns the given bot session
func (a *Account) OwnsSession(sessionID string) bool {
	return a != nil && a.SessionID != "" && a.SessionID == sessionID
}

// VIPStatus describes an account's VIP tier
type VIPStatus struct {
	IsVIP     bool
	Level     int
	IsDefault bool
}

// IsDefaultTier reports whether the status is the reserved highest tier
func (v VIPStatus) IsDefaultTier() bool {
	return v.IsVIP && (v.IsDefault || v.Level >= DefaultVIPLevel)
}

// SessionMode controls who may run commands through a session
type SessionMode string

const (
	ModePublic SessionMode = "public"
	ModeSelf   SessionMode = "self"
)

// IdentityStore answers VIP and account lookups for the permission engine
type IdentityStore interface {
	IsVIP(ctx context.Context, accountID string) (VIPStatus, error)
	// GetUserByPhone returns nil, nil when no account matches.
	GetUserByPhone(ctx context.Context, phone string) (*Account, error)
}

// SettingsStore answers session mode and feature toggle lookups for the dispatcher
type SettingsStore interface {
	// SessionMode returns ModePublic when no mode was stored.
	SessionMode(ctx context.Context, sessionID string) (SessionMode, error)
	// FeatureEnabled returns ErrNotFound when the feature was never set for the group.
	FeatureEnabled(ctx context.Context, groupID, feature string) (bool, error)
}

// Store is the full persistence surface used by the bot and its builtins
type Store interface {
	IdentityStore
	SettingsStore

	UpsertAccount(ctx context.Context, account *Account) error
	SetVIP(ctx context.Context, accountID string, level int, isDefault bool) error
	RevokeVIP(ctx context.Context, accountID string) error
	SetSessionMode(ctx context.Context, sessionID string, mode SessionMode) error
	SetFeature(ctx context.Context, groupID, feature string, enabled bool) error

	// Close releases any resources held by the store
	Close() error
}

// NormalizePhone reduces a user handle to the form accounts are keyed by.
// Matrix IDs ("@alice:example.org") keep their server and are only
// lowercased, so the same localpart on another homeserver is a different
// account. Chat JIDs ("15551234567@s.whatsapp.net") reduce to the number and
// a leading "+" is dropped.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		return strings.ToLower(s)
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "+")
	return strings.ToLower(s)
}
