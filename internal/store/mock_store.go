// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject lookup failures

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account  // keyed by normalized phone
	vip      map[string]VIPStatus // keyed by account ID
	modes    map[string]SessionMode
	features map[string]bool // keyed by "groupID:feature"
	err      error           // returned by every lookup when set
	calls    int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[string]*Account),
		vip:      make(map[string]VIPStatus),
		modes:    make(map[string]SessionMode),
		features: make(map[string]bool),
	}
}

// FailLookups makes every read return err (nil to clear).
func (m *MockStore) FailLookups(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many identity lookups were served.
func (m *MockStore) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// UpsertAccount stores an account keyed by its normalized phone.
func (m *MockStore) UpsertAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account.Phone = NormalizePhone(account.Phone)
	if existing, ok := m.accounts[account.Phone]; ok {
		account.ID = existing.ID
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	a := *account
	m.accounts[a.Phone] = &a
	return nil
}

// GetUserByPhone returns a copy of the account, or nil if absent.
func (m *MockStore) GetUserByPhone(ctx context.Context, phone string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[NormalizePhone(phone)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// IsVIP returns the account's VIP status.
func (m *MockStore) IsVIP(ctx context.Context, accountID string) (VIPStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return VIPStatus{}, m.err
	}
	return m.vip[accountID], nil
}

// SetVIP grants VIP status.
func (m *MockStore) SetVIP(ctx context.Context, accountID string, level int, isDefault bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vip[accountID] = VIPStatus{IsVIP: true, Level: level, IsDefault: isDefault}
	return nil
}

// RevokeVIP removes VIP status.
func (m *MockStore) RevokeVIP(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vip[accountID]; !ok {
		return ErrNotFound
	}
	delete(m.vip, accountID)
	return nil
}

// SessionMode returns the stored mode, defaulting to public.
func (m *MockStore) SessionMode(ctx context.Context, sessionID string) (SessionMode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return ModePublic, m.err
	}
	if mode, ok := m.modes[sessionID]; ok {
		return mode, nil
	}
	return ModePublic, nil
}

// SetSessionMode stores the mode for a session.
func (m *MockStore) SetSessionMode(ctx context.Context, sessionID string, mode SessionMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[sessionID] = mode
	return nil
}

// FeatureEnabled returns the toggle or ErrNotFound if unset.
func (m *MockStore) FeatureEnabled(ctx context.Context, groupID, feature string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return false, m.err
	}
	enabled, ok := m.features[groupID+":"+feature]
	if !ok {
		return false, ErrNotFound
	}
	return enabled, nil
}

// SetFeature stores the toggle.
func (m *MockStore) SetFeature(ctx context.Context, groupID, feature string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[groupID+":"+feature] = enabled
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
