// ABOUTME: Tests for the MockStore used by other packages' tests
// ABOUTME: Ensures the mock mirrors SQLiteStore semantics

package store

import (
	"context"
	"errors"
	"testing"
)

func TestMockStore_MirrorsSQLiteSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()

	acct := &Account{Phone: "+1555", SessionID: "s1"}
	if err := m.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
	got, err := m.GetUserByPhone(ctx, "1555@s.whatsapp.net")
	if err != nil || got == nil || got.ID != acct.ID {
		t.Fatalf("GetUserByPhone = %+v, %v", got, err)
	}

	if missing, _ := m.GetUserByPhone(ctx, "nobody"); missing != nil {
		t.Errorf("expected nil for unknown phone")
	}

	if err := m.RevokeVIP(ctx, acct.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeVIP on non-VIP = %v, want ErrNotFound", err)
	}
	if _, err := m.FeatureEnabled(ctx, "!g", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FeatureEnabled unset = %v, want ErrNotFound", err)
	}
	if mode, _ := m.SessionMode(ctx, "s1"); mode != ModePublic {
		t.Errorf("default mode = %q", mode)
	}

	boom := errors.New("boom")
	m.FailLookups(boom)
	if _, err := m.IsVIP(ctx, acct.ID); !errors.Is(err, boom) {
		t.Errorf("IsVIP with failure = %v", err)
	}
	if m.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", m.Calls())
	}
}
