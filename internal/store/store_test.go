// ABOUTME: Tests for store helpers shared by all implementations
// ABOUTME: Covers handle normalization and VIP tier classification

package store

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15551234567", "15551234567"},
		{"15551234567@s.whatsapp.net", "15551234567"},
		{"15551234567:12@s.whatsapp.net", "15551234567"},
		{"@Alice:Example.org", "@alice:example.org"},
		{"  @bob:example.org ", "@bob:example.org"},
		{"  bob  ", "bob"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVIPStatus_IsDefaultTier(t *testing.T) {
	if (VIPStatus{}).IsDefaultTier() {
		t.Error("non-VIP is never default tier")
	}
	if (VIPStatus{IsVIP: true, Level: 1}).IsDefaultTier() {
		t.Error("level 1 is not default tier")
	}
	if !(VIPStatus{IsVIP: true, Level: DefaultVIPLevel}).IsDefaultTier() {
		t.Error("reserved level should be default tier")
	}
	if !(VIPStatus{IsVIP: true, Level: 1, IsDefault: true}).IsDefaultTier() {
		t.Error("explicit default flag should be default tier")
	}
}
