// ABOUTME: Tests for the link-detecting background scanner.
// ABOUTME: Covers bare domains, schemes and plain text.

package builtins

import (
	"context"
	"testing"

	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/plugins"
)

func TestAntiLink(t *testing.T) {
	tests := []struct {
		text string
		warn bool
	}{
		{"hello everyone", false},
		{"see https://spam.example/promo", true},
		{"join www.example.net now", true},
		{"free stuff at scam.xyz", true},
		{"version 1.2.3 is out", false},
	}

	for _, tt := range tests {
		inv := &plugins.Invocation{
			Message: permission.MessageContext{SenderID: "@mallory:example.org"},
			Text:    tt.text,
		}
		out, err := AntiLink(context.Background(), inv)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.text, err)
		}
		if got := out != ""; got != tt.warn {
			t.Errorf("%q: warn = %v, want %v (reply %q)", tt.text, got, tt.warn, out)
		}
	}
}
