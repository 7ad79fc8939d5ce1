// ABOUTME: General built-in commands available to everyone: ping, whoami, help.
// ABOUTME: Report bot liveness, the sender's standing, and registered commands.

package builtins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-bot/internal/plugins"
)

// Ping replies with pong and the bot's uptime.
func (h *handlers) Ping(ctx context.Context, inv *plugins.Invocation) (string, error) {
	uptime := h.now().Sub(h.started).Truncate(time.Second)
	return fmt.Sprintf("pong (up %s)", uptime), nil
}

// WhoAmI reports the sender's owner, VIP and admin standing.
func (h *handlers) WhoAmI(ctx context.Context, inv *plugins.Invocation) (string, error) {
	m := inv.Message

	owner, err := h.engine.OwnerStatus(ctx, m)
	if err != nil {
		return "", fmt.Errorf("owner status: %w", err)
	}
	vip, err := h.engine.VIPStatus(ctx, m)
	if err != nil {
		return "", fmt.Errorf("vip status: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", m.SenderID)
	fmt.Fprintf(&b, "- owner: %s\n", yesNo(owner))
	switch {
	case vip.IsDefaultTier():
		fmt.Fprintf(&b, "- vip: default (level %d)\n", vip.Level)
	case vip.IsVIP:
		fmt.Fprintf(&b, "- vip: level %d\n", vip.Level)
	default:
		b.WriteString("- vip: no\n")
	}
	if m.IsGroup {
		admin, err := h.engine.AdminStatus(ctx, m)
		if err != nil {
			return "", fmt.Errorf("admin status: %w", err)
		}
		fmt.Fprintf(&b, "- group admin: %s\n", yesNo(admin))
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// Help lists the registered commands with their descriptions.
func (h *handlers) Help(ctx context.Context, inv *plugins.Invocation) (string, error) {
	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, hd := range h.registry.Handlers() {
		if hd.IsScanner() {
			continue
		}
		fmt.Fprintf(&b, "- `%s`", hd.Name)
		if len(hd.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(hd.Aliases, ", "))
		}
		if hd.Description != "" {
			fmt.Fprintf(&b, ": %s", hd.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}
