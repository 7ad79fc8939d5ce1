// ABOUTME: Group administration built-in commands: groupinfo, refreshadmins, feature.
// ABOUTME: Read group metadata and manage per-group toggles and admin cache freshness.

package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-bot/internal/plugins"
)

// GroupInfo reports the group's owner, size and admins.
func (h *handlers) GroupInfo(ctx context.Context, inv *plugins.Invocation) (string, error) {
	meta, err := inv.Transport.GetGroupMetadata(ctx, inv.Message.ChatID)
	if err != nil {
		return "", fmt.Errorf("group metadata: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", meta.ID)
	if meta.Owner != "" {
		fmt.Fprintf(&b, "- owner: %s\n", meta.Owner)
	}
	fmt.Fprintf(&b, "- members: %d\n", len(meta.Participants))
	admins := meta.Admins()
	if len(admins) == 0 {
		b.WriteString("- admins: none")
	} else {
		fmt.Fprintf(&b, "- admins: %s", strings.Join(admins, ", "))
	}
	return b.String(), nil
}

// RefreshAdmins queues the group's cached admin answers for invalidation.
func (h *handlers) RefreshAdmins(ctx context.Context, inv *plugins.Invocation) (string, error) {
	h.engine.QueueInvalidation(inv.Message.ChatID)
	return "Admin list will refresh within a few seconds.", nil
}

// Feature shows or toggles a per-group feature.
func (h *handlers) Feature(ctx context.Context, inv *plugins.Invocation) (string, error) {
	const usage = "Usage: feature <name> [on|off]"
	if len(inv.Args) == 0 {
		return usage, nil
	}
	name := strings.ToLower(inv.Args[0])
	chatID := inv.Message.ChatID

	if len(inv.Args) == 1 {
		enabled, err := h.store.FeatureEnabled(ctx, chatID, name)
		if err != nil {
			return fmt.Sprintf("Feature %s is not set here.", name), nil
		}
		return fmt.Sprintf("Feature %s is %s.", name, onOff(enabled)), nil
	}

	var enabled bool
	switch strings.ToLower(inv.Args[1]) {
	case "on", "enable", "true":
		enabled = true
	case "off", "disable", "false":
		enabled = false
	default:
		return usage, nil
	}
	if err := h.store.SetFeature(ctx, chatID, name, enabled); err != nil {
		return "", fmt.Errorf("setting feature: %w", err)
	}
	return fmt.Sprintf("Feature %s is now %s.", name, onOff(enabled)), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
