// ABOUTME: Owner built-in commands: VIP management and session mode.
// ABOUTME: Invalidate cached permission answers after every change.

package builtins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/coven-bot/internal/plugins"
	"github.com/2389/coven-bot/internal/store"
)

const vipUsage = "Usage: vip add <user> [level] | vip default <user> | vip remove <user> | vip check <user>"

// VIP grants, revokes or reports VIP status for a user.
func (h *handlers) VIP(ctx context.Context, inv *plugins.Invocation) (string, error) {
	if len(inv.Args) < 2 {
		return vipUsage, nil
	}
	sub, user := strings.ToLower(inv.Args[0]), inv.Args[1]
	if store.NormalizePhone(user) == "" {
		return vipUsage, nil
	}

	switch sub {
	case "add", "default":
		level := 1
		isDefault := sub == "default"
		if isDefault {
			level = store.DefaultVIPLevel
		} else if len(inv.Args) > 2 {
			n, err := strconv.Atoi(inv.Args[2])
			if err != nil || n < 1 {
				return "Level must be a positive number.", nil
			}
			level = n
		}

		acct := &store.Account{Phone: user}
		if existing, err := h.store.GetUserByPhone(ctx, user); err != nil {
			return "", fmt.Errorf("looking up %s: %w", user, err)
		} else if existing != nil {
			acct = existing
		}
		if err := h.store.UpsertAccount(ctx, acct); err != nil {
			return "", fmt.Errorf("saving account: %w", err)
		}
		if err := h.store.SetVIP(ctx, acct.ID, level, isDefault); err != nil {
			return "", fmt.Errorf("granting vip: %w", err)
		}
		h.engine.InvalidateAccount(acct.Phone)
		if isDefault {
			return fmt.Sprintf("%s is now a default VIP.", user), nil
		}
		return fmt.Sprintf("%s is now VIP (level %d).", user, level), nil

	case "remove":
		acct, err := h.store.GetUserByPhone(ctx, user)
		if err != nil {
			return "", fmt.Errorf("looking up %s: %w", user, err)
		}
		if acct == nil {
			return fmt.Sprintf("%s is not VIP.", user), nil
		}
		if err := h.store.RevokeVIP(ctx, acct.ID); errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("%s is not VIP.", user), nil
		} else if err != nil {
			return "", fmt.Errorf("revoking vip: %w", err)
		}
		h.engine.InvalidateAccount(acct.Phone)
		return fmt.Sprintf("%s is no longer VIP.", user), nil

	case "check":
		acct, err := h.store.GetUserByPhone(ctx, user)
		if err != nil {
			return "", fmt.Errorf("looking up %s: %w", user, err)
		}
		if acct == nil {
			return fmt.Sprintf("%s is not VIP.", user), nil
		}
		status, err := h.store.IsVIP(ctx, acct.ID)
		if err != nil {
			return "", fmt.Errorf("checking vip: %w", err)
		}
		if !status.IsVIP {
			return fmt.Sprintf("%s is not VIP.", user), nil
		}
		return fmt.Sprintf("%s is VIP (level %d, default: %s).", user, status.Level, yesNo(status.IsDefaultTier())), nil
	}
	return vipUsage, nil
}

// Mode shows or switches the session between public and self mode.
func (h *handlers) Mode(ctx context.Context, inv *plugins.Invocation) (string, error) {
	sessionID := inv.Message.SessionID

	if len(inv.Args) == 0 {
		mode, err := h.store.SessionMode(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("reading mode: %w", err)
		}
		return fmt.Sprintf("Mode: %s", mode), nil
	}

	mode := store.SessionMode(strings.ToLower(inv.Args[0]))
	if mode != store.ModePublic && mode != store.ModeSelf {
		return "Usage: mode [public|self]", nil
	}
	if err := h.store.SetSessionMode(ctx, sessionID, mode); err != nil {
		return "", fmt.Errorf("setting mode: %w", err)
	}
	if h.modes != nil {
		h.modes.InvalidateMode(sessionID)
	}
	return fmt.Sprintf("Mode set to %s.", mode), nil
}
