// ABOUTME: Background scanner warning senders who post links.
// ABOUTME: Exemptions (admins, VIPs, owner) come from the scanner's manifest permissions.

package builtins

import (
	"context"
	"fmt"
	"regexp"

	"github.com/2389/coven-bot/internal/plugins"
)

var linkPattern = regexp.MustCompile(`(?i)\b((https?://|www\.)\S+|[a-z0-9-]+\.(com|net|org|io|gg|me|ly|xyz)(/\S*)?\b)`)

// AntiLink returns a warning when the message contains a link.
func AntiLink(ctx context.Context, inv *plugins.Invocation) (string, error) {
	if !linkPattern.MatchString(inv.Text) {
		return "", nil
	}
	return fmt.Sprintf("%s, links are not allowed in this group.", inv.Message.SenderID), nil
}
