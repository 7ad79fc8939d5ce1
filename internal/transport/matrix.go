// ABOUTME: Matrix implementation of the Transport using mautrix
// ABOUTME: Maps power levels to admin checks and renders markdown replies with goldmark

package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bot/internal/ttlcache"
)

// AdminPowerLevel is the minimum Matrix power level treated as group admin.
const AdminPowerLevel = 50

// networkTimeout bounds a single Matrix API call.
const networkTimeout = 10 * time.Second

// MatrixConfig holds the credentials for one Matrix session.
type MatrixConfig struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

// MatrixTransport talks to a Matrix homeserver as one logged-in session.
type MatrixTransport struct {
	cfg     MatrixConfig
	client  *mautrix.Client
	logger  *slog.Logger
	members *ttlcache.Cache[int]
}

// NewMatrixTransport creates a Matrix client for the configured session.
func NewMatrixTransport(cfg MatrixConfig, logger *slog.Logger) (*MatrixTransport, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &MatrixTransport{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("component", "matrix", "user_id", cfg.UserID),
		members: ttlcache.New[int](ttlcache.Options{TTL: time.Minute, HighWater: 200}, logger),
	}, nil
}

// BotID implements Transport.
func (t *MatrixTransport) BotID() string {
	return t.cfg.UserID
}

// IsGroupAdmin implements Transport using the room's power levels.
func (t *MatrixTransport) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	pl, err := t.powerLevels(ctx, groupID)
	if err != nil {
		return false, err
	}
	return pl.GetUserLevel(id.UserID(userID)) >= AdminPowerLevel, nil
}

// IsBotAdmin implements Transport.
func (t *MatrixTransport) IsBotAdmin(ctx context.Context, groupID string) (bool, error) {
	return t.IsGroupAdmin(ctx, groupID, t.cfg.UserID)
}

// SendMessage implements Transport. Markdown content is sent with an HTML
// formatted body alongside the plain text.
func (t *MatrixTransport) SendMessage(ctx context.Context, chatID, content string, opts SendOptions) (MessageHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*networkTimeout)
	defer cancel()

	msg := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    content,
	}
	if opts.Markdown {
		html, err := renderMarkdown(content)
		if err != nil {
			t.logger.Debug("markdown render failed, sending plain text", "error", err)
		} else {
			msg.Format = event.FormatHTML
			msg.FormattedBody = html
		}
	}
	if opts.ReplyTo != "" {
		msg.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(opts.ReplyTo)}}
	}
	if len(opts.Mentions) > 0 {
		userIDs := make([]id.UserID, 0, len(opts.Mentions))
		for _, m := range opts.Mentions {
			userIDs = append(userIDs, id.UserID(m))
		}
		msg.Mentions = &event.Mentions{UserIDs: userIDs}
	}

	resp, err := t.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, msg)
	if err != nil {
		return MessageHandle{}, fmt.Errorf("sending message to %s: %w", chatID, err)
	}
	return MessageHandle{ID: resp.EventID.String(), ChatID: chatID}, nil
}

// GetGroupMetadata implements Transport. The owner is the member with the
// highest power level.
func (t *MatrixTransport) GetGroupMetadata(ctx context.Context, groupID string) (*GroupMetadata, error) {
	pl, err := t.powerLevels(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	joined, err := t.client.JoinedMembers(ctx, id.RoomID(groupID))
	if err != nil {
		return nil, fmt.Errorf("fetching members of %s: %w", groupID, err)
	}

	meta := &GroupMetadata{ID: groupID}
	ownerLevel := -1
	for userID := range joined.Joined {
		level := pl.GetUserLevel(userID)
		meta.Participants = append(meta.Participants, Participant{
			ID:    userID.String(),
			Admin: level >= AdminPowerLevel,
		})
		if level > ownerLevel {
			ownerLevel = level
			meta.Owner = userID.String()
		}
	}
	t.members.Set(groupID, len(joined.Joined))
	return meta, nil
}

// Listen implements Listener. It syncs with the homeserver and delivers
// text messages from allowed rooms, skipping the bot's own messages.
func (t *MatrixTransport) Listen(ctx context.Context, fn func(ctx context.Context, msg Inbound)) error {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if evt.Sender == id.UserID(t.cfg.UserID) {
			return
		}
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok || content.MsgType != event.MsgText {
			return
		}
		roomID := evt.RoomID.String()
		if !t.isRoomAllowed(roomID) {
			t.logger.Debug("ignoring message from non-allowed room", "room", roomID)
			return
		}

		fn(ctx, Inbound{
			ChatID:    roomID,
			MessageID: evt.ID.String(),
			SenderID:  evt.Sender.String(),
			Text:      content.Body,
			IsGroup:   t.isGroup(ctx, roomID),
		})
	})

	t.logger.Info("connecting to matrix homeserver", "homeserver", t.cfg.Homeserver)
	if err := t.client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// Close releases the member-count cache.
func (t *MatrixTransport) Close() {
	t.members.Close()
}

// isGroup treats rooms with more than two joined members as groups.
func (t *MatrixTransport) isGroup(ctx context.Context, roomID string) bool {
	if n, ok := t.members.Get(roomID); ok {
		return n > 2
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	joined, err := t.client.JoinedMembers(ctx, id.RoomID(roomID))
	if err != nil {
		t.logger.Warn("member count lookup failed, assuming group", "room", roomID, "error", err)
		return true
	}
	t.members.Set(roomID, len(joined.Joined))
	return len(joined.Joined) > 2
}

func (t *MatrixTransport) powerLevels(ctx context.Context, roomID string) (*event.PowerLevelsEventContent, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	var pl event.PowerLevelsEventContent
	if err := t.client.StateEvent(ctx, id.RoomID(roomID), event.StatePowerLevels, "", &pl); err != nil {
		return nil, fmt.Errorf("fetching power levels of %s: %w", roomID, err)
	}
	return &pl, nil
}

func (t *MatrixTransport) isRoomAllowed(roomID string) bool {
	if len(t.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// renderMarkdown converts markdown to HTML for a formatted message body.
func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
