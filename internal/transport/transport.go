// ABOUTME: Transport capability consumed by the permission engine and dispatcher
// ABOUTME: Defines group admin checks, message sending, and group metadata types

package transport

import (
	"context"
	"errors"
)

// ErrNotInGroup is returned when a group-only query is made for a direct chat.
var ErrNotInGroup = errors.New("chat is not a group")

// SendOptions tunes an outbound message.
type SendOptions struct {
	// ReplyTo is the message ID being replied to, if any.
	ReplyTo string
	// Mentions lists user IDs to mention explicitly.
	Mentions []string
	// Markdown renders content as markdown where the network supports it.
	Markdown bool
}

// MessageHandle identifies a sent message.
type MessageHandle struct {
	ID     string
	ChatID string
}

// Participant is one member of a group chat.
type Participant struct {
	ID    string
	Admin bool
}

// GroupMetadata describes a group chat.
type GroupMetadata struct {
	ID           string
	Owner        string
	Participants []Participant
}

// Admins returns the IDs of all admin participants.
func (g *GroupMetadata) Admins() []string {
	var admins []string
	for _, p := range g.Participants {
		if p.Admin {
			admins = append(admins, p.ID)
		}
	}
	return admins
}

// Inbound is a message received from the network.
type Inbound struct {
	ChatID    string
	MessageID string
	SenderID  string
	Text      string
	IsGroup   bool
}

// Transport is the chat network as seen by the bot core.
type Transport interface {
	// BotID returns the account ID the transport is logged in as.
	BotID() string
	IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error)
	IsBotAdmin(ctx context.Context, groupID string) (bool, error)
	SendMessage(ctx context.Context, chatID, content string, opts SendOptions) (MessageHandle, error)
	GetGroupMetadata(ctx context.Context, groupID string) (*GroupMetadata, error)
}

// Listener is a Transport that can also deliver inbound messages.
type Listener interface {
	Transport
	// Listen blocks delivering messages to fn until ctx is cancelled or the
	// connection fails.
	Listen(ctx context.Context, fn func(ctx context.Context, msg Inbound)) error
}
