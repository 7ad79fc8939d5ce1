// ABOUTME: Mock Transport implementation for testing
// ABOUTME: Records sent messages and serves configurable admin state without a network

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SentMessage is a message recorded by MockTransport.
type SentMessage struct {
	ChatID  string
	Content string
	Opts    SendOptions
}

// MockTransport is an in-memory Transport for tests.
type MockTransport struct {
	mu         sync.Mutex
	botID      string
	admins     map[string]map[string]bool // groupID -> userID -> admin
	owners     map[string]string
	members    map[string][]string
	sent       []SentMessage
	adminErr   error
	sendErr    error
	sendGate   <-chan struct{}
	adminCalls int
	inbound    chan Inbound
}

// NewMockTransport creates a MockTransport logged in as botID.
func NewMockTransport(botID string) *MockTransport {
	return &MockTransport{
		botID:   botID,
		admins:  make(map[string]map[string]bool),
		owners:  make(map[string]string),
		members: make(map[string][]string),
		inbound: make(chan Inbound, 64),
	}
}

// SetAdmin marks userID as admin (or not) in groupID and adds them as a member.
func (m *MockTransport) SetAdmin(groupID, userID string, admin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.admins[groupID] == nil {
		m.admins[groupID] = make(map[string]bool)
	}
	if _, known := m.admins[groupID][userID]; !known {
		m.members[groupID] = append(m.members[groupID], userID)
	}
	m.admins[groupID][userID] = admin
}

// SetOwner sets the owner reported in group metadata.
func (m *MockTransport) SetOwner(groupID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[groupID] = userID
}

// FailAdminChecks makes IsGroupAdmin and IsBotAdmin return err (nil to clear).
func (m *MockTransport) FailAdminChecks(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminErr = err
}

// FailSends makes SendMessage return err (nil to clear).
func (m *MockTransport) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of every message sent so far.
func (m *MockTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// AdminCalls returns how many admin lookups reached the transport.
func (m *MockTransport) AdminCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adminCalls
}

// BotID implements Transport.
func (m *MockTransport) BotID() string {
	return m.botID
}

// IsGroupAdmin implements Transport.
func (m *MockTransport) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adminCalls++
	if m.adminErr != nil {
		return false, m.adminErr
	}
	return m.admins[groupID][userID], nil
}

// IsBotAdmin implements Transport.
func (m *MockTransport) IsBotAdmin(ctx context.Context, groupID string) (bool, error) {
	return m.IsGroupAdmin(ctx, groupID, m.botID)
}

// HoldSends makes SendMessage wait until gate is closed (nil to clear).
func (m *MockTransport) HoldSends(gate <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendGate = gate
}

// SendMessage implements Transport.
func (m *MockTransport) SendMessage(ctx context.Context, chatID, content string, opts SendOptions) (MessageHandle, error) {
	m.mu.Lock()
	gate := m.sendGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return MessageHandle{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return MessageHandle{}, m.sendErr
	}
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Content: content, Opts: opts})
	return MessageHandle{ID: uuid.New().String(), ChatID: chatID}, nil
}

// GetGroupMetadata implements Transport.
func (m *MockTransport) GetGroupMetadata(ctx context.Context, groupID string) (*GroupMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.members[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotInGroup)
	}
	meta := &GroupMetadata{ID: groupID, Owner: m.owners[groupID]}
	for _, id := range members {
		meta.Participants = append(meta.Participants, Participant{ID: id, Admin: m.admins[groupID][id]})
	}
	return meta, nil
}

// Push queues an inbound message for Listen to deliver.
func (m *MockTransport) Push(msg Inbound) {
	m.inbound <- msg
}

// Listen implements Listener, delivering pushed messages until ctx is cancelled.
func (m *MockTransport) Listen(ctx context.Context, fn func(ctx context.Context, msg Inbound)) error {
	for {
		select {
		case msg := <-m.inbound:
			fn(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}
