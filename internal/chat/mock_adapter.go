package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/grabyard/internal/media"
)

// Call is one recorded MockAdapter operation.
type Call struct {
	Op      string // notify, retract, media, update, card, reply, ack
	User    UserID
	Text    string
	Items   []media.Descriptor
	Surface Surface
	Update  SurfaceUpdate
	Alert   bool
}

// MockAdapter implements Adapter for testing. It records every outbound
// operation and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan Event
	calls       []Call
	unreachable map[UserID]bool
	mediaErr    error
	assetRef    string
	botUserID   string
	msgCounter  int
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:     make(chan Event, 100),
		unreachable: make(map[UserID]bool),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// SetUnreachable makes private sends to user fail with ErrUnreachable.
func (m *MockAdapter) SetUnreachable(user UserID, unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable[user] = unreachable
}

// SetMediaError makes SendMediaPrivate fail with err.
func (m *MockAdapter) SetMediaError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaErr = err
}

// SetAssetRef sets the AssetRef returned for the first media message.
func (m *MockAdapter) SetAssetRef(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetRef = ref
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// NotifyPrivate records the notification.
func (m *MockAdapter) NotifyPrivate(ctx context.Context, user UserID, text string) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable[user] {
		return MessageRef{}, ErrUnreachable
	}
	m.calls = append(m.calls, Call{Op: "notify", User: user, Text: text})
	return m.nextRefLocked("dm-" + string(user)), nil
}

// Retract records the deletion.
func (m *MockAdapter) Retract(ctx context.Context, user UserID, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "retract", User: user, Text: ref.MessageID})
	return nil
}

// SendMediaPrivate records the items and returns one Sent per group of ten.
func (m *MockAdapter) SendMediaPrivate(ctx context.Context, user UserID, items []media.Descriptor, p Presentation) ([]Sent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable[user] {
		return nil, ErrUnreachable
	}
	if m.mediaErr != nil {
		return nil, m.mediaErr
	}
	m.calls = append(m.calls, Call{Op: "media", User: user, Items: append([]media.Descriptor(nil), items...)})

	var sent []Sent
	for i := 0; i < len(items); i += 10 {
		s := Sent{Ref: m.nextRefLocked("dm-" + string(user))}
		if i == 0 {
			s.AssetRef = m.assetRef
		}
		sent = append(sent, s)
	}
	return sent, nil
}

// UpdateSurface records the update.
func (m *MockAdapter) UpdateSurface(ctx context.Context, s Surface, u SurfaceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "update", Surface: s, Update: u})
	return nil
}

// PresentCard records the card and returns a fresh surface in the event's
// channel.
func (m *MockAdapter) PresentCard(ctx context.Context, ev LinkSubmitted, card Card) (Surface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Surface{}, fmt.Errorf("mock adapter: not connected")
	}
	ref := m.nextRefLocked(ev.Conv.ChannelID)
	s := Surface{ChannelID: ref.ChannelID, MessageID: ref.MessageID, Private: !ev.Inline}
	m.calls = append(m.calls, Call{Op: "card", User: ev.User, Text: card.RequestID, Surface: s})
	return s, nil
}

// Reply records the text.
func (m *MockAdapter) Reply(ctx context.Context, conv Conversation, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "reply", Text: text})
	return nil
}

// Acknowledge records the acknowledgement.
func (m *MockAdapter) Acknowledge(ctx context.Context, ev ActionClicked, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "ack", User: ev.User, Text: text, Alert: alert})
	return nil
}

func (m *MockAdapter) nextRefLocked(channel string) MessageRef {
	m.msgCounter++
	return MessageRef{ChannelID: channel, MessageID: fmt.Sprintf("msg-%d", m.msgCounter)}
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(ev Event) {
	m.inbound <- ev
}

// Calls returns a copy of all recorded operations.
func (m *MockAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsOf returns the recorded operations named op.
func (m *MockAdapter) CallsOf(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// LastUpdate returns the most recent surface update.
// Returns zero value and false if no update has been recorded.
func (m *MockAdapter) LastUpdate() (SurfaceUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Op == "update" {
			return m.calls[i].Update, true
		}
	}
	return SurfaceUpdate{}, false
}
