package chat

import (
	"context"
	"fmt"
	"strings"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, inbound event translation and
// the Channel operations for a single chat platform.
type Adapter interface {
	Channel

	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// PresentCard answers a submission with the download card and returns
	// the surface it landed on.
	PresentCard(ctx context.Context, ev LinkSubmitted, card Card) (Surface, error)

	// Reply answers conv with a plain text message.
	Reply(ctx context.Context, conv Conversation, text string) error

	// Acknowledge answers a control click. Alert asks the platform to show
	// text prominently where it can.
	Acknowledge(ctx context.Context, ev ActionClicked, text string, alert bool) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// Card is the download card presented for a new request.
type Card struct {
	RequestID string
	Link      string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// Control values carried by mode buttons.
const (
	ModeAuto  = "auto"
	ModeAudio = "audio"
)

const actionPrefix = "download"

// ActionID encodes the control id for a mode button.
func ActionID(requestID, mode string) string {
	return actionPrefix + ":" + requestID + ":" + mode
}

// ParseActionID decodes a control id produced by ActionID.
func ParseActionID(s string) (requestID, mode string, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != actionPrefix || parts[1] == "" {
		return "", "", fmt.Errorf("chat: invalid action id %q", s)
	}
	switch parts[2] {
	case ModeAuto, ModeAudio:
	default:
		return "", "", fmt.Errorf("chat: invalid mode in action id %q", s)
	}
	return parts[1], parts[2], nil
}
