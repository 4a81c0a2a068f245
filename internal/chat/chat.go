// Package chat defines the boundary between grabyard and chat platforms
// (Discord, Slack). Platform packages implement Adapter; the dispatch core
// only sees the narrower Channel.
package chat

import (
	"context"
	"errors"

	"github.com/zulandar/grabyard/internal/media"
)

// ErrUnreachable means the platform refused to deliver to the user's private
// channel, typically because the user never opened it.
var ErrUnreachable = errors.New("chat: recipient unreachable")

// UserID is an opaque platform user identifier.
type UserID string

// MessageRef locates a message the bot posted.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Surface is the message carrying a request's controls. For inline
// submissions it lives in a shared channel; for direct ones it lives in the
// requester's private channel.
type Surface struct {
	ChannelID string
	MessageID string
	Private   bool
}

// IsZero reports whether s has not been set.
func (s Surface) IsZero() bool {
	return s.ChannelID == "" && s.MessageID == ""
}

// Presentation holds options for a private media send.
type Presentation struct {
	Link   string // attached as a link control to single sends
	Silent bool
}

// Sent describes one message produced by a private media send.
type Sent struct {
	Ref MessageRef
	// AssetRef is a platform-hosted reference to the first asset in the
	// message, empty when the platform returned none.
	AssetRef string
}

// UpdateKind selects what a surface should show.
type UpdateKind int

const (
	// UpdateOptions shows the mode controls (auto, audio, link).
	UpdateOptions UpdateKind = iota
	// UpdateProcessing shows a disabled processing control and the link.
	UpdateProcessing
	// UpdateError shows Text with the link control.
	UpdateError
	// UpdateUnreachable shows the mode controls plus an open-private control.
	UpdateUnreachable
	// UpdateMedia reflects Media on the surface, with Text as caption.
	UpdateMedia
	// UpdateReplace deletes the surface and posts Text in its place when set.
	UpdateReplace
)

var updateNames = map[UpdateKind]string{
	UpdateOptions:     "options",
	UpdateProcessing:  "processing",
	UpdateError:       "error",
	UpdateUnreachable: "unreachable",
	UpdateMedia:       "media",
	UpdateReplace:     "replace",
}

func (k UpdateKind) String() string {
	if s, ok := updateNames[k]; ok {
		return s
	}
	return "unknown"
}

// SurfaceUpdate is a change to a Surface.
type SurfaceUpdate struct {
	Kind      UpdateKind
	RequestID string
	Link      string
	Text      string
	Media     *media.Descriptor
	// OpenPrivate swaps the link control for an open-private-channel control
	// on UpdateMedia.
	OpenPrivate bool
}

// Channel is the notification capability the dispatch core consumes.
type Channel interface {
	// NotifyPrivate sends a silent text to user's private channel. It fails
	// with ErrUnreachable when the channel cannot be opened.
	NotifyPrivate(ctx context.Context, user UserID, text string) (MessageRef, error)

	// Retract deletes a message previously sent to user.
	Retract(ctx context.Context, user UserID, ref MessageRef) error

	// SendMediaPrivate sends items to user's private channel, grouping as
	// the platform allows, and returns one Sent per message produced.
	SendMediaPrivate(ctx context.Context, user UserID, items []media.Descriptor, p Presentation) ([]Sent, error)

	// UpdateSurface changes what a request's surface shows.
	UpdateSurface(ctx context.Context, s Surface, u SurfaceUpdate) error
}
