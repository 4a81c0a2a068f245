// Package pending holds requests that are waiting for a download mode and
// the timers that fire for them when nobody chooses one.
package pending

import (
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/grabyard/internal/chat"
)

// Origin records where a request was submitted.
type Origin string

const (
	// OriginInline is a submission from a shared channel.
	OriginInline Origin = "inline"
	// OriginDirect is a submission in the requester's private channel.
	OriginDirect Origin = "direct"
)

// Request is a submitted link awaiting dispatch. It is immutable once built.
type Request struct {
	ID        string
	Query     string
	Origin    Origin
	Requester chat.UserID
	CreatedAt time.Time
}

// NewRequest builds a Request with a fresh random id.
func NewRequest(query string, origin Origin, requester chat.UserID) Request {
	return Request{
		ID:        uuid.NewString(),
		Query:     query,
		Origin:    origin,
		Requester: requester,
		CreatedAt: time.Now(),
	}
}

// Age reports how long ago the request was created.
func (r Request) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
