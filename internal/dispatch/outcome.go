// Package dispatch drives a pending request from its first trigger to a
// terminal outcome, exactly once per request id.
package dispatch

import (
	"time"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
	"github.com/zulandar/grabyard/internal/origin"
	"github.com/zulandar/grabyard/internal/pending"
)

// Outcome classifies how a dispatch attempt ended.
type Outcome int

const (
	Delivered Outcome = iota
	PartiallyDelivered
	Expired
	Unauthorized
	RecipientUnreachable
	UpstreamFailure
	UpstreamDeclined
	NoValidMedia
	DeliveryFailed
)

var outcomeNames = map[Outcome]string{
	Delivered:            "delivered",
	PartiallyDelivered:   "partially_delivered",
	Expired:              "expired",
	Unauthorized:         "unauthorized",
	RecipientUnreachable: "recipient_unreachable",
	UpstreamFailure:      "upstream_failure",
	UpstreamDeclined:     "upstream_declined",
	NoValidMedia:         "no_valid_media",
	DeliveryFailed:       "delivery_failed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Success reports whether at least one asset reached the requester.
func (o Outcome) Success() bool {
	return o == Delivered || o == PartiallyDelivered
}

// Retires reports whether the outcome removed the request from the registry.
func (o Outcome) Retires() bool {
	return o != Expired && o != Unauthorized
}

// Trigger is one attempt to dispatch a request: a click, a deep-link replay
// or the automatic timer.
type Trigger struct {
	ID        string
	Requester chat.UserID
	Mode      origin.Mode
	Automatic bool
	Surface   chat.Surface // zero uses the surface recorded for ID
}

// Result is the classified end of a Dispatch call.
type Result struct {
	Outcome   Outcome
	Request   pending.Request // zero for Expired
	Resolved  media.Resolved
	Delivered int
	Message   string // text shown to the requester
	Err       error  // underlying cause for failure outcomes
	Duration  time.Duration
}

// Entry is the audit record written for each classified dispatch.
type Entry struct {
	RequestID  string
	Requester  string
	Link       string
	Origin     string
	Mode       string
	Automatic  bool
	Outcome    string
	Attempted  int
	Failed     int
	Delivered  int
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}
