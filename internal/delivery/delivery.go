// Package delivery sends resolved media to a requester's private channel and
// reflects the result on the request's surface.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
	"github.com/zulandar/grabyard/internal/metrics"
)

const (
	// MaxBatch is the most assets sent in one private message.
	MaxBatch = 10
	// DefaultCallTimeout bounds each chat call.
	DefaultCallTimeout = 10 * time.Second
)

// Delivery is one successful resolution ready to send.
type Delivery struct {
	Requester chat.UserID
	Link      string
	Surface   chat.Surface
	Inline    bool
	Resolved  media.Resolved
}

// Report summarizes a delivery.
type Report struct {
	Delivered  int
	LeadingRef string // platform reference of the first asset, if any
}

// Orchestrator sends media privately and updates the surface.
type Orchestrator struct {
	channel chat.Channel
	timeout time.Duration
	log     zerolog.Logger
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Channel     chat.Channel
	CallTimeout time.Duration // per chat call; defaults to DefaultCallTimeout
	Logger      zerolog.Logger
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("delivery: channel is required")
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Orchestrator{channel: opts.Channel, timeout: timeout, log: opts.Logger}, nil
}

// Deliver sends every item in d.Resolved privately, then reflects the first
// one on the surface, if any. Errors from the private send wrap chat.ErrUnreachable
// when the recipient could not be reached. Surface failures are logged only.
func (o *Orchestrator) Deliver(ctx context.Context, d Delivery) (Report, error) {
	items := d.Resolved.Items
	if len(items) == 0 {
		return Report{}, fmt.Errorf("delivery: nothing to deliver")
	}

	var rep Report
	if len(items) == 1 {
		sent, err := o.send(ctx, d.Requester, items, chat.Presentation{Link: d.Link, Silent: true})
		if err != nil {
			return rep, wrapSend(err)
		}
		rep.Delivered = 1
		rep.LeadingRef = leadingRef(sent)
	} else {
		for start := 0; start < len(items); start += MaxBatch {
			end := min(start+MaxBatch, len(items))
			sent, err := o.send(ctx, d.Requester, items[start:end], chat.Presentation{Silent: true})
			if err != nil {
				return rep, wrapSend(err)
			}
			if start == 0 {
				rep.LeadingRef = leadingRef(sent)
			}
			rep.Delivered = end
		}
	}
	for _, it := range items {
		metrics.DeliveredItemsTotal.WithLabelValues(string(it.Kind)).Inc()
	}

	if d.Surface.IsZero() {
		return rep, nil
	}
	uctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.channel.UpdateSurface(uctx, d.Surface, o.reflection(d, rep)); err != nil {
		o.log.Warn().Err(err).Str("channel", d.Surface.ChannelID).Msg("surface update after delivery failed")
	}
	return rep, nil
}

func (o *Orchestrator) send(ctx context.Context, user chat.UserID, items []media.Descriptor, p chat.Presentation) ([]chat.Sent, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.channel.SendMediaPrivate(ctx, user, items, p)
}

func (o *Orchestrator) reflection(d Delivery, rep Report) chat.SurfaceUpdate {
	res := d.Resolved
	multi := res.Succeeded() > 1

	if !d.Inline {
		u := chat.SurfaceUpdate{Kind: chat.UpdateReplace, Link: d.Link}
		if multi {
			u.Text = fmt.Sprintf("%d media files", res.Succeeded()) + failureNote(res)
		}
		return u
	}

	lead := res.Items[0]
	if rep.LeadingRef != "" {
		lead.URL = rep.LeadingRef
	}
	u := chat.SurfaceUpdate{
		Kind:        chat.UpdateMedia,
		Link:        d.Link,
		Media:       &lead,
		OpenPrivate: multi,
	}
	switch {
	case multi:
		u.Text = fmt.Sprintf("Found %d media, sent via private message", res.Succeeded()) + failureNote(res)
	case res.Partial():
		u.Text = "Sent via private message" + failureNote(res)
	}
	return u
}

func failureNote(res media.Resolved) string {
	if !res.Partial() {
		return ""
	}
	return fmt.Sprintf(" (%d of %d failed)", res.Failed, res.Attempted)
}

func leadingRef(sent []chat.Sent) string {
	if len(sent) == 0 {
		return ""
	}
	return sent[0].AssetRef
}

func wrapSend(err error) error {
	if errors.Is(err, chat.ErrUnreachable) {
		return fmt.Errorf("delivery: recipient: %w", err)
	}
	return fmt.Errorf("delivery: private send: %w", err)
}
