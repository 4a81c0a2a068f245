package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/dispatch"
	"github.com/zulandar/grabyard/internal/metrics"
	"github.com/zulandar/grabyard/internal/origin"
	"github.com/zulandar/grabyard/internal/pending"
)

// Coordinator is the part of dispatch.Coordinator the router drives.
type Coordinator interface {
	Submit(link string, o pending.Origin, requester chat.UserID) (string, error)
	MarkInteractive(id string, s chat.Surface) bool
	Dispatch(ctx context.Context, t dispatch.Trigger) dispatch.Result
	Readmit(id string, requester chat.UserID) bool
}

// Router classifies inbound chat events and routes them to the coordinator.
type Router struct {
	coord     Coordinator
	adapter   chat.Adapter
	throttle  *Throttle
	botUserID string
	log       zerolog.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Coordinator Coordinator
	Adapter     chat.Adapter
	Throttle    *Throttle // optional; nil disables throttling
	BotUserID   string    // bot's user ID for self-message filtering
	Logger      zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("bot: router: coordinator is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	return &Router{
		coord:     opts.Coordinator,
		adapter:   opts.Adapter,
		throttle:  opts.Throttle,
		botUserID: opts.BotUserID,
		log:       opts.Logger,
	}, nil
}

// Handle routes a single inbound event.
func (r *Router) Handle(ctx context.Context, ev chat.Event) {
	switch e := ev.(type) {
	case chat.LinkSubmitted:
		r.handleSubmission(ctx, e)
	case chat.ActionClicked:
		r.handleClick(ctx, e)
	case chat.StartReceived:
		r.handleStart(ctx, e)
	case chat.SurfaceShown:
		if !r.coord.MarkInteractive(e.RequestID, e.Surface) {
			r.log.Debug().Str("id", e.RequestID).Msg("surface shown for retired request")
		}
	default:
		r.log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("unhandled event")
	}
}

func (r *Router) handleSubmission(ctx context.Context, e chat.LinkSubmitted) {
	if r.isSelf(e.User) {
		return
	}
	link := ExtractLink(e.Text)
	if link == "" {
		r.log.Debug().Str("user", string(e.User)).Msg("submission without link")
		r.reply(ctx, e.Conv, helpText)
		return
	}
	if !r.throttle.Allow(e.User) {
		metrics.SubmissionsThrottledTotal.Inc()
		r.log.Info().Str("user", string(e.User)).Msg("submission throttled")
		r.reply(ctx, e.Conv, throttledText)
		return
	}

	o := pending.OriginDirect
	if e.Inline {
		o = pending.OriginInline
	}
	id, err := r.coord.Submit(link, o, e.User)
	if err != nil {
		r.log.Error().Err(err).Msg("submit")
		return
	}

	surface, err := r.adapter.PresentCard(ctx, e, chat.Card{RequestID: id, Link: link})
	if err != nil {
		// The request ages out through the sweep.
		r.log.Error().Err(err).Str("id", id).Msg("present card")
		return
	}
	if surface.IsZero() {
		// Platform reports the surface later via SurfaceShown.
		return
	}
	r.coord.MarkInteractive(id, surface)
}

func (r *Router) handleClick(ctx context.Context, e chat.ActionClicked) {
	res := r.coord.Dispatch(ctx, dispatch.Trigger{
		ID:        e.RequestID,
		Requester: e.User,
		Mode:      origin.ParseMode(e.Mode),
		Surface:   e.Surface,
	})

	var text string
	alert := false
	switch res.Outcome {
	case dispatch.Expired, dispatch.Unauthorized:
		text = res.Message
	case dispatch.RecipientUnreachable:
		text, alert = res.Message, true
	}
	if err := r.adapter.Acknowledge(ctx, e, text, alert); err != nil {
		r.log.Warn().Err(err).Str("id", e.RequestID).Msg("acknowledge click")
	}
}

func (r *Router) handleStart(ctx context.Context, e chat.StartReceived) {
	param := strings.TrimSpace(e.Param)
	switch {
	case param == "":
		r.reply(ctx, e.Conv, welcomeText)
	case strings.HasPrefix(param, "help"):
		// Deep links from a help hint need no reply.
	case r.coord.Readmit(param, e.User):
		r.reply(ctx, e.Conv, readmittedText)
	default:
		r.reply(ctx, e.Conv, grantMissingText)
	}
}

func (r *Router) reply(ctx context.Context, conv chat.Conversation, text string) {
	if err := r.adapter.Reply(ctx, conv, text); err != nil {
		r.log.Warn().Err(err).Str("channel", conv.ChannelID).Msg("reply")
	}
}

func (r *Router) isSelf(user chat.UserID) bool {
	return r.botUserID != "" && string(user) == r.botUserID
}
