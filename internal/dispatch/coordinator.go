package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/delivery"
	"github.com/zulandar/grabyard/internal/media"
	"github.com/zulandar/grabyard/internal/metrics"
	"github.com/zulandar/grabyard/internal/origin"
	"github.com/zulandar/grabyard/internal/pending"
)

const (
	// DefaultChatTimeout bounds each chat call made by the coordinator.
	DefaultChatTimeout = 10 * time.Second
	// DefaultAutoTimeout bounds a whole automatic dispatch.
	DefaultAutoTimeout = 2 * time.Minute

	reachabilityText = "(｡•̀ᴗ-)✧"
)

var tracer = otel.Tracer("github.com/zulandar/grabyard/internal/dispatch")

// Resolver turns a link into media.
type Resolver interface {
	Resolve(ctx context.Context, link string, mode origin.Mode) (media.Resolved, error)
}

// Deliverer sends resolved media to the requester.
type Deliverer interface {
	Deliver(ctx context.Context, d delivery.Delivery) (delivery.Report, error)
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// grant lets an unreachable request back in once, until it would have aged
// out anyway.
type grant struct {
	req     pending.Request
	expires time.Time
}

// Coordinator owns the pending-request lifecycle. Safe for concurrent use.
type Coordinator struct {
	registry    *pending.Registry
	scheduler   *pending.Scheduler
	resolver    Resolver
	deliverer   Deliverer
	channel     chat.Channel
	recorder    Recorder
	maxAge      time.Duration
	autoDelay   time.Duration
	chatTimeout time.Duration
	autoTimeout time.Duration
	log         zerolog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{}
	grants   map[string]grant
	retried  map[string]time.Time // readmitted ids, until their grant would have expired
	surfaces map[string]chat.Surface
}

// Opts holds parameters for creating a Coordinator.
type Opts struct {
	Registry    *pending.Registry  // required
	Scheduler   *pending.Scheduler // required
	Resolver    Resolver           // required
	Deliverer   Deliverer          // required
	Channel     chat.Channel       // required
	Recorder    Recorder           // optional
	MaxAge      time.Duration      // defaults to pending.DefaultMaxAge
	AutoDelay   time.Duration      // defaults to pending.DefaultDelay
	ChatTimeout time.Duration      // defaults to DefaultChatTimeout
	AutoTimeout time.Duration      // defaults to DefaultAutoTimeout
	Logger      zerolog.Logger
}

// New creates a Coordinator.
func New(opts Opts) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("dispatch: scheduler is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("dispatch: resolver is required")
	}
	if opts.Deliverer == nil {
		return nil, fmt.Errorf("dispatch: deliverer is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("dispatch: channel is required")
	}

	c := &Coordinator{
		registry:    opts.Registry,
		scheduler:   opts.Scheduler,
		resolver:    opts.Resolver,
		deliverer:   opts.Deliverer,
		channel:     opts.Channel,
		recorder:    opts.Recorder,
		maxAge:      orDefault(opts.MaxAge, pending.DefaultMaxAge),
		autoDelay:   orDefault(opts.AutoDelay, pending.DefaultDelay),
		chatTimeout: orDefault(opts.ChatTimeout, DefaultChatTimeout),
		autoTimeout: orDefault(opts.AutoTimeout, DefaultAutoTimeout),
		log:         opts.Logger,
		inflight:    make(map[string]struct{}),
		grants:      make(map[string]grant),
		retried:     make(map[string]time.Time),
		surfaces:    make(map[string]chat.Surface),
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Submit registers a new request for link and returns its id. Nothing is
// armed until MarkInteractive.
func (c *Coordinator) Submit(link string, o pending.Origin, requester chat.UserID) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", fmt.Errorf("dispatch: submit: empty link")
	}
	if requester == "" {
		return "", fmt.Errorf("dispatch: submit: requester is required")
	}
	req := pending.NewRequest(link, o, requester)
	c.registry.Add(req)
	c.log.Info().Str("id", req.ID).Str("origin", string(o)).Str("user", string(requester)).Msg("request submitted")
	return req.ID, nil
}

// MarkInteractive records the surface for id and arms the automatic trigger.
// It reports false when id is no longer pending or already dispatching.
func (c *Coordinator) MarkInteractive(id string, s chat.Surface) bool {
	c.mu.Lock()
	if _, ok := c.registry.Get(id); !ok {
		c.mu.Unlock()
		return false
	}
	if _, busy := c.inflight[id]; busy {
		c.mu.Unlock()
		return false
	}
	c.surfaces[id] = s
	c.scheduler.Arm(id, c.autoDelay, c.autoFire)
	c.mu.Unlock()
	return true
}

// autoFire is the scheduled action. It reloads the request since it may have
// been dispatched or evicted while the timer was pending.
func (c *Coordinator) autoFire(id string) {
	req, ok := c.registry.Get(id)
	if !ok {
		c.log.Debug().Str("id", id).Msg("auto trigger: request gone")
		return
	}
	ctx, cancel := context.WithTimeout(c.base, c.autoTimeout)
	defer cancel()

	res := c.Dispatch(ctx, Trigger{ID: id, Requester: req.Requester, Automatic: true})
	c.log.Info().Str("id", id).Stringer("outcome", res.Outcome).Msg("auto dispatch finished")
}

// Dispatch runs one trigger to a classified Result. Of any set of racing
// triggers for the same id at most one proceeds past the entry check; the
// rest see Expired.
func (c *Coordinator) Dispatch(ctx context.Context, t Trigger) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("grabyard.request_id", t.ID),
		attribute.Bool("grabyard.automatic", t.Automatic),
	)

	req, surface, res, ok := c.enter(t)
	if !ok {
		return c.finish(ctx, t, res, start)
	}
	defer c.leave(t.ID)

	c.scheduler.Cancel(t.ID)
	res = c.run(ctx, t, req, surface)
	span.SetAttributes(attribute.String("grabyard.outcome", res.Outcome.String()))
	return c.finish(ctx, t, res, start)
}

// enter performs the check-and-mark under the coordinator lock.
func (c *Coordinator) enter(t Trigger) (pending.Request, chat.Surface, Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := Result{Outcome: Expired, Message: "Expired, send the link again"}
	if _, busy := c.inflight[t.ID]; busy {
		return pending.Request{}, chat.Surface{}, expired, false
	}
	req, ok := c.registry.Get(t.ID)
	if !ok {
		req, ok = c.readmitLocked(t.ID, t.Requester)
	}
	if !ok {
		return pending.Request{}, chat.Surface{}, expired, false
	}
	if req.Requester != t.Requester {
		return req, chat.Surface{}, Result{Outcome: Unauthorized, Request: req, Message: "This is not your request"}, false
	}

	c.inflight[t.ID] = struct{}{}
	surface := t.Surface
	if surface.IsZero() {
		surface = c.surfaces[t.ID]
	} else {
		c.surfaces[t.ID] = surface
	}
	return req, surface, Result{}, true
}

func (c *Coordinator) leave(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	delete(c.retried, id)
	if _, ok := c.grants[id]; !ok {
		delete(c.surfaces, id)
	}
	c.mu.Unlock()
}

// readmitLocked consumes a retry grant for id. Caller holds c.mu.
func (c *Coordinator) readmitLocked(id string, requester chat.UserID) (pending.Request, bool) {
	g, ok := c.grants[id]
	if !ok || g.req.Requester != requester {
		return pending.Request{}, false
	}
	delete(c.grants, id)
	if time.Now().After(g.expires) {
		return pending.Request{}, false
	}
	c.retried[id] = g.expires
	c.registry.Add(g.req)
	c.log.Info().Str("id", id).Msg("request readmitted")
	return g.req, true
}

// run executes the dispatch steps after the marker is set. The request is
// removed from the registry on every path.
func (c *Coordinator) run(ctx context.Context, t Trigger, req pending.Request, surface chat.Surface) Result {
	defer c.registry.Remove(req.ID)
	res := Result{Request: req}

	c.updateSurface(ctx, surface, chat.SurfaceUpdate{Kind: chat.UpdateProcessing, RequestID: req.ID, Link: req.Query})

	if req.Origin == pending.OriginInline {
		if err := c.checkReachable(ctx, req.Requester); err != nil {
			return c.unreachable(ctx, req, surface, err)
		}
	}

	resolved, err := c.resolver.Resolve(ctx, req.Query, t.Mode)
	res.Resolved = resolved
	if err != nil {
		res.Err = err
		res.Outcome, res.Message = classifyResolve(err, resolved)
		c.updateSurface(ctx, surface, chat.SurfaceUpdate{
			Kind:      chat.UpdateError,
			RequestID: req.ID,
			Link:      req.Query,
			Text:      "⚠️ Error: " + res.Message,
		})
		return res
	}

	rep, err := c.deliverer.Deliver(ctx, delivery.Delivery{
		Requester: req.Requester,
		Link:      req.Query,
		Surface:   surface,
		Inline:    req.Origin == pending.OriginInline,
		Resolved:  resolved,
	})
	res.Delivered = rep.Delivered
	if err != nil {
		if errors.Is(err, chat.ErrUnreachable) {
			return c.unreachable(ctx, req, surface, err)
		}
		res.Outcome = DeliveryFailed
		res.Err = err
		res.Message = "An error occurred while processing your request. Please try again."
		c.updateSurface(ctx, surface, chat.SurfaceUpdate{Kind: chat.UpdateError, RequestID: req.ID, Link: req.Query, Text: res.Message})
		return res
	}

	res.Outcome = Delivered
	if resolved.Partial() {
		res.Outcome = PartiallyDelivered
	}
	return res
}

// checkReachable sends and retracts a silent private note.
func (c *Coordinator) checkReachable(ctx context.Context, user chat.UserID) error {
	cctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()
	ref, err := c.channel.NotifyPrivate(cctx, user, reachabilityText)
	if err != nil {
		return err
	}
	if err := c.channel.Retract(cctx, user, ref); err != nil {
		c.log.Warn().Err(err).Str("user", string(user)).Msg("retract reachability note failed")
	}
	return nil
}

// unreachable stores a one-time retry grant and shows the remediation
// controls. A request that already used its grant expires for good. The
// caller's deferred Remove retires the live request.
func (c *Coordinator) unreachable(ctx context.Context, req pending.Request, surface chat.Surface, cause error) Result {
	c.mu.Lock()
	_, used := c.retried[req.ID]
	if !used {
		c.grants[req.ID] = grant{req: req, expires: req.CreatedAt.Add(c.maxAge)}
	}
	c.mu.Unlock()

	res := Result{
		Outcome: RecipientUnreachable,
		Request: req,
		Err:     cause,
		Message: "Open a private chat with the bot and retry",
	}
	c.log.Warn().Err(cause).Str("id", req.ID).Str("user", string(req.Requester)).Bool("final", used).Msg("requester unreachable")
	if used {
		res.Message = "Open a private chat with the bot and send the link again"
		c.updateSurface(ctx, surface, chat.SurfaceUpdate{Kind: chat.UpdateError, RequestID: req.ID, Link: req.Query, Text: "⚠️ Error: " + res.Message})
		return res
	}
	c.updateSurface(ctx, surface, chat.SurfaceUpdate{Kind: chat.UpdateUnreachable, RequestID: req.ID, Link: req.Query})
	return res
}

func classifyResolve(err error, res media.Resolved) (Outcome, string) {
	var declined *origin.DeclinedError
	switch {
	case errors.As(err, &declined):
		return UpstreamDeclined, declined.Message()
	case errors.Is(err, origin.ErrNoValidMedia):
		if res.Attempted > 1 {
			return NoValidMedia, "Failed to process all media items"
		}
		return NoValidMedia, "File appears to be empty"
	}
	return UpstreamFailure, "Failed to fetch media from all available mirrors"
}

func (c *Coordinator) updateSurface(ctx context.Context, s chat.Surface, u chat.SurfaceUpdate) {
	if s.IsZero() {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()
	if err := c.channel.UpdateSurface(cctx, s, u); err != nil {
		c.log.Warn().Err(err).Stringer("update", u.Kind).Str("id", u.RequestID).Msg("surface update failed")
	}
}

// finish records metrics and history for res.
func (c *Coordinator) finish(ctx context.Context, t Trigger, res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	metrics.DispatchOutcomesTotal.WithLabelValues(res.Outcome.String(), metrics.TriggerLabel(t.Automatic)).Inc()

	ev := c.log.Info()
	if res.Err != nil {
		ev = c.log.Warn().Err(res.Err)
	}
	ev.Str("id", t.ID).Stringer("outcome", res.Outcome).Bool("automatic", t.Automatic).
		Dur("took", res.Duration).Msg("dispatch finished")

	if c.recorder == nil || res.Outcome == Expired {
		return res
	}
	e := Entry{
		RequestID:  t.ID,
		Requester:  string(t.Requester),
		Link:       res.Request.Query,
		Origin:     string(res.Request.Origin),
		Mode:       t.Mode.String(),
		Automatic:  t.Automatic,
		Outcome:    res.Outcome.String(),
		Attempted:  res.Resolved.Attempted,
		Failed:     res.Resolved.Failed,
		Delivered:  res.Delivered,
		Duration:   res.Duration,
		FinishedAt: time.Now(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.chatTimeout)
	defer cancel()
	if err := c.recorder.Record(rctx, e); err != nil {
		c.log.Warn().Err(err).Str("id", t.ID).Msg("record outcome failed")
	}
	return res
}

// Readmit replays the retry grant for id on behalf of requester and re-arms
// the automatic trigger on the surface it was last shown on.
func (c *Coordinator) Readmit(id string, requester chat.UserID) bool {
	c.mu.Lock()
	_, live := c.registry.Get(id)
	_, busy := c.inflight[id]
	if live || busy {
		c.mu.Unlock()
		return false
	}
	req, ok := c.readmitLocked(id, requester)
	surface, hasSurface := c.surfaces[id]
	c.mu.Unlock()
	if !ok {
		return false
	}

	if hasSurface {
		c.updateSurface(c.base, surface, chat.SurfaceUpdate{Kind: chat.UpdateOptions, RequestID: id, Link: req.Query})
		c.scheduler.Arm(id, c.autoDelay, c.autoFire)
	}
	return true
}

// Surface returns the surface recorded for id.
func (c *Coordinator) Surface(id string) (chat.Surface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.surfaces[id]
	return s, ok
}

// Sweep retires requests older than the age ceiling that are not being
// dispatched, drops expired retry grants, and forgets stale surfaces.
func (c *Coordinator) Sweep() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.registry.Sweep(c.maxAge, func(id string) bool {
		_, busy := c.inflight[id]
		return busy
	})

	now := time.Now()
	for id, g := range c.grants {
		if now.After(g.expires) {
			delete(c.grants, id)
		}
	}
	for id, expires := range c.retried {
		if _, busy := c.inflight[id]; !busy && now.After(expires) {
			delete(c.retried, id)
		}
	}
	for id := range c.surfaces {
		_, live := c.registry.Get(id)
		_, granted := c.grants[id]
		_, busy := c.inflight[id]
		if !live && !granted && !busy {
			delete(c.surfaces, id)
		}
	}

	if len(removed) > 0 {
		c.log.Info().Strs("ids", removed).Msg("swept expired requests")
	}
	return removed
}

// Pending returns the live requests, oldest first.
func (c *Coordinator) Pending() []pending.Request {
	return c.registry.Snapshot()
}

// Grants returns how many retry grants are outstanding.
func (c *Coordinator) Grants() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grants)
}

// Close stops every armed trigger and cancels automatic dispatches in flight.
func (c *Coordinator) Close() {
	c.scheduler.Stop()
	c.cancel()
}
