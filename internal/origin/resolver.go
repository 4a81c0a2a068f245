// Package origin resolves content links into media descriptors through an
// ordered list of cobalt-compatible mirrors.
package origin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/grabyard/internal/media"
	"github.com/zulandar/grabyard/internal/metrics"
	"github.com/zulandar/grabyard/internal/probe"
)

// DefaultTimeout bounds each mirror call.
const DefaultTimeout = 5 * time.Second

const defaultAudioFilename = "audio.mp3"

var tracer = otel.Tracer("github.com/zulandar/grabyard/internal/origin")

// Prober reports whether a remote asset has bytes.
type Prober interface {
	Check(ctx context.Context, url string) probe.Verdict
}

// Resolver turns a link into a media.Resolved by querying mirrors in order.
type Resolver struct {
	fetcher Fetcher
	prober  Prober
	timeout time.Duration
	rounds  int
	log     zerolog.Logger

	mu      sync.RWMutex
	mirrors []string
}

// Opts holds parameters for creating a Resolver.
type Opts struct {
	Mirrors []string
	Fetcher Fetcher       // defaults to NewHTTPFetcher(nil)
	Prober  Prober        // required
	Timeout time.Duration // per mirror call; defaults to DefaultTimeout
	Rounds  int           // defaults to 1
	Logger  zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts Opts) (*Resolver, error) {
	if len(opts.Mirrors) == 0 {
		return nil, fmt.Errorf("origin: at least one mirror is required")
	}
	if opts.Prober == nil {
		return nil, fmt.Errorf("origin: prober is required")
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rounds := opts.Rounds
	if rounds < 1 {
		rounds = 1
	}
	return &Resolver{
		fetcher: fetcher,
		prober:  opts.Prober,
		timeout: timeout,
		rounds:  rounds,
		log:     opts.Logger,
		mirrors: append([]string(nil), opts.Mirrors...),
	}, nil
}

// Mirrors returns a copy of the current mirror list.
func (r *Resolver) Mirrors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.mirrors...)
}

// SetMirrors replaces the mirror list. Calls already in flight keep the list
// they started with. An empty list is ignored.
func (r *Resolver) SetMirrors(mirrors []string) {
	if len(mirrors) == 0 {
		return
	}
	r.mu.Lock()
	r.mirrors = append([]string(nil), mirrors...)
	r.mu.Unlock()
	r.log.Info().Strs("mirrors", mirrors).Msg("mirror list updated")
}

// Resolve queries the mirrors for link and validates what comes back. It
// returns ErrUnavailable, a *DeclinedError, or an error wrapping
// ErrNoValidMedia; on the last the counters are still populated.
func (r *Resolver) Resolve(ctx context.Context, link string, mode Mode) (media.Resolved, error) {
	ctx, span := tracer.Start(ctx, "origin.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("grabyard.mode", mode.String()))

	start := time.Now()
	defer func() { metrics.ResolveDuration.Observe(time.Since(start).Seconds()) }()

	resp, err := r.fetch(ctx, link, mode)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return media.Resolved{}, err
	}

	res, err := r.normalize(ctx, resp, mode)
	span.SetAttributes(
		attribute.Int("grabyard.attempted", res.Attempted),
		attribute.Int("grabyard.failed", res.Failed),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// fetch walks the mirror list for up to r.rounds rounds and returns the
// first well-formed envelope.
func (r *Resolver) fetch(ctx context.Context, link string, mode Mode) (Response, error) {
	mirrors := r.Mirrors()
	payload := NewPayload(link, mode)

	var lastErr error
	for round := 1; round <= r.rounds; round++ {
		for _, m := range mirrors {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}

			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			resp, err := r.fetcher.Fetch(callCtx, m, payload)
			cancel()
			if err == nil {
				result := "ok"
				if _, declined := resp.(*ErrorResponse); declined {
					result = "declined"
				}
				metrics.MirrorRequestsTotal.WithLabelValues(m, result).Inc()
				return resp, nil
			}

			metrics.MirrorRequestsTotal.WithLabelValues(m, "transport").Inc()
			r.log.Warn().Err(err).Str("mirror", m).Int("round", round).Msg("mirror failed")
			lastErr = err
		}
	}
	return nil, fmt.Errorf("%w: %d mirror(s) x %d round(s): %v", ErrUnavailable, len(mirrors), r.rounds, lastErr)
}

func (r *Resolver) normalize(ctx context.Context, resp Response, mode Mode) (media.Resolved, error) {
	switch v := resp.(type) {
	case *ErrorResponse:
		return media.Resolved{}, &DeclinedError{Code: v.Code, Context: v.Context}
	case *TunnelResponse:
		return r.single(ctx, v.Asset, mode, true)
	case *RedirectResponse:
		return r.single(ctx, v.Asset, mode, false)
	case *PickerResponse:
		return r.picker(ctx, v, mode)
	}
	return media.Resolved{}, fmt.Errorf("origin: unhandled response %T", resp)
}

// single validates a one-asset envelope. Redirects are probed; an
// inconclusive probe keeps the asset since the origin vouched for it.
func (r *Resolver) single(ctx context.Context, a Asset, mode Mode, guaranteed bool) (media.Resolved, error) {
	res := media.Resolved{Attempted: 1}

	var d media.Descriptor
	if a.Audio != "" && (mode == ModeAudio || a.URL == "") {
		d = audioDescriptor(a.Audio, a.AudioFilename)
	} else {
		name := a.Filename
		if name == "" {
			name = media.FilenameFromURL(a.URL)
		}
		kind := a.Kind
		if kind == "" {
			kind = media.InferKind(name)
		}
		d = media.Descriptor{URL: a.URL, Kind: kind, Filename: name}
	}

	if !guaranteed {
		switch r.prober.Check(ctx, d.URL) {
		case probe.Absent:
			res.Failed = 1
			return res, fmt.Errorf("%w: file appears to be empty", ErrNoValidMedia)
		case probe.Unknown:
			r.log.Warn().Str("url", d.URL).Msg("probe inconclusive, keeping redirect asset")
		}
	}

	res.Items = []media.Descriptor{d}
	return res, nil
}

// picker probes every item and its thumbnail concurrently, then keeps the
// items whose content is confirmed, in upstream order.
func (r *Resolver) picker(ctx context.Context, p *PickerResponse, mode Mode) (media.Resolved, error) {
	if mode == ModeAudio && p.Audio != "" {
		return media.Resolved{
			Items:     []media.Descriptor{audioDescriptor(p.Audio, p.AudioFilename)},
			Attempted: 1,
		}, nil
	}

	res := media.Resolved{Attempted: len(p.Items)}
	if len(p.Items) == 0 {
		return res, fmt.Errorf("%w: empty picker", ErrNoValidMedia)
	}

	itemOK := make([]bool, len(p.Items))
	thumbOK := make([]bool, len(p.Items))

	g, gctx := errgroup.WithContext(ctx)
	for i, it := range p.Items {
		if pickerKind(it.Type) == "" || it.URL == "" {
			continue
		}
		g.Go(func() error {
			itemOK[i] = r.prober.Check(gctx, it.URL) == probe.Present
			return nil
		})
		if it.Thumb != "" {
			g.Go(func() error {
				thumbOK[i] = r.prober.Check(gctx, it.Thumb) == probe.Present
				return nil
			})
		}
	}
	_ = g.Wait()

	for i, it := range p.Items {
		if !itemOK[i] {
			res.Failed++
			r.log.Debug().Str("url", it.URL).Str("type", it.Type).Msg("picker item dropped")
			continue
		}
		d := media.Descriptor{
			URL:      it.URL,
			Kind:     pickerKind(it.Type),
			Filename: media.FilenameFromURL(it.URL),
		}
		if thumbOK[i] {
			d.Thumbnail = it.Thumb
		}
		res.Items = append(res.Items, d)
	}

	if !res.OK() {
		return res, fmt.Errorf("%w: all %d item(s) failed", ErrNoValidMedia, res.Attempted)
	}
	return res, nil
}

func pickerKind(t string) media.Kind {
	switch t {
	case "photo":
		return media.KindPhoto
	case "video":
		return media.KindVideo
	case "gif":
		return media.KindGIF
	}
	return ""
}

func audioDescriptor(url, filename string) media.Descriptor {
	if filename == "" {
		filename = defaultAudioFilename
	}
	return media.Descriptor{URL: url, Kind: media.KindAudio, Filename: filename}
}

// IsTransport reports whether err is a mirror-level transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
