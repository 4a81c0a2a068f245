// Package probe checks whether a remote asset has retrievable bytes.
package probe

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zulandar/grabyard/internal/metrics"
)

// DefaultTimeout bounds each probe request.
const DefaultTimeout = 3 * time.Second

// Verdict is the outcome of a single probe.
type Verdict int

const (
	// Unknown means both probe requests failed at the transport level.
	Unknown Verdict = iota
	Present
	Absent
)

func (v Verdict) String() string {
	switch v {
	case Present:
		return "present"
	case Absent:
		return "absent"
	}
	return "unknown"
}

// Prober issues HEAD then ranged GET requests and caches positive verdicts
// for the lifetime of the process. Safe for concurrent use.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.RWMutex
	known map[string]struct{}
	sf    singleflight.Group
}

// Opts holds parameters for creating a Prober.
type Opts struct {
	Client  *http.Client  // defaults to a plain client
	Timeout time.Duration // per request; defaults to DefaultTimeout
	Logger  zerolog.Logger
}

// New creates a Prober.
func New(opts Opts) *Prober {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client:  client,
		timeout: timeout,
		log:     opts.Logger,
		known:   make(map[string]struct{}),
	}
}

// HasContent reports whether url is known to serve at least one byte. It
// never fails; anything short of a confirmed Present is false.
func (p *Prober) HasContent(ctx context.Context, url string) bool {
	return p.Check(ctx, url) == Present
}

// Check probes url and returns a tri-state verdict. Concurrent checks of the
// same url share a single round of requests.
func (p *Prober) Check(ctx context.Context, url string) Verdict {
	if p.cached(url) {
		metrics.ProbeResultsTotal.WithLabelValues("cached").Inc()
		return Present
	}

	v, _, _ := p.sf.Do(url, func() (interface{}, error) {
		verdict := p.probe(ctx, url)
		if verdict == Present {
			p.mu.Lock()
			p.known[url] = struct{}{}
			p.mu.Unlock()
		}
		return verdict, nil
	})
	verdict := v.(Verdict)
	metrics.ProbeResultsTotal.WithLabelValues(verdict.String()).Inc()
	return verdict
}

// Cached reports how many positive verdicts are held.
func (p *Prober) Cached() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.known)
}

func (p *Prober) cached(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.known[url]
	return ok
}

func (p *Prober) probe(ctx context.Context, url string) Verdict {
	headOK, headErr := p.head(ctx, url)
	if headOK {
		return Present
	}

	rangeOK, rangeErr := p.rangeRead(ctx, url)
	if rangeOK {
		return Present
	}
	if headErr != nil && rangeErr != nil {
		p.log.Warn().Str("url", url).AnErr("head_err", headErr).AnErr("get_err", rangeErr).
			Msg("probe inconclusive")
		return Unknown
	}
	p.log.Warn().Str("url", url).Msg("asset appears to be empty")
	return Absent
}

// head reports true when the origin answers below 400 with a positive
// Content-Length.
func (p *Prober) head(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, nil
	}
	n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// rangeRead asks for the first byte and reports whether any payload arrived.
func (p *Prober) rangeRead(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 3 {
		return false, nil
	}
	buf := make([]byte, 1)
	n, err := io.ReadFull(resp.Body, buf)
	if n > 0 {
		return true, nil
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return false, nil
}
