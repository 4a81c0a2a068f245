// Package bot runs the chat front end: it pumps platform events into the
// dispatch coordinator and runs the periodic maintenance jobs.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zulandar/grabyard/internal/chat"
)

const (
	// DefaultSweepSpec is the default cron spec for the pending sweep.
	DefaultSweepSpec = "@every 5s"
	// DefaultPruneSpec is the default cron spec for history pruning.
	DefaultPruneSpec = "@daily"
)

// Sweeper retires stale pending requests.
type Sweeper interface {
	Sweep() []string
}

// Pruner deletes history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, routes inbound events, and runs the sweep on a cron schedule.
type Daemon struct {
	adapter   chat.Adapter
	coord     Coordinator
	sweeper   Sweeper
	pruner    Pruner
	throttle  *Throttle
	sweepSpec string
	pruneSpec string
	retention time.Duration
	log       zerolog.Logger
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter     chat.Adapter
	Coordinator Coordinator
	Sweeper     Sweeper       // usually the coordinator itself
	Pruner      Pruner        // optional; enables history pruning
	Retention   time.Duration // history age kept by the pruner
	Throttle    *Throttle     // optional
	SweepSpec   string        // defaults to DefaultSweepSpec
	PruneSpec   string        // defaults to DefaultPruneSpec
	Logger      zerolog.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("bot: coordinator is required")
	}
	if opts.Sweeper == nil {
		return nil, fmt.Errorf("bot: sweeper is required")
	}
	if opts.Pruner != nil && opts.Retention <= 0 {
		return nil, fmt.Errorf("bot: retention must be positive when pruning")
	}
	sweepSpec := opts.SweepSpec
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSpec
	}
	pruneSpec := opts.PruneSpec
	if pruneSpec == "" {
		pruneSpec = DefaultPruneSpec
	}
	return &Daemon{
		adapter:   opts.Adapter,
		coord:     opts.Coordinator,
		sweeper:   opts.Sweeper,
		pruner:    opts.Pruner,
		throttle:  opts.Throttle,
		sweepSpec: sweepSpec,
		pruneSpec: pruneSpec,
		retention: opts.Retention,
		log:       opts.Logger,
	}, nil
}

// Run connects the adapter, starts the maintenance jobs, and routes inbound
// events until the context is cancelled or the adapter closes its channel.
// Events are handled concurrently; Run waits for handlers before returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Msg("bot connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(chat.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		Coordinator: d.coord,
		Adapter:     d.adapter,
		Throttle:    d.throttle,
		BotUserID:   botUserID,
		Logger:      d.log,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	sched, err := d.buildCron(ctx)
	if err != nil {
		d.adapter.Close()
		return err
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	sched.Start()
	d.log.Info().Str("bot_user", botUserID).Msg("bot online")

	var wg sync.WaitGroup
	defer func() {
		<-sched.Stop().Done()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("bot shutting down")
			if err := d.adapter.Close(); err != nil {
				d.log.Warn().Err(err).Msg("close adapter")
			}
			return nil

		case ev, ok := <-inbound:
			if !ok {
				d.log.Info().Msg("inbound channel closed")
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				router.Handle(ctx, ev)
			}()
		}
	}
}

// buildCron registers the sweep, throttle cleanup and, when configured,
// history pruning.
func (d *Daemon) buildCron(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(d.sweepSpec, func() { d.sweeper.Sweep() }); err != nil {
		return nil, fmt.Errorf("bot: sweep schedule %q: %w", d.sweepSpec, err)
	}
	if d.throttle != nil {
		if _, err := c.AddFunc("@every 10m", func() { d.throttle.Prune() }); err != nil {
			return nil, fmt.Errorf("bot: throttle schedule: %w", err)
		}
	}
	if d.pruner != nil {
		if _, err := c.AddFunc(d.pruneSpec, func() { d.prune(ctx) }); err != nil {
			return nil, fmt.Errorf("bot: prune schedule %q: %w", d.pruneSpec, err)
		}
	}
	return c, nil
}

func (d *Daemon) prune(ctx context.Context) {
	n, err := d.pruner.Prune(ctx, time.Now().Add(-d.retention))
	if err != nil {
		d.log.Warn().Err(err).Msg("prune history")
		return
	}
	if n > 0 {
		d.log.Info().Int64("rows", n).Msg("pruned history")
	}
}
