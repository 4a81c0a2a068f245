package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/grabyard/internal/bot"
	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/chat/discord"
	"github.com/zulandar/grabyard/internal/chat/slack"
	"github.com/zulandar/grabyard/internal/config"
	"github.com/zulandar/grabyard/internal/db"
	"github.com/zulandar/grabyard/internal/delivery"
	"github.com/zulandar/grabyard/internal/dispatch"
	"github.com/zulandar/grabyard/internal/history"
	"github.com/zulandar/grabyard/internal/logging"
	"github.com/zulandar/grabyard/internal/origin"
	"github.com/zulandar/grabyard/internal/pending"
	"github.com/zulandar/grabyard/internal/probe"
	"github.com/zulandar/grabyard/internal/statusapi"
	"github.com/zulandar/grabyard/internal/telemetry"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the bot",
		Long: "Connects to the configured chat platform and serves link submissions until " +
			"interrupted. Also runs the status API and history pruning when configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to grabyard config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg, log)
	if err != nil {
		return err
	}

	resolver, _, err := buildResolver(cfg, log)
	if err != nil {
		return err
	}

	coord, err := buildCoordinator(cfg, adapter, resolver, store, log)
	if err != nil {
		return err
	}
	defer coord.Close()

	daemonOpts := bot.DaemonOpts{
		Adapter:     adapter,
		Coordinator: coord,
		Sweeper:     coord,
		SweepSpec:   cfg.Pending.Sweep,
		Logger:      logging.Component(log, "bot"),
	}
	if cfg.Limits.SubmitRPS > 0 {
		daemonOpts.Throttle = bot.NewThrottle(cfg.Limits.SubmitRPS, cfg.Limits.SubmitBurst)
	}
	if store != nil {
		daemonOpts.Pruner = store
		daemonOpts.Retention = cfg.History.Retention
		daemonOpts.PruneSpec = cfg.History.Prune
	}
	daemon, err := bot.NewDaemon(daemonOpts)
	if err != nil {
		return err
	}

	if err := config.Watch(ctx, config.WatchOpts{
		Path:   configPath,
		Target: resolver,
		Logger: logging.Component(log, "config"),
	}); err != nil {
		log.Warn().Err(err).Msg("config hot reload disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Status.Enabled {
		opts := statusapi.StartOpts{
			Addr:        cfg.Status.Addr,
			Pending:     coord,
			ServiceName: cfg.Telemetry.ServiceName,
			Logger:      logging.Component(log, "statusapi"),
			Out:         cmd.OutOrStdout(),
		}
		if store != nil {
			opts.History = store
		}
		g.Go(func() error { return statusapi.Start(gctx, opts) })
	}
	g.Go(func() error {
		// The daemon ending for any reason stops the status API too.
		defer cancel()
		return daemon.Run(gctx)
	})

	log.Info().
		Str("platform", cfg.Platform).
		Strs("mirrors", cfg.Origin.Mirrors).
		Bool("history", store != nil).
		Bool("status_api", cfg.Status.Enabled).
		Msg("grabyard starting")
	return g.Wait()
}

// newLogger builds the base logger from the logging section.
func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File: logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
		Service: cfg.Telemetry.ServiceName,
	})
}

// openHistory connects and migrates the outcome store. It returns nil when
// history is disabled.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled() {
		return nil, nil
	}
	gormDB, err := db.Connect(dbConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return history.NewStore(gormDB)
}

func dbConfig(cfg *config.Config) db.Config {
	h := cfg.History
	return db.Config{
		Driver:   h.Driver,
		Path:     h.Path,
		Host:     h.Host,
		Port:     h.Port,
		Database: h.Database,
		User:     h.User,
		Password: h.Password(),
	}
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log zerolog.Logger) (chat.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformSlack:
		return slack.New(slack.AdapterOpts{
			AppToken: cfg.Slack.AppToken(),
			BotToken: cfg.Slack.BotToken(),
			Command:  cfg.Slack.Command,
			Logger:   logging.Component(log, "slack"),
		})
	case config.PlatformDiscord:
		return discord.New(discord.AdapterOpts{
			BotToken: cfg.Discord.Token(),
			GuildID:  cfg.Discord.GuildID,
			Command:  cfg.Discord.Command,
			Logger:   logging.Component(log, "discord"),
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// buildResolver wires the prober and the mirror resolver. Both share one
// instrumented HTTP client.
func buildResolver(cfg *config.Config, log zerolog.Logger) (*origin.Resolver, *probe.Prober, error) {
	client := origin.NewHTTPClient()
	prober := probe.New(probe.Opts{
		Client:  client,
		Timeout: cfg.Probe.Timeout,
		Logger:  logging.Component(log, "probe"),
	})
	resolver, err := origin.NewResolver(origin.Opts{
		Mirrors: cfg.Origin.Mirrors,
		Fetcher: origin.NewHTTPFetcher(client),
		Prober:  prober,
		Timeout: cfg.Origin.Timeout,
		Rounds:  cfg.Origin.Rounds,
		Logger:  logging.Component(log, "origin"),
	})
	if err != nil {
		return nil, nil, err
	}
	return resolver, prober, nil
}

func buildCoordinator(cfg *config.Config, ch chat.Channel, resolver dispatch.Resolver, store *history.Store, log zerolog.Logger) (*dispatch.Coordinator, error) {
	sched := pending.NewScheduler()
	reg := pending.NewRegistry(pending.RegistryOpts{
		Capacity: cfg.Pending.Capacity,
		OnEvict:  func(id string) { sched.Cancel(id) },
	})
	del, err := delivery.New(delivery.Opts{
		Channel: ch,
		Logger:  logging.Component(log, "delivery"),
	})
	if err != nil {
		return nil, err
	}
	opts := dispatch.Opts{
		Registry:  reg,
		Scheduler: sched,
		Resolver:  resolver,
		Deliverer: del,
		Channel:   ch,
		MaxAge:    cfg.Pending.MaxAge,
		AutoDelay: cfg.Pending.AutoDelay,
		Logger:    logging.Component(log, "dispatch"),
	}
	if store != nil {
		opts.Recorder = store
	}
	return dispatch.New(opts)
}
