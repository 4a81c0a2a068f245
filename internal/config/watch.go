package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// MirrorSetter receives a reloaded mirror list.
type MirrorSetter interface {
	Mirrors() []string
	SetMirrors([]string)
}

// WatchOpts configures Watch.
type WatchOpts struct {
	Path     string
	Target   MirrorSetter
	Debounce time.Duration // defaults to DefaultDebounce
	Logger   zerolog.Logger
}

// Watch reloads the config file whenever it changes and applies a changed
// mirror list to Target. Other sections need a restart. An invalid file is
// logged and the running mirrors are kept. Watch returns once the watcher is
// running; it stops when ctx is cancelled.
func Watch(ctx context.Context, opts WatchOpts) error {
	if opts.Path == "" {
		return fmt.Errorf("config: watch: path is required")
	}
	if opts.Target == nil {
		return fmt.Errorf("config: watch: target is required")
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &fileWatcher{path: path, target: opts.Target, log: opts.Logger}
	go w.loop(ctx, watcher, debounce)
	opts.Logger.Info().Str("path", path).Msg("watching config for mirror changes")
	return nil
}

type fileWatcher struct {
	path   string
	target MirrorSetter
	log    zerolog.Logger

	mu sync.Mutex // serializes reloads
}

func (w *fileWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *fileWatcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Msg("config reload failed, keeping current mirrors")
		return
	}
	if slices.Equal(cfg.Origin.Mirrors, w.target.Mirrors()) {
		return
	}
	w.target.SetMirrors(cfg.Origin.Mirrors)
	w.log.Info().Strs("mirrors", cfg.Origin.Mirrors).Msg("mirror list reloaded")
}
