// Package logging builds the zerolog loggers used across grabyard.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and destination for the base logger.
type Config struct {
	Level   string // debug, info, warn, error; defaults to info
	Format  string // json, console, auto (console when attached to a TTY)
	Output  string // stdout (default), stderr, file
	File    FileConfig
	Service string
}

// FileConfig configures the rotating file writer used when Output is "file".
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a base logger built from cfg.
func New(cfg Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	w := writer(cfg)
	service := cfg.Service
	if service == "" {
		service = "grabyard"
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

func writer(cfg Config) io.Writer {
	var out io.Writer
	var fd uintptr

	switch cfg.Output {
	case "file":
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefault(cfg.File.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     orDefault(cfg.File.MaxAgeDays, 14),
		}
	case "stderr":
		out, fd = os.Stderr, os.Stderr.Fd()
	default:
		out, fd = os.Stdout, os.Stdout.Fd()
	}
	tty := term.IsTerminal(int(fd))

	switch cfg.Format {
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case "auto", "":
		if tty {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
		}
	}
	return out
}

// Component derives a child logger tagged with a component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
