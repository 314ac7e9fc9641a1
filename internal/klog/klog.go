// Package klog wires the kernel's structured logging onto
// github.com/joeycumines/logiface, using the logiface-slog backend to reach
// log/slog. Every kernel package that wants to log takes a *Logger (often
// nil-safe, falling back to a no-op) injected at construction — e.g.
// sched.WithLogger — rather than reading a package-level global, so more
// than one kernel instance can run in a single test binary without sharing
// log state.
package klog

import (
	"log/slog"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Logger is the kernel-wide log handle. The zero value is not usable;
// construct with New.
type Logger struct {
	l *logiface.Logger[*islog.Event]
}

// Option configures a Logger.
type Option func(*options)

type options struct {
	handler slog.Handler
	level   logiface.Level
}

// WithHandler sets the slog.Handler events are written to. Defaults to
// slog.NewTextHandler(os.Stderr, nil) if never set.
func WithHandler(h slog.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithLevel sets the minimum level logiface will construct events for.
// Defaults to logiface.LevelInformational.
func WithLevel(level logiface.Level) Option {
	return func(o *options) { o.level = level }
}

// New constructs a Logger. With no options, it writes informational-and-above
// events as text to stderr.
func New(opts ...Option) *Logger {
	cfg := options{level: logiface.LevelInformational}
	for _, opt := range opts {
		opt(&cfg)
	}
	logifaceOpts := []logiface.Option[*islog.Event]{
		logiface.WithLevel[*islog.Event](cfg.level),
	}
	if cfg.handler != nil {
		logifaceOpts = append(logifaceOpts, islog.L.WithSlogHandler(cfg.handler))
	}
	return &Logger{l: islog.L.New(logifaceOpts...)}
}

// NewNoop returns a Logger that discards everything, for components that
// received a nil *Logger and want an unconditional, branch-free handle.
func NewNoop() *Logger {
	return &Logger{l: islog.L.New(logiface.WithLevel[*islog.Event](logiface.LevelDisabled))}
}

// Event is a single in-flight log entry, built up with the kernel's small
// vocabulary of typed fields and finished with Log.
type Event struct {
	b *logiface.Builder[*islog.Event]
}

func (l *Logger) build(level logiface.Level) Event {
	if l == nil || l.l == nil {
		return Event{}
	}
	return Event{b: l.l.Build(level)}
}

// Debug starts a debug-level event.
func (l *Logger) Debug() Event { return l.build(logiface.LevelDebug) }

// Info starts an informational-level event.
func (l *Logger) Info() Event { return l.build(logiface.LevelInformational) }

// Warn starts a warning-level event.
func (l *Logger) Warn() Event { return l.build(logiface.LevelWarning) }

// Err starts an error-level event.
func (l *Logger) Err() Event { return l.build(logiface.LevelError) }

// Tid attaches a thread ID field.
func (e Event) Tid(id uint64) Event {
	if e.b == nil {
		return e
	}
	e.b = e.b.Uint64("tid", id)
	return e
}

// Str attaches a string field.
func (e Event) Str(key, val string) Event {
	if e.b == nil {
		return e
	}
	e.b = e.b.Str(key, val)
	return e
}

// Int attaches an int field.
func (e Event) Int(key string, val int) Event {
	if e.b == nil {
		return e
	}
	e.b = e.b.Int(key, val)
	return e
}

// Uint64 attaches a uint64 field.
func (e Event) Uint64(key string, val uint64) Event {
	if e.b == nil {
		return e
	}
	e.b = e.b.Uint64(key, val)
	return e
}

// Err attaches an error field.
func (e Event) Err(err error) Event {
	if e.b == nil || err == nil {
		return e
	}
	e.b = e.b.Err(err)
	return e
}

// Log finishes the event with a message, a no-op if the event (or its
// parent Logger) was nil or filtered below the configured level.
func (e Event) Log(msg string) {
	if e.b == nil {
		return
	}
	e.b.Log(msg)
}
