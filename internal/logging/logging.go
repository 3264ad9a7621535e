// Package logging provides utilities for structured logging across the
// storage engine.
//
// Loggers are dependency-injected, never global: each component receives
// an optional *slog.Logger, scopes it once at construction with a
// "component" attribute, and falls back to a discard logger when none is
// provided. Output format, level, and destination belong to the embedding
// application.
//
// Logging is intentionally sparse. Lifecycle boundaries (array
// registration, defragmentation passes, batch destruction) are the
// intended log points; nothing logs inside slot-iteration hot paths.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. This is
// the standard pattern for optional logger parameters:
//
//	func New(cfg Config) *Array {
//		logger := logging.Default(cfg.Logger).With("component", "sectors")
//		...
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// LevelHandler wraps a handler with a runtime-adjustable minimum level, so
// an embedding application can raise engine verbosity (say, to watch
// defragmentation passes) without rebuilding its logger tree.
type LevelHandler struct {
	next  slog.Handler
	level *atomic.Int64
}

// NewLevelHandler wraps next with the given initial minimum level.
// Handlers derived via WithAttrs/WithGroup share the level, so SetLevel
// affects every logger built on top of this handler.
func NewLevelHandler(next slog.Handler, level slog.Level) *LevelHandler {
	h := &LevelHandler{next: next, level: &atomic.Int64{}}
	h.level.Store(int64(level))
	return h
}

// SetLevel changes the minimum level at runtime.
func (h *LevelHandler) SetLevel(level slog.Level) {
	h.level.Store(int64(level))
}

func (h *LevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.Level(h.level.Load())
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &LevelHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LevelHandler{next: h.next.WithGroup(name), level: h.level}
}
