package xlockrun

import (
	"context"
	"log/slog"
)

// Logger is the diagnostic-emission interface (spec §6). It is
// deliberately shaped to be satisfiable by a thin adapter over any
// structured logger an embedder already has — xcron-style "compatible
// with xlog.Logger" without depending on it.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// slogLogger is the zero-configuration fallback used when Config.Logger
// is nil: every event goes to slog's default logger, which writes to
// stderr and, unless reconfigured, drops events below Info level (so
// the runner's Debug events are not shown).
type slogLogger struct{}

func (slogLogger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

func (slogLogger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (slogLogger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

func (slogLogger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

// componentLogger decorates a Logger with the Runner's debugKey, so
// every line carries a "component" attribute without every call site
// having to remember to add it.
type componentLogger struct {
	base     Logger
	debugKey string
	hasDebug bool
}

func newComponentLogger(base Logger, debugKey string) componentLogger {
	if base == nil {
		base = slogLogger{}
	}
	return componentLogger{base: base, debugKey: debugKey, hasDebug: debugKey != ""}
}

func (l componentLogger) attrs(attrs []slog.Attr) []slog.Attr {
	if !l.hasDebug {
		return attrs
	}
	out := make([]slog.Attr, 0, len(attrs)+1)
	out = append(out, slog.String("component", l.debugKey))
	out = append(out, attrs...)
	return out
}

func (l componentLogger) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.base.Debug(ctx, msg, l.attrs(attrs)...)
}

func (l componentLogger) info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.base.Info(ctx, msg, l.attrs(attrs)...)
}

func (l componentLogger) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.base.Warn(ctx, msg, l.attrs(attrs)...)
}

func (l componentLogger) errorf(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.base.Error(ctx, msg, l.attrs(attrs)...)
}
