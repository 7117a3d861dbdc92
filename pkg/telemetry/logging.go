// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
)

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ConfigureSlog installs a run-aware logger as the slog default and returns it.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a logger that stamps records with the run id and the
// active span, leaving the slog default untouched.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	lvl, _ := lookupLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var inner slog.Handler = slog.NewTextHandler(output, opts)
	if normalize(format) == "json" {
		inner = slog.NewJSONHandler(output, opts)
	}
	return slog.New(runHandler{inner: inner})
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	_, ok := lookupLevel(level)
	return ok
}

// ValidFormat reports whether format is "text", "json" or empty.
func ValidFormat(format string) bool {
	switch normalize(format) {
	case "", "text", "json":
		return true
	}
	return false
}

func lookupLevel(level string) (slog.Level, bool) {
	lvl, ok := logLevels[normalize(level)]
	if !ok {
		return slog.LevelInfo, false
	}
	return lvl, true
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// runHandler decorates records with correlation fields taken from ctx.
// Fields the caller already set win.
type runHandler struct {
	inner slog.Handler
}

func (h runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h runHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.inner.Handle(ctx, record)
	}
	var extra []slog.Attr
	if id, ok := core.RunID(ctx); ok {
		extra = append(extra, slog.String("run_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		extra = append(extra,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()))
	}
	if len(extra) > 0 {
		present := make(map[string]bool, record.NumAttrs())
		record.Attrs(func(a slog.Attr) bool {
			present[a.Key] = true
			return true
		})
		for _, a := range extra {
			if !present[a.Key] {
				record.AddAttrs(a)
			}
		}
	}
	return h.inner.Handle(ctx, record)
}

func (h runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return runHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h runHandler) WithGroup(name string) slog.Handler {
	return runHandler{inner: h.inner.WithGroup(name)}
}
