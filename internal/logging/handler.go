package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanout hands each record to every sink enabled for its level. A failing
// sink does not keep the record from the others.
type fanout []slog.Handler

func newFanout(hs ...slog.Handler) fanout {
	out := make(fanout, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(wrap func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = wrap(h)
	}
	return out
}

// recordingHandler stamps records with the running session and tick. Both
// are read when the record is handled, so loggers built before a session
// starts still carry them later.
type recordingHandler struct {
	next slog.Handler
	m    *SlogManager
}

func (h recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.m.GetSessionID != nil {
		if id := h.m.GetSessionID(); id != "" {
			r.AddAttrs(slog.String("session", id))
		}
	}
	if h.m.GetFrame != nil {
		if frame := h.m.GetFrame(); frame > 0 {
			r.AddAttrs(slog.Uint64("frame", frame))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return recordingHandler{next: h.next.WithAttrs(attrs), m: h.m}
}

func (h recordingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return recordingHandler{next: h.next.WithGroup(name), m: h.m}
}
