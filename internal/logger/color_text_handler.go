package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m",
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

// ColorTextHandler is a slog.TextHandler for terminals: the level is printed
// as a colored message prefix instead of a level= attribute.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler wraps opts.ReplaceAttr; the time attribute is kept only
// when showTime is set.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && (a.Key == slog.LevelKey || (!showTime && a.Key == slog.TimeKey)) {
			return slog.Attr{}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, &o)}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	color, ok := levelColors[r.Level]
	if !ok {
		color = ansiReset
	}
	r.Message = color + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler)}
}
