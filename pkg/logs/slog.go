package logs

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DefangLabs/startup-stack/pkg/term"
)

const maxAttrLength = 80

type termHandler struct {
	t     *term.Term
	attrs []slog.Attr
}

func NewTermLogger(t *term.Term) *slog.Logger {
	return slog.New(&termHandler{t: t})
}

func (h *termHandler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []string
	for _, a := range h.attrs {
		attrs = append(attrs, truncate(a.String()))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, truncate(a.String()))
		return true
	})

	msg := r.Message
	if len(attrs) > 0 {
		msg += " {" + strings.Join(attrs, ", ") + "}"
	}

	var err error
	switch {
	case r.Level < slog.LevelInfo:
		_, err = h.t.Debug(msg)
	case r.Level < slog.LevelWarn:
		_, err = h.t.Info(msg)
	case r.Level < slog.LevelError:
		_, err = h.t.Warn(msg)
	default:
		_, err = h.t.Error(msg)
	}
	return err
}

func truncate(s string) string {
	if len(s) <= maxAttrLength {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxAttrLength {
		return s
	}
	return string(runes[:maxAttrLength-3]) + "..."
}

func (h *termHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < slog.LevelInfo {
		return h.t.DoDebug()
	}
	return true
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &termHandler{t: h.t, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	// Groups are not supported in this implementation
	return h
}
