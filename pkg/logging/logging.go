package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Setup installs the default slog logger. Production gets JSON, everything else text.
func Setup(env string, debug bool) {
	SetupWriter(os.Stderr, env, debug)
}

func SetupWriter(w io.Writer, env string, debug bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug || env == "development" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(NewContextHandler(handler)))
}

// ContextHandler adds the Fields carried by the record's context to every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	f := GetFields(ctx)
	if f.RoomID != "" {
		r.AddAttrs(slog.String("room_id", f.RoomID))
	}
	if f.PeerID != "" {
		r.AddAttrs(slog.String("peer_id", f.PeerID))
	}
	if f.Component != "" {
		r.AddAttrs(slog.String("component", f.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
