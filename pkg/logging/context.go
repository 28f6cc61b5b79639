package logging

import "context"

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are attached to every log line written with a context that carries them.
type Fields struct {
	RoomID    string
	PeerID    string
	Component string // e.g. "room.controller", "persistence"
}

// WithFields merges fields into ctx; non-empty values replace existing ones.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := GetFields(ctx)
	if fields.RoomID != "" {
		merged.RoomID = fields.RoomID
	}
	if fields.PeerID != "" {
		merged.PeerID = fields.PeerID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

func GetFields(ctx context.Context) Fields {
	if f, ok := ctx.Value(fieldsKey).(Fields); ok {
		return f
	}
	return Fields{}
}
