package shareddoc

import (
	"fmt"
	"sort"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/astromechza/menuroom/pkg/errs"
)

type ChatMessage struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Color   string `json:"color"`
	Content string `json:"content"`
	// Timestamp is wall-clock milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
}

// AppendChatMessage adds msg to the chat log. Missing ids and timestamps are filled in.
func (d *Document) AppendChatMessage(msg ChatMessage) (ChatMessage, error) {
	if msg.Content == "" {
		return msg, errs.Invalid("content", "must not be empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	err := d.transact("chat", func(doc *automerge.Doc) error {
		if _, exists, err := lookup(doc, chatPrefix+msg.ID); err != nil {
			return err
		} else if exists {
			return errs.Invalid("id", "chat message ids are never reused")
		}
		if err := doc.Path(chatPrefix + msg.ID).Set(map[string]any{
			versionField: int64(SchemaVersion),
			"id":         msg.ID,
			"sender":     msg.Sender,
			"color":      msg.Color,
			"content":    msg.Content,
			"ts":         msg.Timestamp,
		}); err != nil {
			return fmt.Errorf("failed to write chat message: %w", err)
		}
		return nil
	})
	return msg, err
}

// ChatMessages returns the log ordered by timestamp, ties broken by id.
func (d *Document) ChatMessages() ([]ChatMessage, error) {
	var out []ChatMessage
	err := d.read(func(doc *automerge.Doc) error {
		rs, err := records(doc, chatPrefix)
		if err != nil {
			return err
		}
		out = make([]ChatMessage, 0, len(rs))
		for _, r := range rs {
			out = append(out, ChatMessage{
				ID:        strField(r.fields, "id"),
				Sender:    strField(r.fields, "sender"),
				Color:     strField(r.fields, "color"),
				Content:   strField(r.fields, "content"),
				Timestamp: intField(r.fields, "ts"),
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}
