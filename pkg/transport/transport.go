// Package transport replicates a shared document between the peers of a room and carries
// their awareness states. Connections are opened per room id; the room password acts as the
// room secret, so peers with different passwords never see each other.
package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
)

type EventType int

const (
	// StatusEvent reports whether the connection to the network is up.
	StatusEvent EventType = iota
	// SyncedEvent reports whether the initial catch-up with the room has completed.
	SyncedEvent
)

func (t EventType) String() string {
	switch t {
	case StatusEvent:
		return "status"
	case SyncedEvent:
		return "synced"
	}
	return "unknown"
}

type Event struct {
	Type  EventType
	Value bool
}

type Options struct {
	Password string
	PeerID   string
	// ICEServers is accepted for peer-to-peer transports. The relay transports ignore it.
	ICEServers []string
}

type Transport interface {
	// Connect subscribes doc to roomID and returns immediately. Progress is reported on the
	// connection's Events channel.
	Connect(ctx context.Context, roomID string, doc *shareddoc.Document, opts Options) (Conn, error)
}

type Conn interface {
	Events() <-chan Event
	Awareness() presence.Channel
	// Close leaves the room. The document keeps every change made so far.
	Close() error
}

// roomKey is the namespace a peer lands in: the room id plus a digest of its password.
func roomKey(roomID, password string) string {
	if password == "" {
		return roomID
	}
	sum := sha256.Sum256([]byte(password))
	return roomID + "/" + hex.EncodeToString(sum[:8])
}

const eventBuffer = 64

// emitter deduplicates events so that only transitions are reported.
type emitter struct {
	ch        chan Event
	connected bool
	synced    bool
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, eventBuffer)}
}

func (e *emitter) status(on bool) {
	if e.connected == on {
		return
	}
	e.connected = on
	e.send(Event{Type: StatusEvent, Value: on})
	if !on {
		e.sync(false)
	}
}

func (e *emitter) sync(on bool) {
	if e.synced == on {
		return
	}
	e.synced = on
	e.send(Event{Type: SyncedEvent, Value: on})
}

func (e *emitter) send(ev Event) {
	select {
	case e.ch <- ev:
	default:
		slog.Warn("dropped transport event, consumer is not keeping up", "type", ev.Type, "value", ev.Value)
	}
}
