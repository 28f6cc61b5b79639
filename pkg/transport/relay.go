package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
)

// Relay is the server side of Client. It keeps one hub per room and password, holding a
// relay-side document that every peer syncs against and the awareness table of the room.
type Relay struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

func NewRelay() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hubs: map[string]*hub{},
	}
}

func (r *Relay) Register(router *mux.Router) {
	router.Methods(http.MethodGet).Path("/rooms/{id}/sync").HandlerFunc(r.serve)
}

// Rooms returns the number of live hubs.
func (r *Relay) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

// Each calls fn with the document of every live hub.
func (r *Relay) Each(fn func(key string, doc *shareddoc.Document)) {
	r.mu.Lock()
	hubs := make([]*hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()
	for _, h := range hubs {
		fn(h.key, h.doc)
	}
}

func (r *Relay) serve(writer http.ResponseWriter, request *http.Request) {
	roomID := mux.Vars(request)["id"]
	peerID := request.URL.Query().Get("peer")
	if peerID == "" {
		http.Error(writer, "peer query parameter is required", http.StatusBadRequest)
		return
	}
	conn, err := r.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	key := roomKey(roomID, request.Header.Get(PasswordHeader))
	h := r.join(key)
	p := &relayPeer{
		id:    peerID,
		conn:  conn,
		link:  newLink(h.doc),
		nudge: make(chan struct{}, 1),
		out:   make(chan []byte, 64),
	}
	h.add(p)
	defer r.leave(h, p)
	slog.Info("peer connected to relay", "room", roomID, "peer", peerID)

	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.write(ctx); err != nil {
			slog.Debug("relay writer stopped", "peer", peerID, "err", err)
		}
		_ = conn.Close()
	}()
	if err := p.read(h); err != nil {
		slog.Debug("relay reader stopped", "peer", peerID, "err", err)
	}
	cancel()
	<-done
	slog.Info("peer disconnected from relay", "room", roomID, "peer", peerID)
}

func (r *Relay) join(key string) *hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[key]
	if !ok {
		h = &hub{key: key, doc: shareddoc.Blank(), peers: map[*relayPeer]struct{}{}, states: map[string]presence.State{}}
		h.stopWatch = h.doc.OnChange(func(shareddoc.Change) { h.nudgeAll() })
		r.hubs[key] = h
	}
	h.refs++
	return h
}

func (r *Relay) leave(h *hub, p *relayPeer) {
	h.remove(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		h.stopWatch()
		delete(r.hubs, h.key)
	}
}

type hub struct {
	key       string
	doc       *shareddoc.Document
	stopWatch func()
	// refs is guarded by Relay.mu.
	refs int

	mu     sync.Mutex
	peers  map[*relayPeer]struct{}
	states map[string]presence.State
}

func (h *hub) add(p *relayPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p] = struct{}{}
	for id, s := range h.states {
		if raw, err := json.Marshal(awarenessMessage{Type: awarenessState, Peer: id, State: s}); err == nil {
			p.enqueue(raw)
		}
	}
}

func (h *hub) remove(p *relayPeer) {
	h.mu.Lock()
	delete(h.peers, p)
	// another connection may have taken over the same peer id
	for other := range h.peers {
		if other.id == p.id {
			h.mu.Unlock()
			return
		}
	}
	delete(h.states, p.id)
	h.mu.Unlock()
	h.broadcast(p, awarenessMessage{Type: awarenessLeave, Peer: p.id})
}

func (h *hub) setState(from *relayPeer, s presence.State) {
	h.mu.Lock()
	h.states[from.id] = s
	h.mu.Unlock()
	h.broadcast(from, awarenessMessage{Type: awarenessState, Peer: from.id, State: s})
}

func (h *hub) broadcast(from *relayPeer, m awarenessMessage) {
	raw, err := json.Marshal(m)
	if err != nil {
		slog.Error("failed to encode awareness", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if p != from {
			p.enqueue(raw)
		}
	}
}

func (h *hub) nudgeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		p.poke()
	}
}

type relayPeer struct {
	id    string
	conn  *websocket.Conn
	link  *link
	nudge chan struct{}
	out   chan []byte
}

func (p *relayPeer) poke() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

func (p *relayPeer) enqueue(raw []byte) {
	select {
	case p.out <- raw:
	default:
		slog.Warn("dropping awareness frame for slow peer", "peer", p.id)
	}
}

func (p *relayPeer) read(h *hub) error {
	for {
		mt, raw, err := p.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := p.link.receive(raw); err != nil {
				return err
			}
			p.poke()
		case websocket.TextMessage:
			var m awarenessMessage
			if err := json.Unmarshal(raw, &m); err != nil || m.Type != awarenessState {
				continue
			}
			h.setState(p, m.State)
		}
	}
}

func (p *relayPeer) write(ctx context.Context) error {
	t := time.NewTicker(syncInterval)
	defer t.Stop()
	for {
		msgs, _, err := p.link.generate()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := p.conn.WriteMessage(websocket.BinaryMessage, m); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		}
		select {
		case <-p.nudge:
		case <-t.C:
		case raw := <-p.out:
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return fmt.Errorf("failed to write awareness: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
