package transport

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/astromechza/menuroom/pkg/errs"
	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
)

// MemoryNetwork connects documents inside one process. Every pair of online peers in a room
// runs the sync protocol directly, and peers can be taken offline to simulate a partition.
type MemoryNetwork struct {
	mu      sync.Mutex
	rooms   map[string]*memoryRoom
	offline map[string]bool

	pumpMu sync.Mutex
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{rooms: map[string]*memoryRoom{}, offline: map[string]bool{}}
}

type memoryRoom struct {
	key   string
	conns map[string]*memoryConn
}

type memoryConn struct {
	net    *MemoryNetwork
	room   *memoryRoom
	peerID string
	doc    *shareddoc.Document
	events *emitter
	aw     *awareness

	// guarded by MemoryNetwork.mu
	online bool
	closed bool
	links  map[string]*link

	stopWatch func()
	once      sync.Once
}

func (n *MemoryNetwork) Connect(_ context.Context, roomID string, doc *shareddoc.Document, opts Options) (Conn, error) {
	if roomID == "" {
		return nil, errs.Invalid("room", "id must not be empty")
	}
	if opts.PeerID == "" {
		return nil, errs.Invalid("peer", "id must not be empty")
	}
	key := roomKey(roomID, opts.Password)
	c := &memoryConn{net: n, peerID: opts.PeerID, doc: doc, events: newEmitter(), links: map[string]*link{}}
	c.aw = newAwareness(opts.PeerID, func(presence.State) { n.awarenessChanged(c) })

	n.mu.Lock()
	room, ok := n.rooms[key]
	if !ok {
		room = &memoryRoom{key: key, conns: map[string]*memoryConn{}}
		n.rooms[key] = room
	}
	if prev, ok := room.conns[opts.PeerID]; ok {
		prev.closed = true
		prev.online = false
	}
	c.room = room
	room.conns[opts.PeerID] = c
	c.online = !n.offline[opts.PeerID]
	n.mu.Unlock()

	c.stopWatch = doc.OnChange(func(shareddoc.Change) { go n.Settle() })
	if c.online {
		n.pumpMu.Lock()
		c.events.status(true)
		n.pumpMu.Unlock()
	}
	n.Settle()
	n.awarenessChanged(c)
	return c, nil
}

// SetOnline takes a peer on or off the network across every room it is connected to.
// Changes made while offline stay in the peer's document and are exchanged once it returns.
func (n *MemoryNetwork) SetOnline(peerID string, online bool) {
	n.mu.Lock()
	n.offline[peerID] = !online
	var touched []*memoryConn
	for _, room := range n.rooms {
		if c, ok := room.conns[peerID]; ok && !c.closed && c.online != online {
			c.online = online
			touched = append(touched, c)
			if !online {
				c.links = map[string]*link{}
				for _, other := range room.conns {
					delete(other.links, peerID)
				}
			}
		}
	}
	n.mu.Unlock()

	n.pumpMu.Lock()
	for _, c := range touched {
		c.events.status(online)
	}
	n.pumpMu.Unlock()
	for _, c := range touched {
		n.awarenessChanged(c)
	}
	n.Settle()
}

// Settle runs the sync protocol between all online peers until no peer has anything left to
// send, then reports every online peer as synced.
func (n *MemoryNetwork) Settle() {
	n.pumpMu.Lock()
	defer n.pumpMu.Unlock()
	for {
		sent := false
		for _, pair := range n.pairs() {
			msgs, _, err := pair.from.generate()
			if err != nil {
				slog.Error("memory network failed to generate", "err", err)
				continue
			}
			for _, m := range msgs {
				if err := pair.to.receive(m); err != nil {
					slog.Error("memory network failed to deliver", "err", err)
					continue
				}
				sent = true
			}
		}
		if !sent {
			break
		}
	}
	n.mu.Lock()
	var synced []*memoryConn
	for _, room := range n.rooms {
		for _, c := range room.conns {
			if c.online && !c.closed {
				synced = append(synced, c)
			}
		}
	}
	n.mu.Unlock()
	for _, c := range synced {
		c.events.sync(true)
	}
}

type linkPair struct {
	from, to *link
}

// pairs returns both directions of every online pair in a stable order, creating links for
// pairs that met since the last call.
func (n *MemoryNetwork) pairs() []linkPair {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []linkPair
	keys := make([]string, 0, len(n.rooms))
	for k := range n.rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		room := n.rooms[k]
		ids := make([]string, 0, len(room.conns))
		for id, c := range room.conns {
			if c.online && !c.closed {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, a := range ids {
			for _, b := range ids {
				if a == b {
					continue
				}
				ca, cb := room.conns[a], room.conns[b]
				if ca.links[b] == nil {
					ca.links[b] = newLink(ca.doc)
				}
				if cb.links[a] == nil {
					cb.links[a] = newLink(cb.doc)
				}
				out = append(out, linkPair{from: ca.links[b], to: cb.links[a]})
			}
		}
	}
	return out
}

// awarenessChanged recomputes what every peer in c's room can see.
func (n *MemoryNetwork) awarenessChanged(c *memoryConn) {
	n.mu.Lock()
	type view struct {
		conn    *memoryConn
		visible map[string]presence.State
	}
	var views []view
	for _, other := range c.room.conns {
		if other.closed {
			continue
		}
		visible := map[string]presence.State{}
		if other.online {
			for id, peer := range c.room.conns {
				if id != other.peerID && peer.online && !peer.closed {
					if s := peer.aw.localState(); s != nil {
						visible[id] = s
					}
				}
			}
		}
		views = append(views, view{conn: other, visible: visible})
	}
	n.mu.Unlock()

	for _, v := range views {
		v.conn.aw.replace(v.visible)
	}
}

func (c *memoryConn) Events() <-chan Event {
	return c.events.ch
}

func (c *memoryConn) Awareness() presence.Channel {
	return c.aw
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		c.stopWatch()
		n := c.net
		n.mu.Lock()
		c.closed = true
		if c.room.conns[c.peerID] == c {
			delete(c.room.conns, c.peerID)
		}
		for _, other := range c.room.conns {
			delete(other.links, c.peerID)
		}
		if len(c.room.conns) == 0 {
			delete(n.rooms, c.room.key)
		}
		n.mu.Unlock()

		n.pumpMu.Lock()
		c.events.status(false)
		close(c.events.ch)
		n.pumpMu.Unlock()
		n.awarenessChanged(c)
	})
	return nil
}
