// Package presence derives the live peer roster from the ephemeral awareness states that a
// transport publishes alongside the shared document. Nothing here is ever persisted.
package presence

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
)

// State is one peer's awareness payload.
type State map[string]any

// Channel is the awareness sub-channel of a transport connection.
type Channel interface {
	PublishLocalState(state State) error
	// RemoteStates returns the latest state of every peer known to the channel, keyed by peer id.
	// It may include the local peer.
	RemoteStates() map[string]State
	// OnChange registers fn for roster changes and returns a function that removes it.
	OnChange(fn func()) func()
}

type Peer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (p Peer) State() State {
	return State{"id": p.ID, "name": p.Name, "color": p.Color}
}

func peerFromState(id string, s State) Peer {
	p := Peer{ID: id}
	if v, ok := s["id"].(string); ok && v != "" {
		p.ID = v
	}
	p.Name, _ = s["name"].(string)
	p.Color, _ = s["color"].(string)
	return p
}

// NewPeer returns a peer identity with a freshly drawn color.
func NewPeer(id, name string) Peer {
	return Peer{ID: id, Name: name, Color: RandomColor()}
}

// RandomColor draws a uniformly random RGB color as "#rrggbb".
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(1<<24))
}

type Tracker struct {
	self   Peer
	ch     Channel
	onJoin func(Peer)

	mu     sync.Mutex
	roster map[string]Peer
	stop   func()
}

// Attach publishes self on ch and starts following roster changes. onJoin is called once for
// every peer that appears after attach, never for self. Peers already present at attach time
// form the baseline and are not announced.
func Attach(ch Channel, self Peer, onJoin func(Peer)) (*Tracker, error) {
	t := &Tracker{self: self, ch: ch, onJoin: onJoin, roster: map[string]Peer{}}
	if err := ch.PublishLocalState(self.State()); err != nil {
		return nil, fmt.Errorf("failed to publish local state: %w", err)
	}
	t.mu.Lock()
	t.roster = t.compute()
	t.mu.Unlock()
	t.stop = ch.OnChange(t.refresh)
	return t, nil
}

func (t *Tracker) Self() Peer {
	return t.self
}

// Peers returns the current roster with the local peer first and the rest sorted by name.
func (t *Tracker) Peers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, len(t.roster)+1)
	out = append(out, t.self)
	rest := make([]Peer, 0, len(t.roster))
	for id, p := range t.roster {
		if id != t.self.ID {
			rest = append(rest, p)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Name != rest[j].Name {
			return rest[i].Name < rest[j].Name
		}
		return rest[i].ID < rest[j].ID
	})
	return append(out, rest...)
}

// Detach stops following the channel.
func (t *Tracker) Detach() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (t *Tracker) refresh() {
	t.mu.Lock()
	next := t.compute()
	var joined []Peer
	for id, p := range next {
		if _, known := t.roster[id]; !known && id != t.self.ID {
			joined = append(joined, p)
		}
	}
	t.roster = next
	t.mu.Unlock()

	sort.Slice(joined, func(i, j int) bool { return joined[i].ID < joined[j].ID })
	for _, p := range joined {
		slog.Info("peer joined", "peer", p.ID, "name", p.Name)
		if t.onJoin != nil {
			t.onJoin(p)
		}
	}
}

func (t *Tracker) compute() map[string]Peer {
	states := t.ch.RemoteStates()
	out := make(map[string]Peer, len(states))
	for id, s := range states {
		if s == nil {
			continue
		}
		p := peerFromState(id, s)
		out[p.ID] = p
	}
	return out
}
