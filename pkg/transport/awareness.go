package transport

import (
	"maps"
	"sync"

	"github.com/astromechza/menuroom/pkg/presence"
)

// awarenessMessage is the text frame exchanged with the relay.
type awarenessMessage struct {
	Type  string         `json:"type"`
	Peer  string         `json:"peer"`
	State presence.State `json:"state,omitempty"`
}

const (
	awarenessState = "state"
	awarenessLeave = "leave"
)

// awareness is the presence channel of one connection. publish forwards the local state to
// the network; it may be called while disconnected and must not block.
type awareness struct {
	self    string
	publish func(presence.State)

	mu      sync.Mutex
	local   presence.State
	remote  map[string]presence.State
	obs     map[int]func()
	nextObs int
}

func newAwareness(self string, publish func(presence.State)) *awareness {
	return &awareness{
		self:    self,
		publish: publish,
		remote:  map[string]presence.State{},
		obs:     map[int]func(){},
	}
}

func (a *awareness) PublishLocalState(state presence.State) error {
	a.mu.Lock()
	a.local = maps.Clone(state)
	a.mu.Unlock()
	if a.publish != nil {
		a.publish(state)
	}
	a.changed()
	return nil
}

func (a *awareness) localState() presence.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.local)
}

func (a *awareness) RemoteStates() map[string]presence.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]presence.State, len(a.remote)+1)
	for id, s := range a.remote {
		out[id] = maps.Clone(s)
	}
	if a.local != nil {
		out[a.self] = maps.Clone(a.local)
	}
	return out
}

func (a *awareness) OnChange(fn func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextObs
	a.nextObs++
	a.obs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.obs, id)
	}
}

func (a *awareness) set(peer string, state presence.State) {
	if peer == a.self {
		return
	}
	a.mu.Lock()
	a.remote[peer] = state
	a.mu.Unlock()
	a.changed()
}

func (a *awareness) remove(peer string) {
	a.mu.Lock()
	_, ok := a.remote[peer]
	delete(a.remote, peer)
	a.mu.Unlock()
	if ok {
		a.changed()
	}
}

// replace swaps the whole remote view at once.
func (a *awareness) replace(states map[string]presence.State) {
	delete(states, a.self)
	a.mu.Lock()
	a.remote = states
	a.mu.Unlock()
	a.changed()
}

// reset forgets every remote peer, as happens when the connection drops.
func (a *awareness) reset() {
	a.mu.Lock()
	n := len(a.remote)
	a.remote = map[string]presence.State{}
	a.mu.Unlock()
	if n > 0 {
		a.changed()
	}
}

func (a *awareness) changed() {
	a.mu.Lock()
	fns := make([]func(), 0, len(a.obs))
	for _, fn := range a.obs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
