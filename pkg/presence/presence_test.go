package presence

import (
	"regexp"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

type fakeChannel struct {
	mu        sync.Mutex
	local     State
	states    map[string]State
	listeners map[int]func()
	next      int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{states: map[string]State{}, listeners: map[int]func(){}}
}

func (f *fakeChannel) PublishLocalState(s State) error {
	f.mu.Lock()
	f.local = s
	f.states[s["id"].(string)] = s
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) RemoteStates() map[string]State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]State, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out
}

func (f *fakeChannel) OnChange(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeChannel) set(id string, s State) {
	f.mu.Lock()
	if s == nil {
		delete(f.states, id)
	} else {
		f.states[id] = s
	}
	fns := make([]func(), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func TestRandomColor(t *testing.T) {
	re := regexp.MustCompile(`^#[0-9a-f]{6}$`)
	for i := 0; i < 100; i++ {
		assert.MatchRegex(t, RandomColor(), re)
	}
}

func TestTrackerAnnouncesNewPeersOnce(t *testing.T) {
	ch := newFakeChannel()
	ch.set("early", Peer{ID: "early", Name: "Early"}.State())

	var joined []Peer
	self := NewPeer("me", "Me")
	tr, err := Attach(ch, self, func(p Peer) { joined = append(joined, p) })
	assert.Equal(t, err, nil)
	assert.Equal(t, ch.local["color"], self.Color)
	assert.Equal(t, len(joined), 0)

	ch.set("zed", Peer{ID: "zed", Name: "Zed", Color: "#000000"}.State())
	ch.set("zed", Peer{ID: "zed", Name: "Zed", Color: "#ffffff"}.State())
	ch.set("amy", Peer{ID: "amy", Name: "Amy"}.State())

	assert.Equal(t, len(joined), 2)
	assert.Equal(t, joined[0].ID, "zed")
	assert.Equal(t, joined[1].ID, "amy")

	peers := tr.Peers()
	assert.Equal(t, len(peers), 4)
	assert.Equal(t, peers[0].ID, "me")
	assert.Equal(t, peers[1].Name, "Amy")
	assert.Equal(t, peers[3].Color, "#ffffff")

	// departure is silent, a rejoin is announced again
	ch.set("amy", nil)
	assert.Equal(t, len(tr.Peers()), 3)
	ch.set("amy", Peer{ID: "amy", Name: "Amy"}.State())
	assert.Equal(t, len(joined), 3)

	tr.Detach()
	ch.set("late", Peer{ID: "late"}.State())
	assert.Equal(t, len(joined), 3)
}

func TestTrackerIgnoresOwnStateUpdates(t *testing.T) {
	ch := newFakeChannel()
	var joined []Peer
	_, err := Attach(ch, NewPeer("me", "Me"), func(p Peer) { joined = append(joined, p) })
	assert.Equal(t, err, nil)
	ch.set("me", Peer{ID: "me", Name: "Renamed"}.State())
	assert.Equal(t, len(joined), 0)
}
