package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
)

func nextEvent(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case ev := <-conn.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
	}
	return Event{}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func tabNames(t *testing.T, d *shareddoc.Document) []string {
	t.Helper()
	tabs, err := d.Tabs()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(tabs))
	for i, tab := range tabs {
		out[i] = tab.Name
	}
	return out
}

func connect(t *testing.T, tr Transport, room, peer, password string, doc *shareddoc.Document) Conn {
	t.Helper()
	c, err := tr.Connect(context.Background(), room, doc, Options{PeerID: peer, Password: password})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryEvents(t *testing.T) {
	n := NewMemoryNetwork()
	c := connect(t, n, "R1", "a", "", shareddoc.New())
	assert.Equal(t, nextEvent(t, c), Event{Type: StatusEvent, Value: true})
	assert.Equal(t, nextEvent(t, c), Event{Type: SyncedEvent, Value: true})

	n.SetOnline("a", false)
	assert.Equal(t, nextEvent(t, c), Event{Type: StatusEvent, Value: false})
	assert.Equal(t, nextEvent(t, c), Event{Type: SyncedEvent, Value: false})

	n.SetOnline("a", true)
	assert.Equal(t, nextEvent(t, c), Event{Type: StatusEvent, Value: true})
	assert.Equal(t, nextEvent(t, c), Event{Type: SyncedEvent, Value: true})
}

func TestMemoryConverges(t *testing.T) {
	n := NewMemoryNetwork()
	a, b := shareddoc.New(), shareddoc.New()
	connect(t, n, "R1", "a", "", a)
	connect(t, n, "R1", "b", "", b)

	_, err := a.AddTab("Lunch", nil)
	assert.Equal(t, err, nil)
	n.Settle()
	assert.Equal(t, tabNames(t, b), []string{"Lunch"})
	assert.Equal(t, a.Heads(), b.Heads())
}

func TestMemoryOfflineEditIsDeliveredOnReconnect(t *testing.T) {
	n := NewMemoryNetwork()
	a, b := shareddoc.New(), shareddoc.New()
	connect(t, n, "R1", "a", "", a)
	connect(t, n, "R1", "b", "", b)
	id, err := a.AddTab("Lunch", nil)
	assert.Equal(t, err, nil)
	n.Settle()

	n.SetOnline("a", false)
	assert.Equal(t, a.SetConfig(id, shareddoc.Config{"price": 12.5}), nil)
	n.Settle()
	cfg, _, _ := b.Config(id)
	assert.Equal(t, cfg["price"], nil)

	n.SetOnline("a", true)
	cfg, ok, err := b.Config(id)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, cfg["price"], 12.5)
}

func TestMemoryPasswordIsolatesRooms(t *testing.T) {
	n := NewMemoryNetwork()
	a, b := shareddoc.New(), shareddoc.New()
	connect(t, n, "R1", "a", "secret", a)
	connect(t, n, "R1", "b", "guess", b)
	_, err := a.AddTab("Lunch", nil)
	assert.Equal(t, err, nil)
	n.Settle()
	assert.Equal(t, tabNames(t, b), []string{})
}

func TestMemoryAwareness(t *testing.T) {
	n := NewMemoryNetwork()
	ca := connect(t, n, "R1", "a", "", shareddoc.New())
	cb := connect(t, n, "R1", "b", "", shareddoc.New())

	changed := make(chan struct{}, 16)
	cb.Awareness().OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	assert.Equal(t, ca.Awareness().PublishLocalState(presence.State{"name": "Ann"}), nil)
	<-changed
	assert.Equal(t, cb.Awareness().RemoteStates()["a"], presence.State{"name": "Ann"})

	n.SetOnline("a", false)
	_, ok := cb.Awareness().RemoteStates()["a"]
	assert.Equal(t, ok, false)

	n.SetOnline("a", true)
	assert.Equal(t, cb.Awareness().RemoteStates()["a"], presence.State{"name": "Ann"})

	assert.Equal(t, ca.Close(), nil)
	_, ok = cb.Awareness().RemoteStates()["a"]
	assert.Equal(t, ok, false)
}

func TestConnectValidates(t *testing.T) {
	n := NewMemoryNetwork()
	_, err := n.Connect(context.Background(), "", shareddoc.New(), Options{PeerID: "a"})
	assert.NotEqual(t, err, nil)
	_, err = n.Connect(context.Background(), "R1", shareddoc.New(), Options{})
	assert.NotEqual(t, err, nil)
}
