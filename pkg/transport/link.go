package transport

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/menuroom/pkg/shareddoc"
)

// link is one side of the automerge sync protocol between a document and a single remote
// peer. All access to the sync state happens under the document lock.
type link struct {
	doc      *shareddoc.Document
	state    *automerge.SyncState
	received bool
}

func newLink(doc *shareddoc.Document) *link {
	l := &link{doc: doc}
	_ = doc.Sync(func(d *automerge.Doc) error {
		l.state = automerge.NewSyncState(d)
		return nil
	})
	return l
}

func (l *link) receive(msg []byte) error {
	return l.doc.Sync(func(*automerge.Doc) error {
		if _, err := l.state.ReceiveMessage(msg); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
		l.received = true
		return nil
	})
}

// generate drains every message the protocol currently wants to send. synced is true once the
// remote side has been heard from and there is nothing left to tell it.
func (l *link) generate() (msgs [][]byte, synced bool, err error) {
	err = l.doc.Sync(func(*automerge.Doc) error {
		for {
			msg, valid := l.state.GenerateMessage()
			if msg == nil {
				break
			}
			msgs = append(msgs, msg.Bytes())
			if !valid {
				break
			}
		}
		synced = l.received && len(msgs) == 0
		return nil
	})
	return msgs, synced, err
}
