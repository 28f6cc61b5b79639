// Package shareddoc is the replicated state container for a room: the ordered tab list, the
// per-tab configs, the workspace metadata and the chat log. It wraps an automerge document and
// knows nothing about networks or storage.
//
// Every record is stored under its own key in the root map ("tab:<id>", "config:<id>",
// "chat:<id>", "workspace.<field>") so that no two peers ever race to create the same
// container. Tab order comes from a "pos" field on each tab record.
package shareddoc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
)

// SchemaVersion is written into every record. Records with a newer version are read on their
// known fields only and are never rewritten wholesale.
const SchemaVersion = 1

// Change describes a mutation observed on the document.
type Change struct {
	// Local is true when the mutation was made through this Document's own operations.
	Local   bool
	Message string
}

type Document struct {
	mu     sync.Mutex
	doc    *automerge.Doc
	active string

	obsMu     sync.Mutex
	observers map[int]func(Change)
	nextObs   int
}

func New() *Document {
	d := wrap(automerge.New())
	_ = d.transact("init", func(doc *automerge.Doc) error {
		return doc.Path(schemaKey).Set(int64(SchemaVersion))
	})
	return d
}

// Blank returns a document with no records at all. Relays hold one per room and let peers
// fill it through the sync protocol.
func Blank() *Document {
	return wrap(automerge.New())
}

// Load restores a document previously produced by Save.
func Load(raw []byte) (*Document, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return wrap(doc), nil
}

func wrap(doc *automerge.Doc) *Document {
	return &Document{doc: doc, observers: make(map[int]func(Change))}
}

func (d *Document) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

func (d *Document) ActorID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.ActorID()
}

// Heads returns the current change heads as strings, sorted as automerge reports them.
func (d *Document) Heads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return headStrings(d.doc)
}

// Fork returns an independent copy of the document with a fresh actor id.
func (d *Document) Fork() (*Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork: %w", err)
	}
	return wrap(f), nil
}

// Merge pulls every change from other that this document has not seen yet.
func (d *Document) Merge(other *Document) error {
	return d.MergeRaw(other.Save())
}

// MergeRaw merges a document serialized with Save. Observers are only notified when the merge
// brought in new changes.
func (d *Document) MergeRaw(raw []byte) error {
	incoming, err := automerge.Load(raw)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}
	return d.Sync(func(doc *automerge.Doc) error {
		if _, err := doc.Merge(incoming); err != nil {
			return fmt.Errorf("failed to merge: %w", err)
		}
		return nil
	})
}

// Sync runs fn with exclusive access to the underlying automerge document. It is the hook
// transports use to drive the sync protocol. Observers see a remote Change if the heads moved.
func (d *Document) Sync(fn func(doc *automerge.Doc) error) error {
	d.mu.Lock()
	before := strings.Join(headStrings(d.doc), ",")
	err := fn(d.doc)
	after := strings.Join(headStrings(d.doc), ",")
	d.mu.Unlock()
	if before != after {
		d.notify(Change{Local: false, Message: "sync"})
	}
	return err
}

// OnChange registers fn for every committed mutation and returns a function that removes it.
// Observers run on the goroutine that made the change, after the document lock is released.
func (d *Document) OnChange(fn func(Change)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Document) notify(c Change) {
	d.obsMu.Lock()
	fns := make([]func(Change), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// transact applies fn and commits everything it did as a single change, so that peers never
// observe part of a multi-field edit.
func (d *Document) transact(msg string, fn func(doc *automerge.Doc) error) error {
	d.mu.Lock()
	if err := fn(d.doc); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, err := d.doc.Commit(msg); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to commit %s: %w", msg, err)
	}
	d.mu.Unlock()
	d.notify(Change{Local: true, Message: msg})
	return nil
}

// read runs fn under the document lock without committing anything.
func (d *Document) read(fn func(doc *automerge.Doc) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.doc)
}

func headStrings(doc *automerge.Doc) []string {
	heads := doc.Heads()
	out := make([]string, len(heads))
	for i, h := range heads {
		out[i] = h.String()
	}
	return out
}
