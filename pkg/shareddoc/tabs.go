package shareddoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/astromechza/menuroom/pkg/errs"
)

// CascadeOffset is how far a new tab is placed from the previous last tab on both axes.
const CascadeOffset = 40

type Tab struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Key     string  `json:"key"`
	IsDirty bool    `json:"isDirty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type orderedTab struct {
	Tab
	pos float64
}

// Tabs returns the tab list in document order.
func (d *Document) Tabs() ([]Tab, error) {
	var out []Tab
	err := d.read(func(doc *automerge.Doc) error {
		ordered, err := readTabs(doc)
		if err != nil {
			return err
		}
		out = make([]Tab, len(ordered))
		for i, t := range ordered {
			out[i] = t.Tab
		}
		return nil
	})
	return out, err
}

func (d *Document) Tab(id string) (Tab, error) {
	var out Tab
	err := d.read(func(doc *automerge.Doc) error {
		r, ok, err := lookup(doc, tabPrefix+id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tab %s: %w", id, errs.ErrNotFound)
		}
		out = decodeTab(r).Tab
		return nil
	})
	return out, err
}

// AddTab appends a tab and returns its id. An empty name is replaced with "menu_<n>.yml",
// made unique against the current tab names. The paired config is written in the same change,
// empty when cfg is nil. The new tab becomes the local active tab.
func (d *Document) AddTab(name string, cfg Config) (string, error) {
	id := uuid.NewString()
	err := d.transact("add tab", func(doc *automerge.Doc) error {
		return appendTab(doc, id, name, cfg)
	})
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.active = id
	d.mu.Unlock()
	return id, nil
}

// EnsureTab adds a default tab only if the document has none, checking and writing under one
// lock. Concurrent closes on different peers can merge to an empty list; this restores it.
func (d *Document) EnsureTab() (string, bool, error) {
	d.mu.Lock()
	tabs, err := readTabs(d.doc)
	d.mu.Unlock()
	if err != nil || len(tabs) > 0 {
		return "", false, err
	}
	id := uuid.NewString()
	added := false
	err = d.transact("ensure tab", func(doc *automerge.Doc) error {
		tabs, err := readTabs(doc)
		if err != nil || len(tabs) > 0 {
			return err
		}
		added = true
		return appendTab(doc, id, "", nil)
	})
	if err != nil || !added {
		return "", false, err
	}
	d.mu.Lock()
	d.active = id
	d.mu.Unlock()
	return id, true, nil
}

func appendTab(doc *automerge.Doc, id, name string, cfg Config) error {
	tabs, err := readTabs(doc)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		name = nextTabName(tabs)
	}
	var x, y, pos float64
	if n := len(tabs); n > 0 {
		last := tabs[n-1]
		x, y = last.X+CascadeOffset, last.Y+CascadeOffset
		for _, t := range tabs {
			if t.pos > pos {
				pos = t.pos
			}
		}
	}
	if err := doc.Path(tabPrefix + id).Set(map[string]any{
		versionField: int64(SchemaVersion),
		"id":         id,
		"name":       name,
		"key":        uuid.NewString(),
		"dirty":      false,
		"x":          x,
		"y":          y,
		"pos":        pos + 1,
	}); err != nil {
		return fmt.Errorf("failed to write tab: %w", err)
	}
	return writeConfig(doc, id, cfg)
}

// CloseTab removes a tab together with its config. The last remaining tab cannot be closed.
// If the closed tab was active, the active selection moves to the tab at the preceding index.
func (d *Document) CloseTab(id string) error {
	return d.transact("close tab", func(doc *automerge.Doc) error {
		tabs, err := readTabs(doc)
		if err != nil {
			return err
		}
		idx := indexOf(tabs, id)
		if idx < 0 {
			return fmt.Errorf("tab %s: %w", id, errs.ErrNotFound)
		}
		if len(tabs) == 1 {
			return errs.Invalid("tab", "a room must keep at least one tab")
		}
		if err := doc.RootMap().Delete(tabPrefix + id); err != nil {
			return fmt.Errorf("failed to delete tab: %w", err)
		}
		if _, ok, err := lookup(doc, configPrefix+id); err != nil {
			return err
		} else if ok {
			if err := doc.RootMap().Delete(configPrefix + id); err != nil {
				return fmt.Errorf("failed to delete config: %w", err)
			}
		}
		if d.active == id {
			remaining := append(append([]orderedTab{}, tabs[:idx]...), tabs[idx+1:]...)
			d.active = remaining[max(idx-1, 0)].ID
		}
		return nil
	})
}

func (d *Document) RenameTab(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return errs.Invalid("name", "must not be empty")
	}
	return d.updateTab(id, "rename tab", map[string]any{"name": name})
}

func (d *Document) SetDirty(id string, dirty bool) error {
	return d.updateTab(id, "set dirty", map[string]any{"dirty": dirty})
}

// MoveTab shifts a tab's position by the given delta.
func (d *Document) MoveTab(id string, dx, dy float64) error {
	return d.transact("move tab", func(doc *automerge.Doc) error {
		r, ok, err := lookup(doc, tabPrefix+id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tab %s: %w", id, errs.ErrNotFound)
		}
		t := decodeTab(r)
		if err := doc.Path(r.key, "x").Set(t.X + dx); err != nil {
			return err
		}
		return doc.Path(r.key, "y").Set(t.Y + dy)
	})
}

// updateTab rewrites fields of one tab in place. Order, unknown fields and fields owned by
// other peers are left untouched.
func (d *Document) updateTab(id, msg string, fields map[string]any) error {
	return d.transact(msg, func(doc *automerge.Doc) error {
		r, ok, err := lookup(doc, tabPrefix+id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tab %s: %w", id, errs.ErrNotFound)
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := doc.Path(r.key, k).Set(fields[k]); err != nil {
				return fmt.Errorf("failed to set %s: %w", k, err)
			}
		}
		return nil
	})
}

func (d *Document) ActiveTab() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Document) SetActiveTab(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = id
}

func readTabs(doc *automerge.Doc) ([]orderedTab, error) {
	rs, err := records(doc, tabPrefix)
	if err != nil {
		return nil, err
	}
	tabs := make([]orderedTab, 0, len(rs))
	for _, r := range rs {
		t := decodeTab(r)
		if t.ID == "" {
			continue
		}
		tabs = append(tabs, t)
	}
	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].pos != tabs[j].pos {
			return tabs[i].pos < tabs[j].pos
		}
		return tabs[i].ID < tabs[j].ID
	})
	return tabs, nil
}

func decodeTab(r record) orderedTab {
	id := strField(r.fields, "id")
	if id == "" {
		id = strings.TrimPrefix(r.key, tabPrefix)
	}
	return orderedTab{
		Tab: Tab{
			ID:      id,
			Name:    strField(r.fields, "name"),
			Key:     strField(r.fields, "key"),
			IsDirty: boolField(r.fields, "dirty"),
			X:       floatField(r.fields, "x"),
			Y:       floatField(r.fields, "y"),
		},
		pos: floatField(r.fields, "pos"),
	}
}

func nextTabName(tabs []orderedTab) string {
	names := make(map[string]bool, len(tabs))
	for _, t := range tabs {
		names[t.Name] = true
	}
	n := len(tabs) + 1
	name := fmt.Sprintf("menu_%d.yml", n)
	for counter := 1; names[name]; counter++ {
		name = fmt.Sprintf("menu_%d_%d.yml", n, counter)
	}
	return name
}

func indexOf(tabs []orderedTab, id string) int {
	for i, t := range tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}
