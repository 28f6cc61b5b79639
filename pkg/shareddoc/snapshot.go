package shareddoc

import (
	"fmt"
	"strings"

	"github.com/automerge/automerge-go"
)

// Snapshot is the point-in-time shape written to the remote workspace store.
type Snapshot struct {
	Tabs      []Tab             `json:"tabs"`
	Configs   map[string]Config `json:"configs"`
	Workspace WorkspaceMeta     `json:"workspace"`
}

func (d *Document) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := d.read(func(doc *automerge.Doc) error {
		tabs, err := readTabs(doc)
		if err != nil {
			return err
		}
		s.Tabs = make([]Tab, len(tabs))
		for i, t := range tabs {
			s.Tabs[i] = t.Tab
		}
		if s.Configs, err = readConfigs(doc); err != nil {
			return err
		}
		s.Workspace, err = readWorkspace(doc)
		return err
	})
	return s, err
}

// ApplySnapshot replaces tabs, configs and workspace metadata with the snapshot contents in a
// single change. Unlike SetWorkspaceMeta it does overwrite the workspace id.
func (d *Document) ApplySnapshot(s Snapshot) error {
	return d.transact("load snapshot", func(doc *automerge.Doc) error {
		root, err := doc.RootMap().Values()
		if err != nil {
			return fmt.Errorf("failed to read root: %w", err)
		}
		for key := range root {
			if strings.HasPrefix(key, tabPrefix) || strings.HasPrefix(key, configPrefix) {
				if err := doc.RootMap().Delete(key); err != nil {
					return fmt.Errorf("failed to clear %s: %w", key, err)
				}
			}
		}
		for i, t := range s.Tabs {
			if err := doc.Path(tabPrefix + t.ID).Set(map[string]any{
				versionField: int64(SchemaVersion),
				"id":         t.ID,
				"name":       t.Name,
				"key":        t.Key,
				"dirty":      t.IsDirty,
				"x":          t.X,
				"y":          t.Y,
				"pos":        float64(i + 1),
			}); err != nil {
				return fmt.Errorf("failed to write tab: %w", err)
			}
		}
		for id, cfg := range s.Configs {
			if err := writeConfig(doc, id, cfg); err != nil {
				return err
			}
		}
		for _, t := range s.Tabs {
			if _, ok := s.Configs[t.ID]; ok {
				continue
			}
			if err := writeConfig(doc, t.ID, nil); err != nil {
				return err
			}
		}
		if err := doc.Path(workspaceVersionKey).Set(int64(SchemaVersion)); err != nil {
			return err
		}
		if err := doc.Path(workspaceIDKey).Set(s.Workspace.ID); err != nil {
			return err
		}
		if err := doc.Path(workspaceNameKey).Set(s.Workspace.Name); err != nil {
			return err
		}
		return doc.Path(workspaceDescriptionKey).Set(s.Workspace.Description)
	})
}

// NewerRecords counts records written by a peer running a newer schema than this one.
func (d *Document) NewerRecords() (int, error) {
	n := 0
	err := d.read(func(doc *automerge.Doc) error {
		for _, prefix := range []string{tabPrefix, configPrefix, chatPrefix} {
			rs, err := records(doc, prefix)
			if err != nil {
				return err
			}
			for _, r := range rs {
				if r.version() > SchemaVersion {
					n++
				}
			}
		}
		return nil
	})
	return n, err
}
