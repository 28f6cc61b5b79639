package shareddoc

import (
	"fmt"
	"strings"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/menuroom/pkg/errs"
)

// Config is the opaque per-tab document. Its contents are never interpreted here.
type Config map[string]any

type WorkspaceMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SetConfig overwrites the config paired with a tab.
func (d *Document) SetConfig(tabID string, cfg Config) error {
	if tabID == "" {
		return errs.Invalid("tab", "id must not be empty")
	}
	return d.transact("set config", func(doc *automerge.Doc) error {
		return writeConfig(doc, tabID, cfg)
	})
}

// Config returns the config paired with a tab and whether one exists.
func (d *Document) Config(tabID string) (Config, bool, error) {
	var (
		out Config
		ok  bool
	)
	err := d.read(func(doc *automerge.Doc) error {
		r, found, err := lookup(doc, configPrefix+tabID)
		if err != nil || !found {
			return err
		}
		out, err = decodeConfig(r)
		ok = err == nil
		return err
	})
	return out, ok, err
}

// Configs returns every config entry keyed by tab id, including orphans whose tab is gone.
func (d *Document) Configs() (map[string]Config, error) {
	var out map[string]Config
	err := d.read(func(doc *automerge.Doc) error {
		var err error
		out, err = readConfigs(doc)
		return err
	})
	return out, err
}

func readConfigs(doc *automerge.Doc) (map[string]Config, error) {
	rs, err := records(doc, configPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Config, len(rs))
	for _, r := range rs {
		cfg, err := decodeConfig(r)
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(r.key, configPrefix)] = cfg
	}
	return out, nil
}

func writeConfig(doc *automerge.Doc, tabID string, cfg Config) error {
	body := map[string]any(cfg)
	if body == nil {
		body = map[string]any{}
	}
	if err := doc.Path(configPrefix + tabID).Set(map[string]any{
		versionField: int64(SchemaVersion),
		"body":       body,
	}); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func decodeConfig(r record) (Config, error) {
	body, ok := r.fields["body"]
	if !ok {
		return Config{}, nil
	}
	v, err := toGo(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r.key, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Config{}, nil
	}
	return Config(m), nil
}

// SetWorkspaceMeta merge-assigns the workspace record. The id is only written when none has
// been assigned yet; once set it is immutable through this call.
func (d *Document) SetWorkspaceMeta(name, description, id string) error {
	return d.transact("set workspace", func(doc *automerge.Doc) error {
		if err := doc.Path(workspaceVersionKey).Set(int64(SchemaVersion)); err != nil {
			return err
		}
		if err := doc.Path(workspaceNameKey).Set(name); err != nil {
			return err
		}
		if err := doc.Path(workspaceDescriptionKey).Set(description); err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		existing, err := rootStr(doc, workspaceIDKey)
		if err != nil {
			return err
		}
		if existing == "" {
			return doc.Path(workspaceIDKey).Set(id)
		}
		return nil
	})
}

func (d *Document) WorkspaceMeta() (WorkspaceMeta, error) {
	var out WorkspaceMeta
	err := d.read(func(doc *automerge.Doc) error {
		var err error
		out, err = readWorkspace(doc)
		return err
	})
	return out, err
}

func readWorkspace(doc *automerge.Doc) (WorkspaceMeta, error) {
	var (
		m   WorkspaceMeta
		err error
	)
	if m.ID, err = rootStr(doc, workspaceIDKey); err != nil {
		return m, err
	}
	if m.Name, err = rootStr(doc, workspaceNameKey); err != nil {
		return m, err
	}
	if m.Description, err = rootStr(doc, workspaceDescriptionKey); err != nil {
		return m, err
	}
	return m, nil
}
