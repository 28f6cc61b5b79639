package shareddoc

import (
	"fmt"
	"strings"

	"github.com/automerge/automerge-go"
)

const (
	schemaKey    = "schema"
	tabPrefix    = "tab:"
	configPrefix = "config:"
	chatPrefix   = "chat:"

	workspaceIDKey          = "workspace.id"
	workspaceNameKey        = "workspace.name"
	workspaceDescriptionKey = "workspace.description"
	workspaceVersionKey     = "workspace.v"

	versionField = "v"
)

// record is a decoded root-level map record. Unknown fields are kept in raw so callers can
// tell which version wrote it.
type record struct {
	key    string
	fields map[string]*automerge.Value
}

func (r record) version() int64 {
	return intField(r.fields, versionField)
}

// records returns every root-level map record whose key has the given prefix.
func records(doc *automerge.Doc, prefix string) ([]record, error) {
	root, err := doc.RootMap().Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read root: %w", err)
	}
	out := make([]record, 0)
	for key, v := range root {
		if !strings.HasPrefix(key, prefix) || v.Kind() != automerge.KindMap {
			continue
		}
		fields, err := v.Map().Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		out = append(out, record{key: key, fields: fields})
	}
	return out, nil
}

func lookup(doc *automerge.Doc, key string) (record, bool, error) {
	v, err := doc.RootMap().Get(key)
	if err != nil {
		return record{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if v.Kind() != automerge.KindMap {
		return record{}, false, nil
	}
	fields, err := v.Map().Values()
	if err != nil {
		return record{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return record{key: key, fields: fields}, true, nil
}

func strField(fields map[string]*automerge.Value, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	switch v.Kind() {
	case automerge.KindStr:
		return v.Str()
	case automerge.KindText:
		s, _ := v.Text().Get()
		return s
	}
	return ""
}

func floatField(fields map[string]*automerge.Value, name string) float64 {
	v, ok := fields[name]
	if !ok {
		return 0
	}
	switch v.Kind() {
	case automerge.KindFloat64:
		return v.Float64()
	case automerge.KindInt64:
		return float64(v.Int64())
	case automerge.KindUint64:
		return float64(v.Uint64())
	}
	return 0
}

func intField(fields map[string]*automerge.Value, name string) int64 {
	v, ok := fields[name]
	if !ok {
		return 0
	}
	switch v.Kind() {
	case automerge.KindInt64:
		return v.Int64()
	case automerge.KindUint64:
		return int64(v.Uint64())
	case automerge.KindFloat64:
		return int64(v.Float64())
	}
	return 0
}

func boolField(fields map[string]*automerge.Value, name string) bool {
	v, ok := fields[name]
	return ok && v.Kind() == automerge.KindBool && v.Bool()
}

func rootStr(doc *automerge.Doc, key string) (string, error) {
	v, err := doc.RootMap().Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if v.Kind() != automerge.KindStr {
		return "", nil
	}
	return v.Str(), nil
}

// toGo converts an automerge value tree into plain Go values: map[string]any, []any, string,
// float64, int64, bool and nil.
func toGo(v *automerge.Value) (any, error) {
	switch v.Kind() {
	case automerge.KindVoid, automerge.KindNull:
		return nil, nil
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindText:
		return v.Text().Get()
	case automerge.KindBool:
		return v.Bool(), nil
	case automerge.KindFloat64:
		return v.Float64(), nil
	case automerge.KindInt64:
		return v.Int64(), nil
	case automerge.KindUint64:
		return int64(v.Uint64()), nil
	case automerge.KindCounter:
		return v.Counter().Get()
	case automerge.KindBytes:
		return v.Bytes(), nil
	case automerge.KindTime:
		return v.Time(), nil
	case automerge.KindMap:
		values, err := v.Map().Values()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(values))
		for k, child := range values {
			if out[k], err = toGo(child); err != nil {
				return nil, err
			}
		}
		return out, nil
	case automerge.KindList:
		values, err := v.List().Values()
		if err != nil {
			return nil, err
		}
		out := make([]any, len(values))
		for i, child := range values {
			if out[i], err = toGo(child); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value kind %v", v.Kind())
}
