package shareddoc

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/menuroom/pkg/errs"
)

// PositionsField is the entry field that MergeEntries unions.
const PositionsField = "positions"

// MergeEntries unifies the entry under from into the entry under to. The result keeps the
// fields of to, fills in fields only from defines, and holds the union of both position sets.
// The input map is not modified.
func MergeEntries(entries map[string]any, from, to string) (map[string]any, error) {
	if from == to {
		return nil, errs.Invalid("entry", "cannot merge an entry into itself")
	}
	src, ok := entries[from].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", from, errs.ErrNotFound)
	}
	out := make(map[string]any, len(entries))
	for k, v := range entries {
		if k != from {
			out[k] = v
		}
	}
	dst, ok := entries[to].(map[string]any)
	if !ok {
		out[to] = src
		return out, nil
	}
	merged := make(map[string]any, len(dst)+len(src))
	for k, v := range src {
		merged[k] = v
	}
	for k, v := range dst {
		merged[k] = v
	}
	merged[PositionsField] = UnionPositions(asList(dst[PositionsField]), asList(src[PositionsField]))
	out[to] = merged
	return out, nil
}

// UnionPositions returns the distinct positions of a and b. Numeric positions are sorted
// ascending; anything else keeps first-seen order after them.
func UnionPositions(a, b []any) []any {
	seen := make(map[string]bool, len(a)+len(b))
	var nums []float64
	var others []any
	for _, p := range append(append([]any{}, a...), b...) {
		key := fmt.Sprintf("%T:%v", normalizeNumber(p), normalizeNumber(p))
		if seen[key] {
			continue
		}
		seen[key] = true
		if f, ok := normalizeNumber(p).(float64); ok {
			nums = append(nums, f)
		} else {
			others = append(others, p)
		}
	}
	sort.Float64s(nums)
	out := make([]any, 0, len(nums)+len(others))
	for _, f := range nums {
		out = append(out, f)
	}
	return append(out, others...)
}

// MergeConfigEntries applies MergeEntries to the map stored under section in a tab's config,
// as one change.
func (d *Document) MergeConfigEntries(tabID, section, from, to string) error {
	return d.transact("merge entries", func(doc *automerge.Doc) error {
		r, ok, err := lookup(doc, configPrefix+tabID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("config %s: %w", tabID, errs.ErrNotFound)
		}
		cfg, err := decodeConfig(r)
		if err != nil {
			return err
		}
		entries, ok := cfg[section].(map[string]any)
		if !ok {
			return fmt.Errorf("section %s: %w", section, errs.ErrNotFound)
		}
		merged, err := MergeEntries(entries, from, to)
		if err != nil {
			return err
		}
		return doc.Path(configPrefix+tabID, "body", section).Set(merged)
	})
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return v
}
