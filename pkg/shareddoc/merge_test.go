package shareddoc

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/menuroom/pkg/errs"
)

func TestMergeEntries(t *testing.T) {
	entries := map[string]any{
		"apple":  map[string]any{"material": "APPLE", PositionsField: []any{3.0, 1.0}},
		"apple2": map[string]any{"material": "GOLDEN_APPLE", "lore": "shiny", PositionsField: []any{1.0, 9.0}},
		"stone":  map[string]any{"material": "STONE"},
	}
	out, err := MergeEntries(entries, "apple2", "apple")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(out), 2)
	merged := out["apple"].(map[string]any)
	assert.Equal(t, merged["material"], "APPLE")
	assert.Equal(t, merged["lore"], "shiny")
	assert.Equal(t, merged[PositionsField], []any{1.0, 3.0, 9.0})
	assert.Equal(t, len(entries), 3)

	out, err = MergeEntries(entries, "stone", "cobble")
	assert.Equal(t, err, nil)
	assert.Equal(t, out["cobble"], entries["stone"])

	_, err = MergeEntries(entries, "apple", "apple")
	assert.Equal(t, errs.IsValidation(err), true)
	_, err = MergeEntries(entries, "missing", "apple")
	assert.NotEqual(t, err, nil)
}

func TestUnionPositions(t *testing.T) {
	tests := []struct {
		name string
		a, b []any
		want []any
	}{
		{"disjoint", []any{1.0}, []any{2.0}, []any{1.0, 2.0}},
		{"overlap mixed ints", []any{int64(2), 1.0}, []any{2.0}, []any{1.0, 2.0}},
		{"non numeric", []any{"A1"}, []any{"A1", 4.0}, []any{4.0, "A1"}},
		{"empty", nil, nil, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, UnionPositions(tt.a, tt.b), tt.want)
		})
	}
}

func TestMergeConfigEntries(t *testing.T) {
	d := New()
	id, _ := d.AddTab("a", Config{"items": map[string]any{
		"a": map[string]any{PositionsField: []any{0.0}},
		"b": map[string]any{PositionsField: []any{5.0}},
	}})
	assert.Equal(t, d.MergeConfigEntries(id, "items", "b", "a"), nil)
	cfg, _, _ := d.Config(id)
	items := cfg["items"].(map[string]any)
	assert.Equal(t, len(items), 1)
	assert.Equal(t, items["a"].(map[string]any)[PositionsField], []any{0.0, 5.0})
}
