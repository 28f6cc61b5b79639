package viz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/menuroom/pkg/shareddoc"
)

func TestLabel(t *testing.T) {
	got := Label(shareddoc.ChangeInfo{
		Hash:    "0123456789abcdef",
		Actor:   "aabbccddeeff",
		Seq:     3,
		Message: "add tab",
		Tabs:    []string{"menu_1.yml", "menu_2.yml"},
	})
	assert.Equal(t, got, "01234567 aabbccdd@3 add tab [menu_1.yml, menu_2.yml]")
}

func TestRenderHistoryToSvg(t *testing.T) {
	doc := shareddoc.New()
	_, err := doc.AddTab("Lunch", nil)
	assert.Equal(t, err, nil)
	history, err := doc.History()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(history), 2)
	assert.Equal(t, history[1].Tabs, []string{"Lunch"})
	assert.Equal(t, history[1].Deps, []string{history[0].Hash})

	out := filepath.Join(t.TempDir(), "graph.svg")
	assert.Equal(t, RenderHistoryToSvg(history, out), nil)
	raw, err := os.ReadFile(out)
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(string(raw), "<svg"), true)
}
