package shareddoc

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/menuroom/pkg/errs"
)

func tabNames(t *testing.T, d *Document) []string {
	t.Helper()
	tabs, err := d.Tabs()
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(tabs))
	for i, tab := range tabs {
		names[i] = tab.Name
	}
	return names
}

func TestAddTabNamesAndCascade(t *testing.T) {
	d := New()
	first, err := d.AddTab("", nil)
	assert.Equal(t, err, nil)
	second, err := d.AddTab("", nil)
	assert.Equal(t, err, nil)
	_, err = d.AddTab("custom.yml", Config{"rows": 3.0})
	assert.Equal(t, err, nil)

	assert.Equal(t, tabNames(t, d), []string{"menu_1.yml", "menu_2.yml", "custom.yml"})
	assert.NotEqual(t, first, second)

	tabs, _ := d.Tabs()
	assert.Equal(t, tabs[1].X-tabs[0].X, float64(CascadeOffset))
	assert.Equal(t, tabs[2].Y-tabs[1].Y, float64(CascadeOffset))

	cfg, ok, err := d.Config(tabs[2].ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, cfg["rows"], 3.0)
	assert.Equal(t, d.ActiveTab(), tabs[2].ID)
}

func TestAddTabDeduplicatesSynthesizedName(t *testing.T) {
	d := New()
	_, _ = d.AddTab("menu_2.yml", nil)
	_, _ = d.AddTab("", nil)
	assert.Equal(t, tabNames(t, d), []string{"menu_2.yml", "menu_2_1.yml"})
	_, _ = d.AddTab("menu_3.yml", nil)
	_, _ = d.AddTab("", nil)
	assert.Equal(t, tabNames(t, d)[3], "menu_4.yml")
}

func TestCloseTab(t *testing.T) {
	d := New()
	a, _ := d.AddTab("a", Config{"k": "a"})
	b, _ := d.AddTab("b", Config{"k": "b"})
	c, _ := d.AddTab("c", Config{"k": "c"})

	d.SetActiveTab(b)
	assert.Equal(t, d.CloseTab(b), nil)
	assert.Equal(t, tabNames(t, d), []string{"a", "c"})
	assert.Equal(t, d.ActiveTab(), a)

	_, ok, _ := d.Config(b)
	assert.Equal(t, ok, false)
	for _, id := range []string{a, c} {
		_, ok, _ := d.Config(id)
		assert.Equal(t, ok, true)
	}

	d.SetActiveTab(a)
	assert.Equal(t, d.CloseTab(a), nil)
	assert.Equal(t, d.ActiveTab(), c)

	err := d.CloseTab(c)
	assert.Equal(t, errs.IsValidation(err), true)
	assert.Equal(t, tabNames(t, d), []string{"c"})
}

func TestEveryTabHasConfig(t *testing.T) {
	d := New()
	a, _ := d.AddTab("a", nil)
	_, _ = d.AddTab("", nil)
	_, _ = d.AddTab("c", Config{"rows": 1.0})
	assert.Equal(t, d.CloseTab(a), nil)

	check := func(d *Document) {
		tabs, err := d.Tabs()
		assert.Equal(t, err, nil)
		for _, tab := range tabs {
			_, ok, err := d.Config(tab.ID)
			assert.Equal(t, err, nil)
			assert.Equal(t, ok, true)
		}
		_, ok, _ := d.Config(a)
		assert.Equal(t, ok, false)
	}
	check(d)

	snap, err := d.Snapshot()
	assert.Equal(t, err, nil)
	snap.Configs = map[string]Config{}
	loaded := New()
	assert.Equal(t, loaded.ApplySnapshot(snap), nil)
	check(loaded)
	assert.Equal(t, len(tabNames(t, loaded)), 2)
}

func TestEnsureTabAfterConcurrentCloses(t *testing.T) {
	d := New()
	a, _ := d.AddTab("a", nil)
	b, _ := d.AddTab("b", nil)
	f, err := d.Fork()
	assert.Equal(t, err, nil)

	assert.Equal(t, d.CloseTab(a), nil)
	assert.Equal(t, f.CloseTab(b), nil)
	assert.Equal(t, d.Merge(f), nil)
	assert.Equal(t, len(tabNames(t, d)), 0)

	id, added, err := d.EnsureTab()
	assert.Equal(t, err, nil)
	assert.Equal(t, added, true)
	assert.Equal(t, tabNames(t, d), []string{"menu_1.yml"})
	assert.Equal(t, d.ActiveTab(), id)
	_, ok, _ := d.Config(id)
	assert.Equal(t, ok, true)

	_, added, err = d.EnsureTab()
	assert.Equal(t, err, nil)
	assert.Equal(t, added, false)
	assert.Equal(t, len(tabNames(t, d)), 1)
}

func TestUpdatesKeepOrder(t *testing.T) {
	d := New()
	a, _ := d.AddTab("a", nil)
	b, _ := d.AddTab("b", nil)
	_, _ = d.AddTab("c", nil)

	assert.Equal(t, d.RenameTab(b, "bee"), nil)
	assert.Equal(t, d.SetDirty(a, true), nil)
	assert.Equal(t, d.MoveTab(b, 5, -5), nil)
	assert.Equal(t, tabNames(t, d), []string{"a", "bee", "c"})

	tab, err := d.Tab(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, tab.X, float64(CascadeOffset+5))
	assert.Equal(t, tab.Y, float64(CascadeOffset-5))
	tab, _ = d.Tab(a)
	assert.Equal(t, tab.IsDirty, true)
}

func TestUpdateValidation(t *testing.T) {
	d := New()
	a, _ := d.AddTab("a", nil)
	assert.Equal(t, errs.IsValidation(d.RenameTab(a, "  ")), true)
	assert.Equal(t, errs.IsValidation(d.SetConfig("", Config{})), true)

	_, err := d.Tab("missing")
	assert.NotEqual(t, err, nil)
	assert.NotEqual(t, d.RenameTab("missing", "x"), nil)
}

func TestObserversSeeOneChangePerOperation(t *testing.T) {
	d := New()
	var changes []Change
	stop := d.OnChange(func(c Change) { changes = append(changes, c) })
	a, _ := d.AddTab("a", Config{"x": "y"})
	_ = d.RenameTab(a, "b")
	stop()
	_ = d.RenameTab(a, "c")
	assert.Equal(t, len(changes), 2)
	assert.Equal(t, changes[0].Local, true)
}

func TestWorkspaceMetaIDIsImmutable(t *testing.T) {
	d := New()
	assert.Equal(t, d.SetWorkspaceMeta("Lunch", "daily", "42"), nil)
	assert.Equal(t, d.SetWorkspaceMeta("Dinner", "nightly", "43"), nil)
	meta, err := d.WorkspaceMeta()
	assert.Equal(t, err, nil)
	assert.Equal(t, meta, WorkspaceMeta{ID: "42", Name: "Dinner", Description: "nightly"})
}

func TestChatIsAppendOnlyAndOrdered(t *testing.T) {
	d := New()
	_, err := d.AppendChatMessage(ChatMessage{Sender: "ann", Content: "second", Timestamp: 20})
	assert.Equal(t, err, nil)
	first, err := d.AppendChatMessage(ChatMessage{Sender: "bob", Content: "first", Timestamp: 10})
	assert.Equal(t, err, nil)
	_, err = d.AppendChatMessage(ChatMessage{ID: first.ID, Content: "again"})
	assert.Equal(t, errs.IsValidation(err), true)
	_, err = d.AppendChatMessage(ChatMessage{Sender: "bob"})
	assert.Equal(t, errs.IsValidation(err), true)

	msgs, err := d.ChatMessages()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(msgs), 2)
	assert.Equal(t, msgs[0].Content, "first")
	assert.Equal(t, msgs[1].Content, "second")
}
