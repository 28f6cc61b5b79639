package shareddoc

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func mergeBoth(t *testing.T, a, b *Document) {
	t.Helper()
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	if err := b.Merge(a); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentAddTabKeepsBoth(t *testing.T) {
	a := New()
	b := New()
	idA, _ := a.AddTab("", nil)
	idB, _ := b.AddTab("", nil)
	assert.Equal(t, tabNames(t, a), []string{"menu_1.yml"})
	assert.Equal(t, tabNames(t, b), []string{"menu_1.yml"})

	mergeBoth(t, a, b)

	tabsA, _ := a.Tabs()
	tabsB, _ := b.Tabs()
	assert.Equal(t, len(tabsA), 2)
	assert.Equal(t, tabsA, tabsB)
	ids := map[string]bool{tabsA[0].ID: true, tabsA[1].ID: true}
	assert.Equal(t, ids[idA] && ids[idB], true)
}

func TestConcurrentRenamesOfDifferentTabsConverge(t *testing.T) {
	a := New()
	x, _ := a.AddTab("x", nil)
	y, _ := a.AddTab("y", nil)
	b, err := a.Fork()
	assert.Equal(t, err, nil)

	assert.Equal(t, a.RenameTab(x, "x-renamed"), nil)
	assert.Equal(t, b.RenameTab(y, "y-renamed"), nil)
	mergeBoth(t, a, b)

	assert.Equal(t, tabNames(t, a), []string{"x-renamed", "y-renamed"})
	assert.Equal(t, tabNames(t, b), []string{"x-renamed", "y-renamed"})
}

func TestConcurrentEditsOfSameTabConvergeDeterministically(t *testing.T) {
	a := New()
	x, _ := a.AddTab("x", nil)
	b, _ := a.Fork()

	_ = a.RenameTab(x, "from-a")
	_ = b.RenameTab(x, "from-b")
	_ = b.SetDirty(x, true)
	mergeBoth(t, a, b)

	ta, _ := a.Tab(x)
	tb, _ := b.Tab(x)
	assert.Equal(t, ta, tb)
	assert.Equal(t, ta.IsDirty, true)
	assert.Equal(t, len(tabNames(t, a)), 1)
}

func TestMergeNotifiesOnlyOnNewChanges(t *testing.T) {
	a := New()
	_, _ = a.AddTab("x", nil)
	b, _ := a.Fork()
	remote := 0
	b.OnChange(func(c Change) {
		if !c.Local {
			remote++
		}
	})
	assert.Equal(t, b.Merge(a), nil)
	assert.Equal(t, remote, 0)
	_, _ = a.AddTab("y", nil)
	assert.Equal(t, b.Merge(a), nil)
	assert.Equal(t, remote, 1)
}

func TestCloseAndConcurrentConfigEdit(t *testing.T) {
	a := New()
	x, _ := a.AddTab("x", Config{"v": "1"})
	y, _ := a.AddTab("y", Config{"v": "1"})
	b, _ := a.Fork()

	_ = a.CloseTab(x)
	_ = b.SetConfig(y, Config{"v": "2"})
	mergeBoth(t, a, b)

	assert.Equal(t, tabNames(t, b), []string{"y"})
	cfg, _, _ := b.Config(y)
	assert.Equal(t, cfg["v"], "2")
}
