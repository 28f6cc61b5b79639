package persistence

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/pkg/errors"

	"github.com/astromechza/menuroom/pkg/errs"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/workspace"
)

func caches(t *testing.T) map[string]LocalCache {
	out := map[string]LocalCache{}
	for _, driver := range []string{"sqlite", "bolt"} {
		c, err := OpenCache(driver, filepath.Join(t.TempDir(), "cache."+driver))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Close() })
		out[driver] = c
	}
	return out
}

func TestCacheDrivers(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Load(ctx, "R1")
			assert.Equal(t, err, nil)
			assert.Equal(t, ok, false)

			assert.Equal(t, c.Store(ctx, "R1", []byte{1, 2, 3}), nil)
			assert.Equal(t, c.Store(ctx, "R1", []byte{1, 2, 3}), nil)
			assert.Equal(t, c.Store(ctx, "R2", []byte{4}), nil)
			raw, ok, err := c.Load(ctx, "R1")
			assert.Equal(t, err, nil)
			assert.Equal(t, ok, true)
			assert.Equal(t, raw, []byte{1, 2, 3})

			rooms, err := c.Rooms(ctx)
			assert.Equal(t, err, nil)
			sort.Strings(rooms)
			assert.Equal(t, rooms, []string{"R1", "R2"})

			assert.Equal(t, c.Delete(ctx, "R1"), nil)
			_, ok, _ = c.Load(ctx, "R1")
			assert.Equal(t, ok, false)
		})
	}
}

func TestOpenCacheUnknownDriver(t *testing.T) {
	_, err := OpenCache("leveldb", filepath.Join(t.TempDir(), "x"))
	assert.NotEqual(t, err, nil)
}

type fixture struct {
	cache LocalCache
	store *workspace.MemoryStore
	host  bool
}

func newFixture(t *testing.T) *fixture {
	c, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	ids, err := workspace.NewIDs(1)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{cache: c, store: workspace.NewMemoryStore(ids), host: true}
}

func (f *fixture) open(t *testing.T, roomID string, doc *shareddoc.Document) *Coordinator {
	t.Helper()
	c := NewCoordinator(Options{
		RoomID: roomID,
		Doc:    doc,
		Cache:  f.cache,
		Store:  f.store,
		IsHost: func() bool { return f.host },
	})
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Loaded():
	default:
		t.Fatal("expected loaded to be closed after open")
	}
	return c
}

func TestOfflineEditsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc := shareddoc.New()
	c := f.open(t, "R1", doc)
	id, err := doc.AddTab("", shareddoc.Config{"items": []any{"soup"}})
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.RenameTab(id, "Dinner"), nil)
	assert.Equal(t, c.Close(ctx), nil)

	restarted := shareddoc.New()
	f.open(t, "R1", restarted)
	tabs, err := restarted.Tabs()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tabs), 1)
	assert.Equal(t, tabs[0].Name, "Dinner")
	cfg, ok, err := restarted.Config(id)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, cfg["items"], []any{"soup"})
}

func TestFlushOnlyWhenChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.open(t, "R1", shareddoc.New())
	assert.Equal(t, c.FlushLocal(ctx), nil)
	_, ok, _ := f.cache.Load(ctx, "R1")
	assert.Equal(t, ok, false)
}

func TestSaveRequiresHostAndWorkspace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := shareddoc.New()
	c := f.open(t, "R1", doc)

	assert.Equal(t, errors.Is(c.Save(ctx, true), errs.ErrNoWorkspace), true)

	f.host = false
	assert.Equal(t, errors.Is(c.Save(ctx, true), errs.ErrNotHost), true)
	_, err := c.EnsureWorkspace(ctx)
	assert.Equal(t, errors.Is(err, errs.ErrNotHost), true)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := shareddoc.New()
	c := f.open(t, "R1", doc)
	_, err := doc.AddTab("Lunch", shareddoc.Config{"a": "b"})
	assert.Equal(t, err, nil)
	_, err = doc.AddTab("Dinner", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.SetWorkspaceMeta("Bistro", "", ""), nil)

	id, err := c.EnsureWorkspace(ctx)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, id, "")
	meta, _ := doc.WorkspaceMeta()
	assert.Equal(t, meta.ID, id)

	assert.Equal(t, c.Save(ctx, true), nil)
	assert.NotEqual(t, c.LastSaved().IsZero(), true)
	w, err := f.store.GetWorkspace(ctx, id)
	assert.Equal(t, err, nil)
	assert.Equal(t, w.Name, "Bistro")
	assert.Equal(t, w.Description, DefaultDescription)
	assert.Equal(t, w.MenuCount, 2)

	other := shareddoc.New()
	oc := f.open(t, "R2", other)
	assert.Equal(t, oc.Load(ctx, id), nil)
	tabs, err := other.Tabs()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tabs), 2)
	assert.Equal(t, tabs[0].Name, "Lunch")
	assert.Equal(t, tabs[1].Name, "Dinner")
	cfg, ok, _ := other.Config(tabs[0].ID)
	assert.Equal(t, ok, true)
	assert.Equal(t, cfg["a"], "b")
	assert.Equal(t, oc.WorkspaceID(), id)
	meta, _ = other.WorkspaceMeta()
	assert.Equal(t, meta, shareddoc.WorkspaceMeta{ID: id, Name: "Bistro", Description: DefaultDescription})
}

func TestPlaceholderNameNeverOverwritesSavedName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := shareddoc.New()
	_, err := doc.AddTab("Lunch", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.SetWorkspaceMeta("Bistro", "Downtown", ""), nil)
	c := f.open(t, "R1", doc)
	id, err := c.EnsureWorkspace(ctx)
	assert.Equal(t, err, nil)

	assert.Equal(t, doc.SetWorkspaceMeta("Untitled Workspace", "", ""), nil)
	assert.Equal(t, c.Save(ctx, true), nil)
	w, _ := f.store.GetWorkspace(ctx, id)
	assert.Equal(t, w.Name, "Bistro")
	assert.Equal(t, w.Description, "Downtown")
}

func TestLoadPrefersPayloadNameOverPlaceholderRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, err := f.store.CreateWorkspace(ctx, workspace.Meta{Name: "Untitled 3"})
	assert.Equal(t, err, nil)
	assert.Equal(t, f.store.UpdateWorkspace(ctx, w.ID, workspace.Update{
		Name: "Untitled 3",
		Data: []byte(`{"tabs":[{"id":"t1","name":"Brunch","key":"k1"}],"configs":{"t1":{}},"workspace":{"name":"Cafe","description":"d"}}`),
	}), nil)

	doc := shareddoc.New()
	c := f.open(t, "R1", doc)
	assert.Equal(t, c.Load(ctx, w.ID), nil)
	meta, _ := doc.WorkspaceMeta()
	assert.Equal(t, meta.Name, "Cafe")
	tabs, _ := doc.Tabs()
	assert.Equal(t, len(tabs), 1)
	assert.Equal(t, tabs[0].Name, "Brunch")
}

func TestLoadEmptySnapshotKeepsTabs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, err := f.store.CreateWorkspace(ctx, workspace.Meta{Name: "Empty"})
	assert.Equal(t, err, nil)

	doc := shareddoc.New()
	_, err = doc.AddTab("Keep me", nil)
	assert.Equal(t, err, nil)
	c := f.open(t, "R1", doc)
	assert.Equal(t, c.Load(ctx, w.ID), nil)
	tabs, _ := doc.Tabs()
	assert.Equal(t, len(tabs), 1)
	assert.Equal(t, tabs[0].Name, "Keep me")
	meta, _ := doc.WorkspaceMeta()
	assert.Equal(t, meta.Name, "Empty")
}

func TestLoadUnknownWorkspace(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "R1", shareddoc.New())
	err := c.Load(context.Background(), "404")
	assert.Equal(t, errs.IsPersistence(err), true)
	assert.Equal(t, errors.Is(err, errs.ErrNotFound), true)
}

func TestClearLocalStopsFlushes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := shareddoc.New()
	c := f.open(t, "R1", doc)
	_, err := doc.AddTab("", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.FlushLocal(ctx), nil)
	_, ok, _ := f.cache.Load(ctx, "R1")
	assert.Equal(t, ok, true)

	assert.Equal(t, c.ClearLocal(ctx), nil)
	_, err = doc.AddTab("", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Close(ctx), nil)
	_, ok, _ = f.cache.Load(ctx, "R1")
	assert.Equal(t, ok, false)
}

func TestOpenFailsOnCorruptCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, f.cache.Store(ctx, "R1", []byte("not a document")), nil)
	c := NewCoordinator(Options{RoomID: "R1", Doc: shareddoc.New(), Cache: f.cache})
	err := c.Open(ctx)
	assert.Equal(t, errs.IsLocalPersistence(err), true)
}
