package workspace

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/astromechza/menuroom/pkg/errs"
)

// stores returns every backend under test. Postgres joins when MENUROOM_TEST_DATABASE_URL is set.
func stores(t *testing.T) map[string]Store {
	ids, err := NewIDs(1)
	if err != nil {
		t.Fatal(err)
	}
	mem := NewMemoryStore(ids)
	r := mux.NewRouter()
	NewHandler(NewMemoryStore(ids)).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]Store{"memory": mem, "http": client}
	if url := os.Getenv("MENUROOM_TEST_DATABASE_URL"); url != "" {
		pg, err := OpenPostgres(context.Background(), url, ids)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(pg.Close)
		out["postgres"] = pg
	}
	return out
}

func TestWorkspaceLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w, err := s.CreateWorkspace(ctx, Meta{Name: "Shop", Description: "menus"})
			assert.Equal(t, err, nil)
			assert.NotEqual(t, w.ID, "")

			data := json.RawMessage(`{"tabs":[],"configs":{},"workspace":{"id":"x","name":"Shop","description":""}}`)
			assert.Equal(t, s.UpdateWorkspace(ctx, w.ID, Update{Name: "Shop 2", Description: "d", Data: data, MenuCount: 0}), nil)

			got, err := s.GetWorkspace(ctx, w.ID)
			assert.Equal(t, err, nil)
			assert.Equal(t, got.Name, "Shop 2")
			assert.Equal(t, got.Description, "d")
			assert.Equal(t, string(compact(t, got.Data)), string(compact(t, data)))

			_, err = s.GetWorkspace(ctx, "404")
			assert.Equal(t, errors.Is(err, errs.ErrNotFound), true)
			err = s.UpdateWorkspace(ctx, "404", Update{Name: "x"})
			assert.Equal(t, errors.Is(err, errs.ErrNotFound), true)
		})
	}
}

func TestWorkspaceValidation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateWorkspace(ctx, Meta{})
			assert.Equal(t, errs.IsValidation(err), true)
			w, _ := s.CreateWorkspace(ctx, Meta{Name: "ok"})
			assert.Equal(t, errs.IsValidation(s.UpdateWorkspace(ctx, w.ID, Update{Name: " "})), true)
			assert.Equal(t, errs.IsValidation(s.UpdateWorkspace(ctx, w.ID, Update{Name: "n", MenuCount: -1})), true)
		})
	}
}

func TestIDsAreUnique(t *testing.T) {
	ids, err := NewIDs(3)
	assert.Equal(t, err, nil)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := ids.Next()
		assert.Equal(t, seen[id], false)
		seen[id] = true
	}
	_, err = NewIDs(1 << 20)
	assert.NotEqual(t, err, nil)
}

func compact(t *testing.T, raw []byte) []byte {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	out, _ := json.Marshal(v)
	return out
}
