package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/astromechza/menuroom/pkg/errs"
)

type MemoryStore struct {
	ids *IDs

	mu         sync.Mutex
	workspaces map[string]Workspace
}

func NewMemoryStore(ids *IDs) *MemoryStore {
	return &MemoryStore{ids: ids, workspaces: map[string]Workspace{}}
}

func (s *MemoryStore) CreateWorkspace(_ context.Context, meta Meta) (Workspace, error) {
	if err := meta.Validate(); err != nil {
		return Workspace{}, err
	}
	now := time.Now().UTC()
	w := Workspace{
		ID:          s.ids.Next(),
		Name:        meta.Name,
		Description: meta.Description,
		Data:        []byte("{}"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[w.ID] = w
	return w, nil
}

func (s *MemoryStore) UpdateWorkspace(_ context.Context, id string, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %s: %w", id, errs.ErrNotFound)
	}
	w.Name = u.Name
	w.Description = u.Description
	if len(u.Data) > 0 {
		w.Data = append([]byte(nil), u.Data...)
	}
	w.MenuCount = u.MenuCount
	w.UpdatedAt = time.Now().UTC()
	s.workspaces[id] = w
	return nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id string) (Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[id]
	if !ok {
		return Workspace{}, fmt.Errorf("workspace %s: %w", id, errs.ErrNotFound)
	}
	return w, nil
}
