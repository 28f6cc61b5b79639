package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/astromechza/menuroom/pkg/errs"
)

// MemoryStore keeps rooms in process. A room that is not heartbeated within ttl disappears.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	rooms   map[string]*entry
	members map[string]map[string]bool
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		rooms:   map[string]*entry{},
		members: map[string]map[string]bool{},
	}
}

// SetClock replaces the time source; used by tests to simulate missed heartbeats.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry for roomID, evicting it first if it expired. Callers hold s.mu.
func (s *MemoryStore) live(roomID string) *entry {
	e, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if s.ttl > 0 && s.now().Sub(e.Record.LastHeartbeat) > s.ttl {
		delete(s.rooms, roomID)
		delete(s.members, roomID)
		return nil
	}
	return e
}

func (s *MemoryStore) CreateRoom(_ context.Context, req CreateRequest) (RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.live(req.RoomID)
	next, err := upsert(existing, req, s.now())
	if err != nil {
		return RoomRecord{}, err
	}
	if existing == nil {
		s.members[req.RoomID] = map[string]bool{req.HostID: true}
	}
	next.Record.CurrentUsers = len(s.members[req.RoomID])
	s.rooms[req.RoomID] = next
	return next.withToken(), nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(roomID)
	if e == nil {
		return RoomRecord{}, fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	return e.Record, nil
}

func (s *MemoryStore) JoinRoom(_ context.Context, roomID, password, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(roomID)
	if e == nil {
		return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	if err := checkPassword(e, password); err != nil {
		return err
	}
	if peerID == "" {
		return nil
	}
	m := s.members[roomID]
	if !m[peerID] && len(m) >= e.Record.Capacity {
		return errs.ErrRoomFull
	}
	m[peerID] = true
	e.Record.CurrentUsers = len(m)
	return nil
}

func (s *MemoryStore) SendHeartbeat(_ context.Context, roomID, hostToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(roomID)
	if e == nil {
		return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	if err := checkToken(e, hostToken); err != nil {
		return err
	}
	e.Record.LastHeartbeat = s.now()
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID, hostToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(roomID)
	if e == nil {
		return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	if err := checkToken(e, hostToken); err != nil {
		return err
	}
	delete(s.rooms, roomID)
	delete(s.members, roomID)
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context, keyword string) ([]RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomRecord, 0, len(s.rooms))
	for id := range s.rooms {
		if e := s.live(id); e != nil && matches(e.Record, keyword) {
			out = append(out, e.Record)
		}
	}
	sortRooms(out)
	return out, nil
}

func sortRooms(rooms []RoomRecord) {
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})
}
