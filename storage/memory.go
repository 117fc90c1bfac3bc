package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"iglood/lease"
)

// MemoryStore is a mutex-guarded in-memory room store. Used by tests and the
// dev configuration; it honours the same optimistic-versioning contract as
// the SQLite store.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*lease.Room
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*lease.Room)}
}

// CreateRoom registers a new room. The id must be unused.
func (s *MemoryStore) CreateRoom(ctx context.Context, room *lease.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("storage: room id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("storage: room %s already exists", room.ID)
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

// LoadRoom returns a copy of the room record.
func (s *MemoryStore) LoadRoom(ctx context.Context, id string) (*lease.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, lease.ErrRoomNotFound
	}
	return room.Clone(), nil
}

// SaveRoom writes the room back if its stored version still matches
// expectedVersion, bumping the version on success.
func (s *MemoryStore) SaveRoom(ctx context.Context, room *lease.Room, expectedVersion uint64) error {
	if room == nil {
		return fmt.Errorf("storage: nil room")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[room.ID]
	if !ok {
		return lease.ErrRoomNotFound
	}
	if current.Version != expectedVersion {
		return lease.ErrVersionConflict
	}
	saved := room.Clone()
	saved.Version = expectedVersion + 1
	s.rooms[room.ID] = saved
	room.Version = saved.Version
	return nil
}

// ListRooms returns copies of every room, ordered by id.
func (s *MemoryStore) ListRooms(ctx context.Context) ([]*lease.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*lease.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// ListRoomsPastDue returns every rented room whose rent due date has passed.
func (s *MemoryStore) ListRoomsPastDue(ctx context.Context, now time.Time) ([]*lease.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var overdue []*lease.Room
	for _, room := range s.rooms {
		if room.Rented && now.After(room.RentDueAt) {
			overdue = append(overdue, room.Clone())
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ID < overdue[j].ID })
	return overdue, nil
}
