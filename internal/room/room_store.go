// internal/room/room_store.go
package room

import "sync"

// Store manages live rooms in memory only, keyed by room name.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewStore returns an in-memory store for Rooms.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the named room, creating it with build if it does not
// exist. build runs under the store lock so two callers racing on the same
// name get the same room. The created flag tells the caller whether build
// ran. A non-permanent room created here removes itself once empty.
func (s *Store) GetOrCreate(name string, build func() *Room) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok {
		return r, false
	}
	r := build()
	r.OnEmpty = func(name string) {
		s.Delete(name)
	}
	s.rooms[name] = r
	return r, true
}

// Get retrieves a room if it exists.
func (s *Store) Get(name string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	return r, ok
}

// Delete removes the room from memory and tears it down.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	r, ok := s.rooms[name]
	delete(s.rooms, name)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
}

// Rooms returns a snapshot of the live rooms, typically for listing.
func (s *Store) Rooms() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}
