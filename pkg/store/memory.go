package store

import (
	"sync"

	"github.com/sherzodv/tim/pkg/wire"
)

// MemoryStore holds everything in process memory. State lives as long as the
// process does, which the server accepts when no storage path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	timites  map[uint64]wire.Timite
	sessions map[string]wire.Session
	events   map[string][]wire.SpaceEvent
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{
		timites:  make(map[uint64]wire.Timite),
		sessions: make(map[string]wire.Session),
		events:   make(map[string][]wire.SpaceEvent),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) StoreTimite(t wire.Timite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timites[t.ID] = t
	return nil
}

func (s *MemoryStore) FetchTimite(id uint64) (wire.Timite, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timites[id]
	return t, ok, nil
}

func (s *MemoryStore) MaxTimiteID() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	for id := range s.timites {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *MemoryStore) StoreSession(sess wire.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key] = sess
	return nil
}

func (s *MemoryStore) FetchSession(key string) (wire.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok, nil
}

func (s *MemoryStore) AppendEvent(space string, e wire.SpaceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[space] = append(s.events[space], e)
	return nil
}

func (s *MemoryStore) FetchEvents(space string, offset uint64, size uint32) ([]wire.SpaceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]wire.SpaceEvent, 0, size)
	for _, e := range s.events[space] {
		if e.Metadata.ID < offset {
			continue
		}
		events = append(events, e)
		if uint32(len(events)) >= size {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) EventCount(space string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events[space])), nil
}

func (s *MemoryStore) MaxEventID(space string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[space]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Metadata.ID, nil
}
