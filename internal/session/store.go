package session

import (
	"sort"
	"sync"
)

// Store is the in-memory table of live sessions. It holds data only; the casting
// router enforces every invariant.
type Store interface {
	Get(id RoomID) (Session, bool)
	Put(s Session)
	Delete(id RoomID)
	// List returns a point-in-time copy of every session, ordered by room id.
	List() []Session
	Len() int
}

// InMemoryStore is a concurrency-safe Store. Values are copied on the way in and
// out, so callers never share slices with the table.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[RoomID]Session
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[RoomID]Session)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id RoomID) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.Clone(), true
}

// Put implements Store.Put. The session is keyed by its RoomID.
func (s *InMemoryStore) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.RoomID] = sess.Clone()
}

// Delete implements Store.Delete. Deleting a missing room is a no-op.
func (s *InMemoryStore) Delete(id RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List implements Store.List.
func (s *InMemoryStore) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// FindByCaster returns the session whose caster is connID, if any.
func FindByCaster(store Store, connID string) (Session, bool) {
	for _, sess := range store.List() {
		if sess.CasterID == connID {
			return sess, true
		}
	}
	return Session{}, false
}
