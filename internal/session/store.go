package session

import (
	"sort"
	"sync"

	"learnsession/pkg/types"
)

// entry owns one session and the lock that serializes every writer to it
type entry struct {
	mu      sync.Mutex
	session *types.LearningSession
}

// Store is the single owner of session instances. Open sessions live in the
// active map; completed and abandoned ones move to the archive where they
// stay readable until pruned.
//
// Lock order: an entry lock may be held while taking the store lock, never
// the other way round.
type Store struct {
	mu       sync.RWMutex
	active   map[string]*entry
	archived map[string]*entry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		active:   make(map[string]*entry),
		archived: make(map[string]*entry),
	}
}

// add registers a freshly created session as active
func (s *Store) add(sess *types.LearningSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sess.ID] = &entry{session: sess}
}

// lookup finds an entry in either map
func (s *Store) lookup(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.active[sessionID]; ok {
		return e, true
	}
	e, ok := s.archived[sessionID]
	return e, ok
}

// lookupActive finds an entry only among open sessions
func (s *Store) lookupActive(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.active[sessionID]
	return e, ok
}

// archive moves a session out of the active map
func (s *Store) archive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.active[sessionID]; ok {
		delete(s.active, sessionID)
		s.archived[sessionID] = e
	}
}

// remove drops a session entirely
func (s *Store) remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
	delete(s.archived, sessionID)
}

// entries copies entry pointers so callers can lock them without the store lock
func (s *Store) entries(includeArchived bool) []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry, 0, len(s.active)+len(s.archived))
	for _, e := range s.active {
		out = append(out, e)
	}
	if includeArchived {
		for _, e := range s.archived {
			out = append(out, e)
		}
	}
	return out
}

// snapshots returns deep copies of the selected sessions, newest first
func (s *Store) snapshots(includeArchived bool, keep func(*types.LearningSession) bool) []*types.LearningSession {
	var out []*types.LearningSession
	for _, e := range s.entries(includeArchived) {
		e.mu.Lock()
		if keep == nil || keep(e.session) {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// archivedEntries copies the archived entry pointers
func (s *Store) archivedEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.archived))
	for _, e := range s.archived {
		out = append(out, e)
	}
	return out
}

// counts returns the number of active and archived sessions
func (s *Store) counts() (active, archived int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active), len(s.archived)
}
