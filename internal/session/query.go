package session

import (
	"context"
	"log"
	"time"

	"learnsession/pkg/types"
)

// Search page size limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// GetSession returns a copy of an open or archived session
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	e, ok := m.store.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// ListActiveSessions returns open sessions, optionally for a single child.
// An empty childID lists every open session.
func (m *Manager) ListActiveSessions(ctx context.Context, childID string) ([]*types.LearningSession, error) {
	return m.store.snapshots(false, func(s *types.LearningSession) bool {
		return childID == "" || s.ChildID == childID
	}), nil
}

// SearchSessions filters open and archived sessions and returns one page
func (m *Manager) SearchSessions(ctx context.Context, filter types.SessionFilter) (*types.SessionPage, error) {
	matches := m.store.snapshots(true, func(s *types.LearningSession) bool {
		return matchesFilter(s, filter)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset := min(max(filter.Offset, 0), len(matches))
	end := min(offset+limit, len(matches))

	return &types.SessionPage{
		Sessions: matches[offset:end],
		Total:    len(matches),
		Offset:   offset,
		Limit:    limit,
	}, nil
}

func matchesFilter(s *types.LearningSession, f types.SessionFilter) bool {
	if f.ChildID != "" && s.ChildID != f.ChildID {
		return false
	}
	if f.SessionType != "" && s.SessionType != f.SessionType {
		return false
	}
	if f.State != "" && s.State != f.State {
		return false
	}
	if f.Subject != "" && s.Subject != f.Subject {
		return false
	}
	if f.Topic != "" && s.Topic != f.Topic {
		return false
	}
	if f.From != nil && s.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.CreatedAt.After(*f.To) {
		return false
	}
	for _, want := range f.Tags {
		if !hasTag(s.Tags, want) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// PruneArchive drops terminal sessions whose last activity is older than the
// archive retention. It returns the number removed.
func (m *Manager) PruneArchive(now time.Time) int {
	cutoff := now.Add(-m.retention)
	var expired []string
	for _, e := range m.store.archivedEntries() {
		e.mu.Lock()
		if e.session.LastActivity.Before(cutoff) {
			expired = append(expired, e.session.ID)
		}
		e.mu.Unlock()
	}
	for _, id := range expired {
		m.store.remove(id)
	}
	if len(expired) > 0 {
		log.Printf("Pruned %d archived sessions older than %v", len(expired), m.retention)
	}
	return len(expired)
}
