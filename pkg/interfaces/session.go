package interfaces

import (
	"context"

	"learnsession/pkg/types"
)

// SessionLookup is the read-only view of the session store that collaborating
// components need. Returned sessions are snapshots, never live references.
type SessionLookup interface {
	// GetSession returns a snapshot of an open or archived session
	GetSession(ctx context.Context, sessionID string) (*types.LearningSession, error)
}

// SessionRecorder lets evidence producers feed interaction tallies back into
// an open session's statistics
type SessionRecorder interface {
	RecordInteractions(ctx context.Context, sessionID string, count int, averageResponseTime float64) error
}

// SessionManager handles learning session lifecycle operations
// ARCHITECTURAL DISCOVERY: Context-first design pattern keeps cancellation and
// tracing uniform across all lifecycle operations
type SessionManager interface {
	SessionLookup
	SessionRecorder

	// CreateSession opens a session in not_started state.
	// FUNCTIONAL DISCOVERY: Age bracket is resolved once here and the pacing
	// policy copied so later policy changes never touch open sessions
	CreateSession(ctx context.Context, req types.CreateSessionRequest) (*types.LearningSession, error)

	StartSession(ctx context.Context, sessionID string) (*types.LearningSession, error)
	PauseSession(ctx context.Context, sessionID string) (*types.LearningSession, error)
	ResumeSession(ctx context.Context, sessionID string) (*types.LearningSession, error)
	StartBreak(ctx context.Context, sessionID string) (*types.LearningSession, error)
	CompleteSession(ctx context.Context, sessionID string) (*types.LearningSession, error)
	AbandonSession(ctx context.Context, sessionID string) (*types.LearningSession, error)

	// UpdateObjectiveProgress applies a partial update to one objective
	UpdateObjectiveProgress(ctx context.Context, sessionID, objectiveID string, update types.ObjectiveUpdate) (*types.LearningSession, error)

	// AddProgressMarker appends a free-text breadcrumb
	AddProgressMarker(ctx context.Context, sessionID, description, objectiveID string, metadata *types.MarkerMetadata) (*types.ProgressMarker, error)

	// AcknowledgeBreakReminder marks a reminder as seen by the child
	AcknowledgeBreakReminder(ctx context.Context, sessionID string, index int) (*types.LearningSession, error)

	// ListActiveSessions returns the non-terminal sessions of one child
	ListActiveSessions(ctx context.Context, childID string) ([]*types.LearningSession, error)

	// SearchSessions filters open and archived sessions with offset/limit paging
	SearchSessions(ctx context.Context, filter types.SessionFilter) (*types.SessionPage, error)
}
