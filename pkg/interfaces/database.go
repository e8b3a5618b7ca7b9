package interfaces

import (
	"context"

	"learnsession/pkg/types"
)

// DatabaseManager handles all persistence operations
// ARCHITECTURAL DISCOVERY: Progress evidence and the child registry share one
// store so a single writer goroutine serializes every write
type DatabaseManager interface {
	ProgressTracker
	AgeResolver

	// UpsertChild records or updates a child's age bracket
	UpsertChild(ctx context.Context, childID string, ageGroup types.AgeGroup) error

	// GetProgressSummary returns the consolidated summary of one session
	GetProgressSummary(ctx context.Context, sessionID string) (*types.ProgressSummary, error)

	// ListChildProgress returns a child's summaries, newest first
	ListChildProgress(ctx context.Context, childID string) ([]*types.ProgressSummary, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
