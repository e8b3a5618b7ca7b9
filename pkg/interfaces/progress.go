package interfaces

import (
	"context"

	"learnsession/pkg/types"
)

// AgeResolver maps a child to the age bracket that selects pacing policy
type AgeResolver interface {
	GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error)
}

// ProgressTracker is the downstream progress-tracking collaborator.
// FUNCTIONAL DISCOVERY: Every method may block on network or disk and may
// fail; callers must never let a failure here corrupt in-memory session state
type ProgressTracker interface {
	// TrackSessionProgress consolidates a completed session with its buffered evidence
	TrackSessionProgress(ctx context.Context, session *types.LearningSession, voice []types.VoiceInteractionRecord, photos []types.PhotoAssessmentRecord) (*types.ProgressSummary, error)

	// AddVoiceInteractionData forwards one voice record for real-time visibility
	AddVoiceInteractionData(ctx context.Context, sessionID string, record types.VoiceInteractionRecord) error

	// AddPhotoAssessmentResult forwards one photo assessment for real-time visibility
	AddPhotoAssessmentResult(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord) error
}
