package database

import (
	"sort"
	"time"

	"learnsession/pkg/types"
)

// reviewBelow is the success rate under which an unfinished objective is
// flagged for review
const reviewBelow = 0.7

// BuildSummary consolidates a session's statistics with its buffered
// evidence. Averages are plain means over the records supplied.
func BuildSummary(sess *types.LearningSession, voice []types.VoiceInteractionRecord, photos []types.PhotoAssessmentRecord, now time.Time) *types.ProgressSummary {
	summary := &types.ProgressSummary{
		SessionID:           sess.ID,
		ChildID:             sess.ChildID,
		SessionType:         sess.SessionType,
		Subject:             sess.Subject,
		ObjectivesCompleted: sess.Statistics.ObjectivesCompleted,
		ObjectivesAttempted: sess.Statistics.ObjectivesAttempted,
		CompletionRate:      sess.Statistics.CompletionRate,
		EngagementScore:     sess.Statistics.EngagementScore,
		ActiveDuration:      sess.Statistics.ActiveDuration,
		PhotoAssessments:    len(photos),
		RecordedAt:          now,
	}

	skills := make(map[string]struct{})

	var confidence float64
	for _, v := range voice {
		summary.VoiceInteractions += v.InteractionCount
		confidence += v.Confidence
		for _, s := range v.Skills {
			skills[s] = struct{}{}
		}
	}
	if len(voice) > 0 {
		summary.AverageConfidence = confidence / float64(len(voice))
	}

	var correctness float64
	for _, p := range photos {
		correctness += p.CorrectnessScore
		for _, s := range p.SkillsAssessed {
			skills[s] = struct{}{}
		}
	}
	if len(photos) > 0 {
		summary.AverageCorrectness = correctness / float64(len(photos))
	}

	for _, marker := range sess.ProgressMarkers {
		if marker.Metadata != nil && marker.Metadata.DemonstratedSkill != "" {
			skills[marker.Metadata.DemonstratedSkill] = struct{}{}
		}
	}

	summary.SkillsDemonstrated = make([]string, 0, len(skills))
	for s := range skills {
		summary.SkillsDemonstrated = append(summary.SkillsDemonstrated, s)
	}
	sort.Strings(summary.SkillsDemonstrated)

	summary.NeedsReview = []string{}
	for _, obj := range sess.LearningObjectives {
		if !obj.Completed && obj.Attempts > 0 && obj.SuccessRate < reviewBelow {
			summary.NeedsReview = append(summary.NeedsReview, obj.ID)
		}
	}

	return summary
}
