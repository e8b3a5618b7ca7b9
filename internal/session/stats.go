package session

import (
	"math"
	"time"

	"learnsession/pkg/types"
)

// Engagement weights and the interaction target are fixed policy constants.
const (
	weightCompletion   = 40.0
	weightInteraction  = 30.0
	weightBreaks       = 20.0
	weightBonus        = 10.0
	completionBonus    = 10.0
	interactionsPerMin = 2.0
	needsReviewBelow   = 0.7
)

// Recompute derives a session's statistics from first principles. It is the
// only place statistics are computed; every mutation path calls it.
func Recompute(s *types.LearningSession, now time.Time) types.SessionStatistics {
	var stats types.SessionStatistics

	if s.StartedAt != nil {
		end := now
		if s.CompletedAt != nil {
			end = *s.CompletedAt
		}
		stats.TotalDuration = max(0, end.Sub(*s.StartedAt).Milliseconds())
	}

	stats.BreakDuration = s.TotalBreakTime
	if s.State == types.StateBreak && s.CurrentBreakStart != nil {
		stats.BreakDuration += max(0, now.Sub(*s.CurrentBreakStart).Milliseconds())
	}
	stats.ActiveDuration = max(0, stats.TotalDuration-stats.BreakDuration)

	for _, obj := range s.LearningObjectives {
		if obj.Completed {
			stats.ObjectivesCompleted++
		}
		if obj.Attempts > 0 {
			stats.ObjectivesAttempted++
		}
	}

	var weightedResponse float64
	for _, sample := range s.Interactions {
		stats.InteractionCount += sample.Count
		weightedResponse += sample.AverageResponseTime * float64(sample.Count)
	}
	if stats.InteractionCount > 0 {
		stats.AverageResponseTime = weightedResponse / float64(stats.InteractionCount)
	}

	stats.CompletionRate = completionRate(stats.ObjectivesCompleted, len(s.LearningObjectives))

	acknowledged := 0
	for _, r := range s.BreakReminders {
		if r.Acknowledged {
			acknowledged++
		}
	}
	stats.EngagementScore = EngagementScore(
		stats.CompletionRate,
		stats.InteractionCount,
		stats.ActiveDuration,
		acknowledged,
		len(s.BreakReminders),
		s.State == types.StateCompleted,
	)

	return stats
}

// completionRate is completed/total; a session without objectives counts as complete
func completionRate(completed, total int) float64 {
	if total == 0 {
		return 1
	}
	rate := float64(completed) / float64(total)
	return math.Min(1, math.Max(0, rate))
}

// EngagementScore combines completion, interaction density and break
// compliance into a 0-100 integer, rounded half up.
func EngagementScore(completionRate float64, interactions int, activeMillis int64, acknowledged, reminders int, completed bool) int {
	activeMinutes := float64(activeMillis) / float64(time.Minute.Milliseconds())
	target := math.Max(1, activeMinutes*interactionsPerMin)
	interactionRatio := math.Min(1, float64(interactions)/target)

	breakRatio := float64(acknowledged) / float64(max(1, reminders))

	bonus := 0.0
	if completed {
		bonus = completionBonus
	}

	score := weightCompletion*completionRate +
		weightInteraction*interactionRatio +
		weightBreaks*breakRatio +
		weightBonus*bonus

	rounded := int(math.Floor(score + 0.5))
	return min(100, max(0, rounded))
}
