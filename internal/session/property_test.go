package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"learnsession/internal/policy"
	"learnsession/pkg/types"
)

// TestSessionInvariants drives random operation sequences against one session
// and checks the aggregate invariants after every step.
func TestSessionInvariants(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		clock := newFakeClock()
		resolver := &mapResolver{groups: map[string]types.AgeGroup{"child-a": types.AgeGroup6to9}}
		m := NewManager(resolver, &recordingScheduler{}, WithClock(clock.Now))
		ctx := context.Background()

		objectives := rapid.IntRange(0, 4).Draw(r, "objectives")
		sess, err := m.CreateSession(ctx, lessonRequest("child-a", objectives))
		if err != nil {
			r.Fatalf("create: %v", err)
		}
		id := sess.ID
		prev := sess

		ops := []string{"start", "pause", "resume", "break", "complete", "abandon",
			"objective", "interactions", "ack", "warning", "break-timer", "break-end", "tick"}

		steps := rapid.IntRange(1, 40).Draw(r, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom(ops).Draw(r, "op")
			switch op {
			case "start":
				_, err = m.StartSession(ctx, id)
			case "pause":
				_, err = m.PauseSession(ctx, id)
			case "resume":
				_, err = m.ResumeSession(ctx, id)
			case "break":
				_, err = m.StartBreak(ctx, id)
			case "complete":
				_, err = m.CompleteSession(ctx, id)
			case "abandon":
				_, err = m.AbandonSession(ctx, id)
			case "objective":
				if objectives == 0 {
					continue
				}
				idx := rapid.IntRange(0, objectives-1).Draw(r, "objective")
				_, err = m.UpdateObjectiveProgress(ctx, id, prev.LearningObjectives[idx].ID, types.ObjectiveUpdate{
					Completed: boolPtr(rapid.Bool().Draw(r, "completed")),
					Attempts:  intPtr(rapid.IntRange(0, 5).Draw(r, "attempts")),
				})
			case "interactions":
				err = m.RecordInteractions(ctx, id, rapid.IntRange(1, 20).Draw(r, "count"), 1.0)
			case "ack":
				_, err = m.AcknowledgeBreakReminder(ctx, id, rapid.IntRange(0, 3).Draw(r, "reminder"))
			case "warning":
				fireTimer(m, id, policy.PurposeWarning)
			case "break-timer":
				fireTimer(m, id, policy.PurposeBreak)
			case "break-end":
				fireTimer(m, id, policy.PurposeBreakEnd)
			case "tick":
				clock.Advance(time.Duration(rapid.IntRange(1, 600).Draw(r, "seconds")) * time.Second)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) &&
				!errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrReminderNotFound) {
				r.Fatalf("%s: unexpected error %v", op, err)
			}
			err = nil

			cur, gerr := m.GetSession(ctx, id)
			if gerr != nil {
				r.Fatalf("get after %s: %v", op, gerr)
			}
			checkInvariants(r, prev, cur)
			prev = cur
		}
	})
}

func checkInvariants(r *rapid.T, prev, cur *types.LearningSession) {
	stats := cur.Statistics
	if stats.ObjectivesCompleted > len(cur.LearningObjectives) {
		r.Fatalf("objectivesCompleted %d > %d objectives", stats.ObjectivesCompleted, len(cur.LearningObjectives))
	}
	if stats.CompletionRate < 0 || stats.CompletionRate > 1 {
		r.Fatalf("completionRate %v out of range", stats.CompletionRate)
	}
	if stats.EngagementScore < 0 || stats.EngagementScore > 100 {
		r.Fatalf("engagementScore %d out of range", stats.EngagementScore)
	}
	if (cur.State == types.StateBreak) != (cur.CurrentBreakStart != nil) {
		r.Fatalf("state %s with currentBreakStart %v", cur.State, cur.CurrentBreakStart)
	}
	if cur.TotalBreakTime < prev.TotalBreakTime {
		r.Fatalf("totalBreakTime decreased from %d to %d", prev.TotalBreakTime, cur.TotalBreakTime)
	}
	if cur.StartedAt != nil && stats.ActiveDuration+stats.BreakDuration != stats.TotalDuration {
		r.Fatalf("active %d + break %d != total %d", stats.ActiveDuration, stats.BreakDuration, stats.TotalDuration)
	}
	if prev.State.IsTerminal() && cur.State != prev.State {
		r.Fatalf("terminal state %s changed to %s", prev.State, cur.State)
	}
	if len(cur.ProgressMarkers) < len(prev.ProgressMarkers) {
		r.Fatalf("progress markers shrank from %d to %d", len(prev.ProgressMarkers), len(cur.ProgressMarkers))
	}
	for i, marker := range prev.ProgressMarkers {
		if cur.ProgressMarkers[i].ID != marker.ID || cur.ProgressMarkers[i].Description != marker.Description {
			r.Fatalf("progress marker %d was rewritten", i)
		}
	}
}
