package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"learnsession/internal/tracing"
	"learnsession/pkg/types"
)

// mutate applies a content change to an open session. The change runs on a
// copy and is committed only if it returns nil, so failures leave no trace.
func (m *Manager) mutate(ctx context.Context, op, sessionID string, change func(*types.LearningSession, time.Time) error) (*types.LearningSession, error) {
	_, span := m.tracer.Start(ctx, tracing.SpanPrefixSession+op,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer span.End()

	e, ok := m.store.lookup(sessionID)
	if !ok {
		tracing.RecordError(span, ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State.IsTerminal() {
		err := fmt.Errorf("%w: %s is %s", ErrSessionClosed, sessionID, e.session.State)
		tracing.RecordError(span, err)
		return nil, err
	}

	now := m.now()
	work := e.session.Clone()
	if err := change(work, now); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	work.Statistics = Recompute(work, now)
	e.session = work
	return work.Clone(), nil
}

// UpdateObjectiveProgress applies a partial update to one objective and
// records a progress marker for it
func (m *Manager) UpdateObjectiveProgress(ctx context.Context, sessionID, objectiveID string, update types.ObjectiveUpdate) (*types.LearningSession, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	return m.mutate(ctx, "objective_update", sessionID, func(sess *types.LearningSession, now time.Time) error {
		idx := -1
		for i := range sess.LearningObjectives {
			if sess.LearningObjectives[i].ID == objectiveID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrObjectiveNotFound, objectiveID)
		}
		obj := &sess.LearningObjectives[idx]

		description := fmt.Sprintf("Objective progress updated: %s", objectiveLabel(obj))
		if update.Completed != nil {
			switch {
			case *update.Completed && !obj.Completed:
				completedAt := now
				obj.Completed = true
				obj.CompletedAt = &completedAt
				description = fmt.Sprintf("Objective completed: %s", objectiveLabel(obj))
			case !*update.Completed && obj.Completed:
				obj.Completed = false
				obj.CompletedAt = nil
				description = fmt.Sprintf("Objective reopened: %s", objectiveLabel(obj))
			}
		}
		if update.Attempts != nil {
			obj.Attempts = *update.Attempts
		}

		metadata := &types.MarkerMetadata{DemonstratedSkill: obj.Topic}
		if update.SuccessRate != nil {
			obj.SuccessRate = *update.SuccessRate
			metadata.Confidence = *update.SuccessRate
			metadata.NeedsReview = *update.SuccessRate < needsReviewBelow
		}

		appendMarker(sess, now, description, obj.ID, metadata)
		return nil
	})
}

func objectiveLabel(obj *types.LearningObjective) string {
	if obj.Description != "" {
		return obj.Description
	}
	if obj.Topic != "" {
		return obj.Topic
	}
	return obj.ID
}

// AddProgressMarker appends a caller-supplied breadcrumb to an open session
func (m *Manager) AddProgressMarker(ctx context.Context, sessionID, description, objectiveID string, metadata *types.MarkerMetadata) (*types.ProgressMarker, error) {
	var marker types.ProgressMarker
	_, err := m.mutate(ctx, "marker", sessionID, func(sess *types.LearningSession, now time.Time) error {
		if objectiveID != "" && !hasObjective(sess, objectiveID) {
			return fmt.Errorf("%w: %s", ErrObjectiveNotFound, objectiveID)
		}
		marker = appendMarker(sess, now, description, objectiveID, metadata)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func hasObjective(sess *types.LearningSession, objectiveID string) bool {
	for _, obj := range sess.LearningObjectives {
		if obj.ID == objectiveID {
			return true
		}
	}
	return false
}

// RecordInteractions adds a batch of child interactions to an open session
func (m *Manager) RecordInteractions(ctx context.Context, sessionID string, count int, averageResponseTime float64) error {
	if count <= 0 {
		return ErrInvalidInteractions
	}
	_, err := m.mutate(ctx, "interactions", sessionID, func(sess *types.LearningSession, now time.Time) error {
		sess.Interactions = append(sess.Interactions, types.InteractionSample{
			RecordedAt:          now,
			Count:               count,
			AverageResponseTime: averageResponseTime,
		})
		appendMarker(sess, now, fmt.Sprintf("Recorded %d interactions", count), "", &types.MarkerMetadata{InteractionCount: count})
		return nil
	})
	return err
}

// AcknowledgeBreakReminder marks one reminder as seen. Acknowledging twice
// keeps the first acknowledgement time.
func (m *Manager) AcknowledgeBreakReminder(ctx context.Context, sessionID string, index int) (*types.LearningSession, error) {
	return m.mutate(ctx, "reminder_ack", sessionID, func(sess *types.LearningSession, now time.Time) error {
		if index < 0 || index >= len(sess.BreakReminders) {
			return fmt.Errorf("%w: index %d", ErrReminderNotFound, index)
		}
		r := &sess.BreakReminders[index]
		if r.Acknowledged {
			return nil
		}
		ackAt := now
		r.Acknowledged = true
		r.AcknowledgedAt = &ackAt
		sess.LastActivity = now
		return nil
	})
}
