package session

import (
	"context"
	"log"

	"learnsession/internal/hub"
	"learnsession/internal/policy"
	"learnsession/pkg/types"
)

// requiredState is the state a session must still be in for a fired timer to act
var requiredState = map[policy.ReminderPurpose]types.SessionState{
	policy.PurposeWarning:  types.StateActive,
	policy.PurposeBreak:    types.StateActive,
	policy.PurposeBreakEnd: types.StateBreak,
}

// HandleTimerEvent applies a break-scheduler firing. Stale firings (session
// gone, no longer in the state the timer was armed for, or re-armed since the
// event was queued) are no-ops.
func (m *Manager) HandleTimerEvent(ctx context.Context, evt hub.TimerEvent) {
	purpose := policy.ReminderPurpose(evt.Purpose)
	want, known := requiredState[purpose]
	if !known {
		log.Printf("Ignoring timer event with unknown purpose: key=%s", evt.Key())
		return
	}

	e, ok := m.store.lookupActive(evt.SessionID)
	if !ok {
		log.Printf("Ignoring timer event for closed session: key=%s", evt.Key())
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State != want {
		log.Printf("Ignoring stale timer event: key=%s state=%s", evt.Key(), e.session.State)
		return
	}
	if !m.scheduler.Current(evt) {
		log.Printf("Ignoring superseded timer event: key=%s generation=%d", evt.Key(), evt.Generation)
		return
	}

	now := m.now()
	work := e.session.Clone()
	work.BreakReminders = append(work.BreakReminders, types.BreakReminder{
		TriggerTime:  now,
		ReminderType: policy.ReminderType(purpose),
		Message:      policy.ReminderMessage(work.AgeGroup, purpose),
	})

	if purpose == policy.PurposeBreak {
		m.beginBreak(work, now, "Break started automatically")
	}

	work.Statistics = Recompute(work, now)
	e.session = work
	log.Printf("Break reminder issued: session=%s purpose=%s state=%s", work.ID, purpose, work.State)
}
