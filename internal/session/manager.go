package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"learnsession/internal/hub"
	"learnsession/internal/policy"
	"learnsession/internal/tracing"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// BreakScheduler arms and cancels the per-session break timers
type BreakScheduler interface {
	Arm(sessionID string, cfg types.SessionTimingConfig, settings types.SessionSettings)
	ArmBreakEnd(sessionID string, cfg types.SessionTimingConfig, settings types.SessionSettings)
	Cancel(sessionID string)
	// Current reports whether a fired event belongs to the latest arming
	Current(evt hub.TimerEvent) bool
}

// CompletionListener is notified after a session reaches completed state.
// It runs outside the session lock.
type CompletionListener func(ctx context.Context, sessionID string)

// DefaultArchiveRetention is how long terminal sessions stay queryable
const DefaultArchiveRetention = 24 * time.Hour

// legalFrom lists the states each event may be issued from
var legalFrom = map[Event][]types.SessionState{
	EventStart:      {types.StateNotStarted},
	EventPause:      {types.StateActive},
	EventResume:     {types.StatePaused, types.StateBreak},
	EventStartBreak: {types.StateActive},
	EventComplete:   {types.StateActive, types.StatePaused, types.StateBreak},
	EventAbandon:    {types.StateActive, types.StatePaused, types.StateBreak},
}

// Manager implements the SessionManager interface
type Manager struct {
	resolver  interfaces.AgeResolver
	scheduler BreakScheduler
	store     *Store
	now       func() time.Time
	tracer    trace.Tracer
	retention time.Duration

	listenersMu sync.RWMutex
	listeners   []CompletionListener
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTracer overrides the tracer used for lifecycle spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithArchiveRetention sets how long terminal sessions stay readable
func WithArchiveRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// NewManager creates a new session manager
func NewManager(resolver interfaces.AgeResolver, scheduler BreakScheduler, opts ...Option) *Manager {
	m := &Manager{
		resolver:  resolver,
		scheduler: scheduler,
		store:     NewStore(),
		now:       time.Now,
		tracer:    otel.Tracer(tracing.TracerName),
		retention: DefaultArchiveRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnCompleted registers a listener invoked after every successful completion
func (m *Manager) OnCompleted(l CompletionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// CreateSession creates a new session in not_started state
func (m *Manager) CreateSession(ctx context.Context, req types.CreateSessionRequest) (*types.LearningSession, error) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanPrefixSession+"create",
		trace.WithAttributes(attribute.String(tracing.AttrChildID, req.ChildID)))
	defer span.End()

	if err := req.Validate(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	ageGroup, err := m.resolver.GetAgeGroup(ctx, req.ChildID)
	if err != nil {
		err = fmt.Errorf("%w: child %s: %v", ErrPolicyResolutionFailed, req.ChildID, err)
		tracing.RecordError(span, err)
		return nil, err
	}
	timing, err := policy.TimingFor(ageGroup)
	if err != nil {
		err = fmt.Errorf("%w: child %s: %v", ErrPolicyResolutionFailed, req.ChildID, err)
		tracing.RecordError(span, err)
		return nil, err
	}

	now := m.now()
	settings := types.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	sess := &types.LearningSession{
		ID:                 uuid.New().String(),
		ChildID:            req.ChildID,
		AgeGroup:           ageGroup,
		SessionType:        req.SessionType,
		Title:              req.Title,
		Subject:            req.Subject,
		Topic:              req.Topic,
		Tags:               append([]string(nil), req.Tags...),
		State:              types.StateNotStarted,
		CreatedAt:          now,
		LastActivity:       now,
		TimingConfig:       timing,
		LearningObjectives: make([]types.LearningObjective, 0, len(req.Objectives)),
		ProgressMarkers:    []types.ProgressMarker{},
		BreakReminders:     []types.BreakReminder{},
		Settings:           settings,
	}

	for i, tmpl := range req.Objectives {
		sess.LearningObjectives = append(sess.LearningObjectives, newObjective(sess.ID, i, tmpl, now))
	}
	sess.Statistics = Recompute(sess, now)

	m.store.add(sess)
	span.SetAttributes(attribute.String(tracing.AttrSessionID, sess.ID), attribute.String(tracing.AttrAgeGroup, string(ageGroup)))

	log.Printf("Created session: id=%s child=%s type=%s age_group=%s objectives=%d",
		sess.ID, sess.ChildID, sess.SessionType, ageGroup, len(sess.LearningObjectives))
	return sess.Clone(), nil
}

// newObjective turns a template into an objective with a deterministic id
func newObjective(sessionID string, index int, tmpl types.ObjectiveTemplate, now time.Time) types.LearningObjective {
	obj := types.LearningObjective{
		ID:          fmt.Sprintf("%s-obj-%d", sessionID, index),
		Subject:     tmpl.Subject,
		Topic:       tmpl.Topic,
		Description: tmpl.Description,
		TargetLevel: tmpl.TargetLevel,
		Completed:   tmpl.Completed,
		Attempts:    tmpl.Attempts,
	}
	if obj.TargetLevel == 0 {
		obj.TargetLevel = 5
	}
	if tmpl.SuccessRate != nil {
		obj.SuccessRate = *tmpl.SuccessRate
	}
	if obj.Completed {
		completedAt := now
		obj.CompletedAt = &completedAt
	}
	return obj
}

// StartSession moves a not_started session to active and arms break timers
func (m *Manager) StartSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	return m.transition(ctx, sessionID, EventStart, func(sess *types.LearningSession, now time.Time) {
		started := now
		sess.StartedAt = &started
		sess.State = types.StateActive
		appendMarker(sess, now, "Session started", "", nil)
		m.scheduler.Arm(sess.ID, sess.TimingConfig, sess.Settings)
	})
}

// PauseSession moves an active session to paused
func (m *Manager) PauseSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	return m.transition(ctx, sessionID, EventPause, func(sess *types.LearningSession, now time.Time) {
		m.scheduler.Cancel(sess.ID)
		sess.State = types.StatePaused
		appendMarker(sess, now, "Session paused", "", nil)
	})
}

// ResumeSession returns a paused or on-break session to active
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	return m.transition(ctx, sessionID, EventResume, func(sess *types.LearningSession, now time.Time) {
		fromBreak := sess.State == types.StateBreak
		endBreak(sess, now)
		sess.State = types.StateActive
		if fromBreak {
			appendMarker(sess, now, "Session resumed after break", "", nil)
		} else {
			appendMarker(sess, now, "Session resumed", "", nil)
		}
		m.scheduler.Arm(sess.ID, sess.TimingConfig, sess.Settings)
	})
}

// StartBreak moves an active session into break and arms the break-end timer
func (m *Manager) StartBreak(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	return m.transition(ctx, sessionID, EventStartBreak, func(sess *types.LearningSession, now time.Time) {
		m.beginBreak(sess, now, "Break started")
	})
}

// CompleteSession finalizes a session and removes it from the active store.
// Completion listeners run after the session lock is released.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	sess, err := m.transition(ctx, sessionID, EventComplete, func(sess *types.LearningSession, now time.Time) {
		m.scheduler.Cancel(sess.ID)
		endBreak(sess, now)
		completed := now
		sess.CompletedAt = &completed
		sess.State = types.StateCompleted
		appendMarker(sess, now, "Session completed", "", nil)
	})
	if err != nil {
		return nil, err
	}

	m.store.archive(sessionID)
	log.Printf("Completed session: id=%s child=%s completion_rate=%.2f engagement=%d",
		sess.ID, sess.ChildID, sess.Statistics.CompletionRate, sess.Statistics.EngagementScore)

	m.listenersMu.RLock()
	listeners := append([]CompletionListener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	// the session is already archived; a caller that goes away must not
	// cancel the progress flush
	flushCtx := context.WithoutCancel(ctx)
	for _, l := range listeners {
		l(flushCtx, sessionID)
	}

	return sess, nil
}

// AbandonSession ends a session without completing it
func (m *Manager) AbandonSession(ctx context.Context, sessionID string) (*types.LearningSession, error) {
	sess, err := m.transition(ctx, sessionID, EventAbandon, func(sess *types.LearningSession, now time.Time) {
		m.scheduler.Cancel(sess.ID)
		endBreak(sess, now)
		sess.State = types.StateAbandoned
		appendMarker(sess, now, "Session abandoned", "", nil)
	})
	if err != nil {
		return nil, err
	}

	m.store.archive(sessionID)
	log.Printf("Abandoned session: id=%s child=%s", sess.ID, sess.ChildID)
	return sess, nil
}

// transition validates an event against the session's state and applies it.
// Work happens on a copy that replaces the stored session only on success.
func (m *Manager) transition(ctx context.Context, sessionID string, event Event, apply func(*types.LearningSession, time.Time)) (*types.LearningSession, error) {
	_, span := m.tracer.Start(ctx, tracing.SpanPrefixSession+string(event),
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer span.End()

	e, ok := m.store.lookup(sessionID)
	if !ok {
		tracing.RecordError(span, ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !isLegal(event, e.session.State) {
		err := &TransitionError{SessionID: sessionID, From: e.session.State, Event: event}
		tracing.RecordError(span, err)
		return nil, err
	}

	now := m.now()
	work := e.session.Clone()
	from := work.State
	apply(work, now)
	work.Statistics = Recompute(work, now)
	e.session = work

	span.SetAttributes(attribute.String(tracing.AttrSessionState, string(work.State)))
	log.Printf("Session transition: id=%s event=%s from=%s to=%s", sessionID, event, from, work.State)
	return work.Clone(), nil
}

// beginBreak puts an active session on break; caller holds the session lock
func (m *Manager) beginBreak(sess *types.LearningSession, now time.Time, description string) {
	breakStart := now
	sess.CurrentBreakStart = &breakStart
	sess.State = types.StateBreak
	appendMarker(sess, now, description, "", nil)
	m.scheduler.ArmBreakEnd(sess.ID, sess.TimingConfig, sess.Settings)
}

// endBreak folds an ongoing break into totalBreakTime. It is the only writer
// of TotalBreakTime, and only acts when leaving break state.
func endBreak(sess *types.LearningSession, now time.Time) {
	if sess.State != types.StateBreak || sess.CurrentBreakStart == nil {
		return
	}
	sess.TotalBreakTime += max(0, now.Sub(*sess.CurrentBreakStart).Milliseconds())
	sess.CurrentBreakStart = nil
}

func isLegal(event Event, state types.SessionState) bool {
	for _, s := range legalFrom[event] {
		if s == state {
			return true
		}
	}
	return false
}

// appendMarker is the single append primitive for progress markers.
// It stamps a fresh id and timestamp and bumps lastActivity.
func appendMarker(sess *types.LearningSession, now time.Time, description, objectiveID string, metadata *types.MarkerMetadata) types.ProgressMarker {
	marker := types.ProgressMarker{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Description: description,
		ObjectiveID: objectiveID,
	}
	if metadata != nil {
		md := *metadata
		marker.Metadata = &md
	}
	sess.ProgressMarkers = append(sess.ProgressMarkers, marker)
	sess.LastActivity = now
	return marker
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	active, archived := m.store.counts()
	return map[string]interface{}{
		"active_sessions":   active,
		"archived_sessions": archived,
	}
}
