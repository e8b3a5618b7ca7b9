// Package integration buffers evidence produced by other subsystems while a
// session is open and hands it to the progress tracker once, on completion.
package integration

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"learnsession/internal/tracing"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// SessionSource is the slice of the session manager the buffer depends on
type SessionSource interface {
	interfaces.SessionLookup
	interfaces.SessionRecorder
}

// ProgressIntegration owns the pending evidence lists. It references
// sessions by id only and tolerates them disappearing from the store.
//
// mu is held across the session state check, the interaction count and the
// append, and across the final gather, so a record either lands (counted and
// buffered) before the flush or is forwarded without buffering.
type ProgressIntegration struct {
	sessions SessionSource
	tracker  interfaces.ProgressTracker
	tracer   trace.Tracer
	now      func() time.Time

	mu            sync.Mutex
	pendingVoice  map[string][]types.VoiceInteractionRecord
	pendingPhotos map[string][]types.PhotoAssessmentRecord
}

// Option configures a ProgressIntegration
type Option func(*ProgressIntegration)

// WithClock overrides the time source used by the cleanup sweep
func WithClock(now func() time.Time) Option {
	return func(p *ProgressIntegration) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTracer overrides the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(p *ProgressIntegration) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// NewProgressIntegration creates an empty buffer
func NewProgressIntegration(sessions SessionSource, tracker interfaces.ProgressTracker, opts ...Option) *ProgressIntegration {
	p := &ProgressIntegration{
		sessions:      sessions,
		tracker:       tracker,
		tracer:        otel.Tracer(tracing.TracerName),
		now:           time.Now,
		pendingVoice:  make(map[string][]types.VoiceInteractionRecord),
		pendingPhotos: make(map[string][]types.PhotoAssessmentRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// lookupLocked fetches the session; caller holds p.mu. A missing session is
// reported as ok=false and logged, never returned as an error.
func (p *ProgressIntegration) lookupLocked(ctx context.Context, sessionID, kind string) (*types.LearningSession, bool) {
	sess, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Printf("Dropping %s evidence for unknown session: id=%s", kind, sessionID)
		} else {
			log.Printf("Failed to look up session for %s evidence: id=%s error=%v", kind, sessionID, err)
		}
		return nil, false
	}
	return sess, true
}

// RecordVoiceInteraction buffers a voice record for an open session and
// forwards it to the tracker straight away
func (p *ProgressIntegration) RecordVoiceInteraction(ctx context.Context, sessionID string, record types.VoiceInteractionRecord) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanPrefixProgress+"voice",
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer span.End()

	p.mu.Lock()
	sess, ok := p.lookupLocked(ctx, sessionID, "voice")
	if !ok {
		p.mu.Unlock()
		return
	}
	if !sess.State.IsTerminal() && record.InteractionCount > 0 {
		if err := p.sessions.RecordInteractions(ctx, sessionID, record.InteractionCount, record.AverageResponseTime); err != nil {
			log.Printf("Failed to record interactions: id=%s error=%v", sessionID, err)
			// the session may have closed since the lookup
			if latest, ok := p.lookupLocked(ctx, sessionID, "voice"); ok {
				sess = latest
			}
		}
	}
	if sess.State != types.StateCompleted {
		p.pendingVoice[sessionID] = append(p.pendingVoice[sessionID], record)
	}
	p.mu.Unlock()

	span.SetAttributes(attribute.String(tracing.AttrSessionState, string(sess.State)))

	if err := p.tracker.AddVoiceInteractionData(ctx, sessionID, record); err != nil {
		tracing.RecordError(span, err)
		log.Printf("Failed to forward voice interaction: id=%s error=%v", sessionID, err)
	}
}

// RecordPhotoAssessment buffers a photo assessment for an open session and
// forwards it to the tracker straight away
func (p *ProgressIntegration) RecordPhotoAssessment(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanPrefixProgress+"photo",
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer span.End()

	p.mu.Lock()
	sess, ok := p.lookupLocked(ctx, sessionID, "photo")
	if !ok {
		p.mu.Unlock()
		return
	}
	if sess.State != types.StateCompleted {
		p.pendingPhotos[sessionID] = append(p.pendingPhotos[sessionID], record)
	}
	p.mu.Unlock()

	if err := p.tracker.AddPhotoAssessmentResult(ctx, sessionID, record); err != nil {
		tracing.RecordError(span, err)
		log.Printf("Failed to forward photo assessment: id=%s error=%v", sessionID, err)
	}
}

// OnSessionCompleted hands the session and everything buffered for it to the
// tracker, then forgets the buffer. Calling it again sends empty lists.
func (p *ProgressIntegration) OnSessionCompleted(ctx context.Context, sessionID string) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanPrefixProgress+"track",
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer span.End()

	p.mu.Lock()
	sess, ok := p.lookupLocked(ctx, sessionID, "final")
	voice := p.pendingVoice[sessionID]
	photos := p.pendingPhotos[sessionID]
	delete(p.pendingVoice, sessionID)
	delete(p.pendingPhotos, sessionID)
	p.mu.Unlock()

	if !ok {
		return
	}
	if voice == nil {
		voice = []types.VoiceInteractionRecord{}
	}
	if photos == nil {
		photos = []types.PhotoAssessmentRecord{}
	}

	span.SetAttributes(
		attribute.String(tracing.AttrChildID, sess.ChildID),
		attribute.Int(tracing.AttrVoiceRecords, len(voice)),
		attribute.Int(tracing.AttrPhotoRecords, len(photos)),
	)

	summary, err := p.tracker.TrackSessionProgress(ctx, sess, voice, photos)
	if err != nil {
		tracing.RecordError(span, err)
		log.Printf("Failed to track session progress: id=%s error=%v", sessionID, err)
		return
	}
	log.Printf("Tracked session progress: id=%s voice=%d photos=%d engagement=%d",
		sessionID, len(voice), len(photos), summary.EngagementScore)
}

// CleanupAbandonedSessions discards buffers whose session is gone, or has
// been idle longer than maxAgeHours without completing. It returns the number
// of session buffers discarded.
func (p *ProgressIntegration) CleanupAbandonedSessions(ctx context.Context, maxAgeHours int) int {
	maxAge := time.Duration(maxAgeHours) * time.Hour
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make(map[string]struct{}, len(p.pendingVoice)+len(p.pendingPhotos))
	for id := range p.pendingVoice {
		keys[id] = struct{}{}
	}
	for id := range p.pendingPhotos {
		keys[id] = struct{}{}
	}

	removed := 0
	for id := range keys {
		sess, err := p.sessions.GetSession(ctx, id)
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
		case err != nil:
			log.Printf("Skipping buffer cleanup: id=%s error=%v", id, err)
			continue
		case sess.State == types.StateCompleted || now.Sub(sess.LastActivity) <= maxAge:
			continue
		}
		delete(p.pendingVoice, id)
		delete(p.pendingPhotos, id)
		removed++
	}

	if removed > 0 {
		log.Printf("Discarded pending evidence for %d abandoned sessions", removed)
	}
	return removed
}

// Pending returns how many records are buffered for a session
func (p *ProgressIntegration) Pending(sessionID string) (voice, photos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pendingVoice[sessionID]), len(p.pendingPhotos[sessionID])
}

// GetStats returns buffer statistics
func (p *ProgressIntegration) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sessions := make(map[string]struct{})
	voice, photos := 0, 0
	for id, records := range p.pendingVoice {
		sessions[id] = struct{}{}
		voice += len(records)
	}
	for id, records := range p.pendingPhotos {
		sessions[id] = struct{}{}
		photos += len(records)
	}
	return map[string]interface{}{
		"buffered_sessions": len(sessions),
		"pending_voice":     voice,
		"pending_photos":    photos,
	}
}
