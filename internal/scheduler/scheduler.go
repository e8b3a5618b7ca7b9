// Package scheduler arms and cancels the per-session break timers.
//
// Timers never mutate sessions. A firing posts a hub.TimerEvent; the session
// manager applies it under the session's lock after re-checking state.
package scheduler

import (
	"log"
	"sync"
	"time"

	"learnsession/internal/hub"
	"learnsession/internal/policy"
	"learnsession/pkg/types"
)

// Poster accepts fired timer events for serialized handling
type Poster interface {
	Post(evt hub.TimerEvent) error
}

// timerEntry is the registry slot for one armed timer. A firing only posts
// if its entry is still the one registered under its key.
type timerEntry struct {
	timer      *time.Timer
	generation uint64
}

// Scheduler keeps a registry of live timer handles keyed by
// "<sessionID>-<purpose>". It holds session ids only, never sessions.
//
// Every Arm or ArmBreakEnd stamps a fresh generation on the timers it
// schedules; Cancel forgets the session's generation. An event that was
// already queued in the hub when its session was re-armed carries an old
// generation and fails Current.
type Scheduler struct {
	poster Poster
	unit   time.Duration

	mu     sync.Mutex
	timers map[string]*timerEntry
	gens   map[string]uint64
	seq    uint64
}

// New creates a scheduler. unit is the real duration of one policy minute.
func New(poster Poster, unit time.Duration) *Scheduler {
	if unit <= 0 {
		unit = time.Minute
	}
	return &Scheduler{
		poster: poster,
		unit:   unit,
		timers: make(map[string]*timerEntry),
		gens:   make(map[string]uint64),
	}
}

// Arm cancels any timers for the session, then schedules the warning and
// break callbacks for a session entering active state
func (s *Scheduler) Arm(sessionID string, cfg types.SessionTimingConfig, settings types.SessionSettings) {
	s.Cancel(sessionID)
	if !settings.BreakRemindersEnabled || cfg.BreakInterval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.nextGenerationLocked(sessionID)
	if cfg.WarningBeforeBreak > 0 && cfg.WarningBeforeBreak < cfg.BreakInterval {
		delay := time.Duration(cfg.BreakInterval-cfg.WarningBeforeBreak) * s.unit
		s.scheduleLocked(sessionID, policy.PurposeWarning, gen, delay)
	}
	s.scheduleLocked(sessionID, policy.PurposeBreak, gen, time.Duration(cfg.BreakInterval)*s.unit)
}

// ArmBreakEnd cancels any timers for the session, then schedules the single
// break-end callback for a session entering break state
func (s *Scheduler) ArmBreakEnd(sessionID string, cfg types.SessionTimingConfig, settings types.SessionSettings) {
	s.Cancel(sessionID)
	if !settings.BreakRemindersEnabled || cfg.BreakDuration <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.nextGenerationLocked(sessionID)
	s.scheduleLocked(sessionID, policy.PurposeBreakEnd, gen, time.Duration(cfg.BreakDuration)*s.unit)
}

// Cancel stops every outstanding timer of one session and invalidates any of
// its events still queued. Only keys namespaced to this session id are touched.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.gens, sessionID)

	for _, purpose := range []policy.ReminderPurpose{policy.PurposeWarning, policy.PurposeBreak, policy.PurposeBreakEnd} {
		key := timerKey(sessionID, purpose)
		if entry, ok := s.timers[key]; ok {
			entry.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// CancelAll stops every timer; used on shutdown
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, key)
	}
	clear(s.gens)
}

// Current reports whether evt was fired by the session's latest arming
func (s *Scheduler) Current(evt hub.TimerEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.gens[evt.SessionID]
	return ok && gen == evt.Generation
}

// Pending returns the purposes currently armed for a session
func (s *Scheduler) Pending(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purposes []string
	for _, purpose := range []policy.ReminderPurpose{policy.PurposeWarning, policy.PurposeBreak, policy.PurposeBreakEnd} {
		if _, ok := s.timers[timerKey(sessionID, purpose)]; ok {
			purposes = append(purposes, string(purpose))
		}
	}
	return purposes
}

// ActiveTimers returns the number of armed timers across all sessions
func (s *Scheduler) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) nextGenerationLocked(sessionID string) uint64 {
	s.seq++
	s.gens[sessionID] = s.seq
	return s.seq
}

func (s *Scheduler) scheduleLocked(sessionID string, purpose policy.ReminderPurpose, gen uint64, delay time.Duration) {
	key := timerKey(sessionID, purpose)
	entry := &timerEntry{generation: gen}
	s.timers[key] = entry
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(key, sessionID, purpose, entry)
	})
}

func (s *Scheduler) fire(key, sessionID string, purpose policy.ReminderPurpose, entry *timerEntry) {
	s.mu.Lock()
	current, ok := s.timers[key]
	if !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	evt := hub.TimerEvent{
		SessionID:  sessionID,
		Purpose:    string(purpose),
		Generation: entry.generation,
		FiredAt:    time.Now(),
	}
	if err := s.poster.Post(evt); err != nil {
		log.Printf("Dropped timer event: key=%s err=%v", key, err)
	}
}

func timerKey(sessionID string, purpose policy.ReminderPurpose) string {
	return sessionID + "-" + string(purpose)
}
