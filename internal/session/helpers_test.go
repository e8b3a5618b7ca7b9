package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnsession/internal/hub"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

type mapResolver struct {
	groups map[string]types.AgeGroup
}

func (r *mapResolver) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	group, ok := r.groups[childID]
	if !ok {
		return "", interfaces.ErrChildNotFound
	}
	return group, nil
}

type schedulerCall struct {
	op        string
	sessionID string
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []schedulerCall
}

func (s *recordingScheduler) record(op, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, schedulerCall{op: op, sessionID: sessionID})
}

func (s *recordingScheduler) Arm(sessionID string, _ types.SessionTimingConfig, _ types.SessionSettings) {
	s.record("arm", sessionID)
}

func (s *recordingScheduler) ArmBreakEnd(sessionID string, _ types.SessionTimingConfig, _ types.SessionSettings) {
	s.record("arm-break-end", sessionID)
}

func (s *recordingScheduler) Cancel(sessionID string) {
	s.record("cancel", sessionID)
}

// Current accepts every event; generation handling is covered with the real
// scheduler in timers_test.go
func (s *recordingScheduler) Current(hub.TimerEvent) bool { return true }

func (s *recordingScheduler) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.op
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	manager   *Manager
	scheduler *recordingScheduler
	clock     *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resolver := &mapResolver{groups: map[string]types.AgeGroup{
		"child-small":  types.AgeGroup3to5,
		"child-middle": types.AgeGroup6to9,
		"child-older":  types.AgeGroup10to12,
	}}
	sched := &recordingScheduler{}
	clock := newFakeClock()
	return &testEnv{
		manager:   NewManager(resolver, sched, WithClock(clock.Now)),
		scheduler: sched,
		clock:     clock,
	}
}

func lessonRequest(childID string, objectives int) types.CreateSessionRequest {
	req := types.CreateSessionRequest{
		ChildID:     childID,
		SessionType: types.SessionTypeLesson,
		Title:       "Counting to twenty",
		Subject:     "math",
		Topic:       "counting",
		Tags:        []string{"numbers"},
	}
	for i := 0; i < objectives; i++ {
		req.Objectives = append(req.Objectives, types.ObjectiveTemplate{
			Subject: "math",
			Topic:   "counting",
		})
	}
	return req
}

// createStarted opens a session and starts it
func (env *testEnv) createStarted(t *testing.T, childID string, objectives int) *types.LearningSession {
	t.Helper()
	ctx := context.Background()
	sess, err := env.manager.CreateSession(ctx, lessonRequest(childID, objectives))
	require.NoError(t, err)
	sess, err = env.manager.StartSession(ctx, sess.ID)
	require.NoError(t, err)
	return sess
}

func boolPtr(b bool) *bool        { return &b }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
