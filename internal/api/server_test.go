package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnsession/internal/resolver"
	"learnsession/internal/hub"
	"learnsession/internal/session"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

type noopScheduler struct{}

func (noopScheduler) Arm(string, types.SessionTimingConfig, types.SessionSettings)         {}
func (noopScheduler) ArmBreakEnd(string, types.SessionTimingConfig, types.SessionSettings) {}
func (noopScheduler) Cancel(string)                                                        {}

func (noopScheduler) Current(hub.TimerEvent) bool { return false }

type mockEvidence struct {
	mu     sync.Mutex
	voice  map[string]int
	photos map[string]int
}

func (m *mockEvidence) RecordVoiceInteraction(ctx context.Context, sessionID string, record types.VoiceInteractionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voice[sessionID]++
}

func (m *mockEvidence) RecordPhotoAssessment(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[sessionID]++
}

type mockDatabaseManager struct {
	healthErr error
	children  map[string]types.AgeGroup
	summaries map[string]*types.ProgressSummary
}

func (m *mockDatabaseManager) TrackSessionProgress(ctx context.Context, sess *types.LearningSession, voice []types.VoiceInteractionRecord, photos []types.PhotoAssessmentRecord) (*types.ProgressSummary, error) {
	return nil, nil
}
func (m *mockDatabaseManager) AddVoiceInteractionData(ctx context.Context, sessionID string, record types.VoiceInteractionRecord) error {
	return nil
}
func (m *mockDatabaseManager) AddPhotoAssessmentResult(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord) error {
	return nil
}
func (m *mockDatabaseManager) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	if g, ok := m.children[childID]; ok {
		return g, nil
	}
	return "", interfaces.ErrChildNotFound
}
func (m *mockDatabaseManager) UpsertChild(ctx context.Context, childID string, ageGroup types.AgeGroup) error {
	if !types.IsValidAgeGroup(ageGroup) {
		return types.ErrInvalidAgeGroup
	}
	m.children[childID] = ageGroup
	return nil
}
func (m *mockDatabaseManager) GetProgressSummary(ctx context.Context, sessionID string) (*types.ProgressSummary, error) {
	if s, ok := m.summaries[sessionID]; ok {
		return s, nil
	}
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockDatabaseManager) ListChildProgress(ctx context.Context, childID string) ([]*types.ProgressSummary, error) {
	var out []*types.ProgressSummary
	for _, s := range m.summaries {
		if s.ChildID == childID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (m *mockDatabaseManager) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *mockDatabaseManager) Close() error                          { return nil }

type mockAgeCache struct{ invalidated []string }

func (m *mockAgeCache) Invalidate(childID string) { m.invalidated = append(m.invalidated, childID) }

type fixture struct {
	server   *Server
	manager  *session.Manager
	evidence *mockEvidence
	db       *mockDatabaseManager
	ages     *mockAgeCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	res := resolver.NewStatic(map[string]types.AgeGroup{
		"child-1": types.AgeGroup6to9,
	}, "")
	manager := session.NewManager(res, noopScheduler{})
	f := &fixture{
		manager:  manager,
		evidence: &mockEvidence{voice: map[string]int{}, photos: map[string]int{}},
		db: &mockDatabaseManager{
			children:  map[string]types.AgeGroup{},
			summaries: map[string]*types.ProgressSummary{},
		},
		ages: &mockAgeCache{},
	}
	f.server = NewServer(manager, f.evidence, f.db, f.ages)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) *types.LearningSession {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", types.CreateSessionRequest{
		ChildID:     "child-1",
		SessionType: types.SessionTypeLesson,
		Title:       "Counting",
		Subject:     "math",
		Topic:       "numbers",
		Tags:        []string{"morning"},
		Objectives: []types.ObjectiveTemplate{
			{Subject: "math", Topic: "counting", Description: "Count to ten"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Session
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestServer_CreateSession(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	assert.Equal(t, types.StateNotStarted, sess.State)
	assert.Equal(t, types.AgeGroup6to9, sess.AgeGroup)
	assert.Len(t, sess.LearningObjectives, 1)
}

func TestServer_CreateSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"invalid json", "not an object", http.StatusBadRequest},
		{"invalid child", types.CreateSessionRequest{ChildID: "bad id", SessionType: types.SessionTypeLesson, Title: "x"}, http.StatusBadRequest},
		{"invalid type", types.CreateSessionRequest{ChildID: "child-1", SessionType: "party", Title: "x"}, http.StatusBadRequest},
		{"unknown child", types.CreateSessionRequest{ChildID: "child-9", SessionType: types.SessionTypeLesson, Title: "x"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestServer_Lifecycle(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	steps := []struct {
		action string
		code   int
		state  types.SessionState
	}{
		{"pause", http.StatusConflict, ""},
		{"start", http.StatusOK, types.StateActive},
		{"break", http.StatusOK, types.StateBreak},
		{"resume", http.StatusOK, types.StateActive},
		{"pause", http.StatusOK, types.StatePaused},
		{"resume", http.StatusOK, types.StateActive},
		{"complete", http.StatusOK, types.StateCompleted},
		{"abandon", http.StatusConflict, ""},
	}

	for _, step := range steps {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/sessions/%s/%s", sess.ID, step.action), nil)
		require.Equal(t, step.code, rec.Code, "%s: %s", step.action, rec.Body.String())
		if step.code != http.StatusOK {
			continue
		}
		var resp SessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, step.state, resp.Session.State, step.action)
	}
}

func TestServer_GetSession(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, sess.ID, resp.Session.ID)

	rec = f.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateObjective(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	objID := sess.LearningObjectives[0].ID

	completed := true
	rate := 0.9
	rec := f.do(t, http.MethodPatch, fmt.Sprintf("/api/sessions/%s/objectives/%s", sess.ID, objID),
		types.ObjectiveUpdate{Completed: &completed, SuccessRate: &rate})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Session.LearningObjectives[0].Completed)
	assert.Equal(t, 1, resp.Session.Statistics.ObjectivesCompleted)

	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/api/sessions/%s/objectives/nope", sess.ID), types.ObjectiveUpdate{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := 1.5
	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/api/sessions/%s/objectives/%s", sess.ID, objID),
		types.ObjectiveUpdate{SuccessRate: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AddMarker(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/markers", MarkerRequest{Description: "Drew a triangle"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var marker types.ProgressMarker
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&marker))
	assert.Equal(t, "Drew a triangle", marker.Description)
	assert.NotEmpty(t, marker.ID)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/markers", MarkerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AcknowledgeReminderErrors(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/reminders/abc/ack", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/reminders/0/ack", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Evidence(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/voice",
		types.VoiceInteractionRecord{InteractionCount: 3, Confidence: 0.8})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/photos",
		types.PhotoAssessmentRecord{AssessmentID: "a1", CorrectnessScore: 0.7, CompletionLevel: 1})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, 1, f.evidence.voice[sess.ID])
	assert.Equal(t, 1, f.evidence.photos[sess.ID])

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/voice",
		types.VoiceInteractionRecord{InteractionCount: 1, Confidence: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/missing/photos",
		types.PhotoAssessmentRecord{CorrectnessScore: 0.5, CompletionLevel: 0.5})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, f.evidence.photos["missing"])
}

func TestServer_SearchSessions(t *testing.T) {
	f := newFixture(t)
	first := f.createSession(t)
	f.createSession(t)
	f.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/start", nil)

	rec := f.do(t, http.MethodGet, "/api/sessions?state=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page types.SessionPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, first.ID, page.Sessions[0].ID)

	rec = f.do(t, http.MethodGet, "/api/sessions?tag=morning&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = types.SessionPage{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Sessions, 1)

	rec = f.do(t, http.MethodGet, "/api/sessions?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Children(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/children/child-1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListSessionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Sessions, 1)

	rec = f.do(t, http.MethodGet, "/api/children/nobody/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = ListSessionsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.NotNil(t, list.Sessions)
	assert.Empty(t, list.Sessions)

	rec = f.do(t, http.MethodPut, "/api/children/child-2", ChildRequest{AgeGroup: types.AgeGroup3to5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.AgeGroup3to5, f.db.children["child-2"])
	assert.Equal(t, []string{"child-2"}, f.ages.invalidated)

	rec = f.do(t, http.MethodPut, "/api/children/child-2", ChildRequest{AgeGroup: "adult"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Progress(t *testing.T) {
	f := newFixture(t)
	f.db.summaries["s-1"] = &types.ProgressSummary{SessionID: "s-1", ChildID: "child-1", EngagementScore: 80}

	rec := f.do(t, http.MethodGet, "/api/sessions/s-1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary types.ProgressSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 80, summary.EngagementScore)

	rec = f.do(t, http.MethodGet, "/api/sessions/s-2/progress", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/children/child-1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summaries []*types.ProgressSummary `json:"summaries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Summaries, 1)
}

func TestServer_HealthCheck(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	f.db.healthErr = errors.New("disk gone")
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Middleware(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{session.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", session.ErrObjectiveNotFound), http.StatusNotFound},
		{&session.TransitionError{SessionID: "s", From: types.StateActive, Event: session.EventStart}, http.StatusConflict},
		{session.ErrSessionClosed, http.StatusConflict},
		{fmt.Errorf("%w: child x", session.ErrPolicyResolutionFailed), http.StatusBadGateway},
		{types.ErrInvalidTitle, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}

func TestServer_EvidenceRateLimit(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(f.manager, f.evidence, f.db, f.ages, WithEvidenceLimit(2, time.Hour))
	sess := f.createSession(t)

	record := types.VoiceInteractionRecord{InteractionCount: 1, Confidence: 0.5}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/voice", record)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/voice", record)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, f.evidence.voice[sess.ID])
}
