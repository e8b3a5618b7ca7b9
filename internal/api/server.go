package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"learnsession/internal/session"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// EvidenceRecorder accepts voice and photo evidence for a session
type EvidenceRecorder interface {
	RecordVoiceInteraction(ctx context.Context, sessionID string, record types.VoiceInteractionRecord)
	RecordPhotoAssessment(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord)
}

// AgeCache drops a cached age bracket after the child registry changes
type AgeCache interface {
	Invalidate(childID string)
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessions  interfaces.SessionManager
	evidence  EvidenceRecorder
	dbManager interfaces.DatabaseManager
	ages      AgeCache
	limiter   *rateLimiter
	router    *http.ServeMux
	startTime time.Time
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithEvidenceLimit caps voice and photo posts per session per window
func WithEvidenceLimit(limit int, window time.Duration) ServerOption {
	return func(s *Server) {
		if limit > 0 && window > 0 {
			s.limiter = newRateLimiter(limit, window)
		}
	}
}

// NewServer wires the handlers. ages may be nil when no cache sits in front
// of the child registry.
func NewServer(sessions interfaces.SessionManager, evidence EvidenceRecorder, dbManager interfaces.DatabaseManager, ages AgeCache, opts ...ServerOption) *Server {
	s := &Server{
		sessions:  sessions,
		evidence:  evidence,
		dbManager: dbManager,
		ages:      ages,
		limiter:   newRateLimiter(DefaultEvidenceLimit, time.Minute),
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// CleanupLimits drops rate-limit state for idle sessions
func (s *Server) CleanupLimits() int {
	return s.limiter.Cleanup()
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	routes := map[string]http.HandlerFunc{
		"POST /api/sessions":                                s.createSession,
		"GET /api/sessions":                                 s.searchSessions,
		"GET /api/sessions/{id}":                            s.getSession,
		"POST /api/sessions/{id}/start":                     s.lifecycle(s.sessions.StartSession),
		"POST /api/sessions/{id}/pause":                     s.lifecycle(s.sessions.PauseSession),
		"POST /api/sessions/{id}/resume":                    s.lifecycle(s.sessions.ResumeSession),
		"POST /api/sessions/{id}/break":                     s.lifecycle(s.sessions.StartBreak),
		"POST /api/sessions/{id}/complete":                  s.lifecycle(s.sessions.CompleteSession),
		"POST /api/sessions/{id}/abandon":                   s.lifecycle(s.sessions.AbandonSession),
		"PATCH /api/sessions/{id}/objectives/{objectiveId}": s.updateObjective,
		"POST /api/sessions/{id}/markers":                   s.addMarker,
		"POST /api/sessions/{id}/reminders/{index}/ack":     s.acknowledgeReminder,
		"POST /api/sessions/{id}/voice":                     s.recordVoice,
		"POST /api/sessions/{id}/photos":                    s.recordPhoto,
		"GET /api/sessions/{id}/progress":                   s.getProgress,
		"GET /api/children/{childId}/sessions":              s.listChildSessions,
		"GET /api/children/{childId}/progress":              s.listChildProgress,
		"PUT /api/children/{childId}":                       s.upsertChild,
		"GET /health":                                       s.healthCheck,
	}
	for pattern, handler := range routes {
		s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(handler)))
	}
	// preflight for every path
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SessionResponse wraps a single session
type SessionResponse struct {
	Session *types.LearningSession `json:"session"`
}

// ListSessionsResponse wraps a list of sessions
type ListSessionsResponse struct {
	Sessions []*types.LearningSession `json:"sessions"`
}

// MarkerRequest is the body of POST /api/sessions/{id}/markers
type MarkerRequest struct {
	Description string                `json:"description"`
	ObjectiveID string                `json:"objective_id,omitempty"`
	Metadata    *types.MarkerMetadata `json:"metadata,omitempty"`
}

// ChildRequest is the body of PUT /api/children/{childId}
type ChildRequest struct {
	AgeGroup types.AgeGroup `json:"age_group"`
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	System    map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/sessions - Create a session in not_started state
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, SessionResponse{Session: sess})
}

// FUNCTIONAL DISCOVERY: GET /api/sessions - Search open and archived sessions
func (s *Server) searchSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := s.sessions.SearchSessions(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// parseFilter reads search criteria from the query string
func parseFilter(r *http.Request) (types.SessionFilter, error) {
	q := r.URL.Query()
	filter := types.SessionFilter{
		ChildID:     q.Get("child_id"),
		SessionType: types.SessionType(q.Get("session_type")),
		State:       types.SessionState(q.Get("state")),
		Subject:     q.Get("subject"),
		Topic:       q.Get("topic"),
		Tags:        q["tag"],
	}

	for name, target := range map[string]*int{"offset": &filter.Offset, "limit": &filter.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %q", name, raw)
		}
		*target = v
	}

	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: expected RFC3339 time", name)
		}
		*target = &t
	}
	return filter, nil
}

// FUNCTIONAL DISCOVERY: GET /api/sessions/{id} - Snapshot of one session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: sess})
}

// lifecycle adapts one transition operation to a handler
func (s *Server) lifecycle(op func(ctx context.Context, sessionID string) (*types.LearningSession, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, SessionResponse{Session: sess})
	}
}

// FUNCTIONAL DISCOVERY: PATCH /api/sessions/{id}/objectives/{objectiveId} - Partial objective update
func (s *Server) updateObjective(w http.ResponseWriter, r *http.Request) {
	var update types.ObjectiveUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.UpdateObjectiveProgress(r.Context(), r.PathValue("id"), r.PathValue("objectiveId"), update)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: sess})
}

// FUNCTIONAL DISCOVERY: POST /api/sessions/{id}/markers - Free-text breadcrumb
func (s *Server) addMarker(w http.ResponseWriter, r *http.Request) {
	var req MarkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		s.sendError(w, "Marker description is required", http.StatusBadRequest)
		return
	}

	marker, err := s.sessions.AddProgressMarker(r.Context(), r.PathValue("id"), req.Description, req.ObjectiveID, req.Metadata)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, marker)
}

// FUNCTIONAL DISCOVERY: POST /api/sessions/{id}/reminders/{index}/ack
func (s *Server) acknowledgeReminder(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.sendError(w, "Reminder index must be an integer", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.AcknowledgeBreakReminder(r.Context(), r.PathValue("id"), index)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: sess})
}

// FUNCTIONAL DISCOVERY: POST /api/sessions/{id}/voice - Evidence from the voice subsystem
func (s *Server) recordVoice(w http.ResponseWriter, r *http.Request) {
	var record types.VoiceInteractionRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if record.InteractionCount < 0 {
		s.sendError(w, "Interaction count cannot be negative", http.StatusBadRequest)
		return
	}
	if !types.IsValidRate(record.Confidence) {
		s.sendError(w, "Confidence must be between 0 and 1", http.StatusBadRequest)
		return
	}

	sessionID := r.PathValue("id")
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	if !s.limiter.Allow(sessionID) {
		s.sendError(w, "Too much evidence for this session, slow down", http.StatusTooManyRequests)
		return
	}

	s.evidence.RecordVoiceInteraction(r.Context(), sessionID, record)
	s.sendJSON(w, http.StatusAccepted, map[string]string{"message": "Voice interaction recorded"})
}

// FUNCTIONAL DISCOVERY: POST /api/sessions/{id}/photos - Evidence from photo assessment
func (s *Server) recordPhoto(w http.ResponseWriter, r *http.Request) {
	var record types.PhotoAssessmentRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidRate(record.CorrectnessScore) || !types.IsValidRate(record.CompletionLevel) {
		s.sendError(w, "Correctness and completion must be between 0 and 1", http.StatusBadRequest)
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	sessionID := r.PathValue("id")
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	if !s.limiter.Allow(sessionID) {
		s.sendError(w, "Too much evidence for this session, slow down", http.StatusTooManyRequests)
		return
	}

	s.evidence.RecordPhotoAssessment(r.Context(), sessionID, record)
	s.sendJSON(w, http.StatusAccepted, map[string]string{"message": "Photo assessment recorded"})
}

// FUNCTIONAL DISCOVERY: GET /api/sessions/{id}/progress - Stored summary of a completed session
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dbManager.GetProgressSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

// FUNCTIONAL DISCOVERY: GET /api/children/{childId}/sessions - Open sessions of one child
func (s *Server) listChildSessions(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childId")
	if !types.IsValidChildID(childID) {
		s.sendError(w, types.ErrInvalidChildID.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := s.sessions.ListActiveSessions(r.Context(), childID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*types.LearningSession{}
	}
	s.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// FUNCTIONAL DISCOVERY: GET /api/children/{childId}/progress - Summary history, newest first
func (s *Server) listChildProgress(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childId")
	if !types.IsValidChildID(childID) {
		s.sendError(w, types.ErrInvalidChildID.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := s.dbManager.ListChildProgress(r.Context(), childID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if summaries == nil {
		summaries = []*types.ProgressSummary{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"summaries": summaries})
}

// FUNCTIONAL DISCOVERY: PUT /api/children/{childId} - Register a child's age bracket
func (s *Server) upsertChild(w http.ResponseWriter, r *http.Request) {
	childID := r.PathValue("childId")
	if !types.IsValidChildID(childID) {
		s.sendError(w, types.ErrInvalidChildID.Error(), http.StatusBadRequest)
		return
	}

	var req ChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.dbManager.UpsertChild(r.Context(), childID, req.AgeGroup); err != nil {
		s.sendServiceError(w, err)
		return
	}
	if s.ages != nil {
		s.ages.Invalidate(childID)
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"child_id": childID, "age_group": string(req.AgeGroup)})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrObjectiveNotFound),
		errors.Is(err, session.ErrReminderNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrPolicyResolutionFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrInvalidInteractions),
		errors.Is(err, types.ErrInvalidChildID),
		errors.Is(err, types.ErrInvalidSessionType),
		errors.Is(err, types.ErrInvalidTitle),
		errors.Is(err, types.ErrInvalidAgeGroup),
		errors.Is(err, types.ErrInvalidTargetLevel),
		errors.Is(err, types.ErrInvalidSuccessRate),
		errors.Is(err, types.ErrInvalidAttempts),
		errors.Is(err, types.ErrTooManyTags):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendServiceError reports err with the status it maps to
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("API request failed: error=%v", err)
		message = "Internal server error"
	}
	s.sendError(w, message, code)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: error=%v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
