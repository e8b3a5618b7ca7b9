package types

import (
	"time"
)

// AgeGroup is one of the fixed child age brackets used to select pacing policy
type AgeGroup string

const (
	AgeGroup3to5   AgeGroup = "ages3to5"
	AgeGroup6to9   AgeGroup = "ages6to9"
	AgeGroup10to12 AgeGroup = "ages10to12"
)

// SessionType classifies what a learning session is for
type SessionType string

const (
	SessionTypeAssessment SessionType = "assessment"
	SessionTypeLesson     SessionType = "lesson"
	SessionTypePractice   SessionType = "practice"
	SessionTypeReview     SessionType = "review"
)

// SessionState is a node in the session lifecycle graph.
// not_started is initial; completed and abandoned are terminal.
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateActive     SessionState = "active"
	StatePaused     SessionState = "paused"
	StateBreak      SessionState = "break"
	StateCompleted  SessionState = "completed"
	StateAbandoned  SessionState = "abandoned"
)

// IsTerminal reports whether no further lifecycle transition is legal
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// ReminderType grades how strongly a break reminder asks for a pause
type ReminderType string

const (
	ReminderGentle    ReminderType = "gentle"
	ReminderSuggested ReminderType = "suggested"
	ReminderRequired  ReminderType = "required"
)

// SessionTimingConfig is the pacing policy copied onto a session at creation.
// All values are in minutes.
type SessionTimingConfig struct {
	RecommendedDuration int `json:"recommended_duration"`
	MaxDuration         int `json:"max_duration"`
	BreakInterval       int `json:"break_interval"`
	BreakDuration       int `json:"break_duration"`
	WarningBeforeBreak  int `json:"warning_before_break"`
}

// SessionSettings holds per-session feature flags
type SessionSettings struct {
	VoiceEnabled          bool `json:"voice_enabled"`
	TTSEnabled            bool `json:"tts_enabled"`
	BreakRemindersEnabled bool `json:"break_reminders_enabled"`
	AutoSave              bool `json:"auto_save"`
	AutoResume            bool `json:"auto_resume"`
}

// DefaultSettings returns the flags a session gets when the caller supplies none
func DefaultSettings() SessionSettings {
	return SessionSettings{
		VoiceEnabled:          true,
		TTSEnabled:            true,
		BreakRemindersEnabled: true,
		AutoSave:              true,
		AutoResume:            false,
	}
}

// LearningObjective is one goal tracked within a session
type LearningObjective struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Topic       string     `json:"topic"`
	Description string     `json:"description"`
	TargetLevel int        `json:"target_level"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempts    int        `json:"attempts"`
	SuccessRate float64    `json:"success_rate"`
}

// MarkerMetadata is optional context attached to a progress marker
type MarkerMetadata struct {
	InteractionCount  int     `json:"interaction_count,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	DemonstratedSkill string  `json:"demonstrated_skill,omitempty"`
	NeedsReview       bool    `json:"needs_review,omitempty"`
}

// ProgressMarker is an immutable audit breadcrumb appended on every meaningful
// session mutation. Markers are never modified once appended.
type ProgressMarker struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	ObjectiveID string          `json:"objective_id,omitempty"`
	Metadata    *MarkerMetadata `json:"metadata,omitempty"`
}

// BreakReminder is a generated message suggesting or requiring a pause
type BreakReminder struct {
	TriggerTime    time.Time    `json:"trigger_time"`
	ReminderType   ReminderType `json:"reminder_type"`
	Message        string       `json:"message"`
	Acknowledged   bool         `json:"acknowledged"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
}

// InteractionSample is one reported batch of child interactions
type InteractionSample struct {
	RecordedAt          time.Time `json:"recorded_at"`
	Count               int       `json:"count"`
	AverageResponseTime float64   `json:"average_response_time"`
}

// SessionStatistics is derived from session content and recomputed at
// transition boundaries; it is never mutated independently.
// Durations are in milliseconds.
type SessionStatistics struct {
	TotalDuration       int64   `json:"total_duration"`
	ActiveDuration      int64   `json:"active_duration"`
	BreakDuration       int64   `json:"break_duration"`
	InteractionCount    int     `json:"interaction_count"`
	ObjectivesCompleted int     `json:"objectives_completed"`
	ObjectivesAttempted int     `json:"objectives_attempted"`
	AverageResponseTime float64 `json:"average_response_time"`
	EngagementScore     int     `json:"engagement_score"`
	CompletionRate      float64 `json:"completion_rate"`
}

// LearningSession is the aggregate root for one time-bounded learning session
type LearningSession struct {
	ID          string      `json:"id"`
	ChildID     string      `json:"child_id"`
	AgeGroup    AgeGroup    `json:"age_group"`
	SessionType SessionType `json:"session_type"`
	Title       string      `json:"title"`
	Subject     string      `json:"subject"`
	Topic       string      `json:"topic"`
	Tags        []string    `json:"tags,omitempty"`

	State SessionState `json:"state"`

	CreatedAt         time.Time           `json:"created_at"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	LastActivity      time.Time           `json:"last_activity"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	TimingConfig      SessionTimingConfig `json:"timing_config"`
	CurrentBreakStart *time.Time          `json:"current_break_start,omitempty"`
	TotalBreakTime    int64               `json:"total_break_time"`

	LearningObjectives []LearningObjective `json:"learning_objectives"`
	ProgressMarkers    []ProgressMarker    `json:"progress_markers"`
	BreakReminders     []BreakReminder     `json:"break_reminders"`
	Interactions       []InteractionSample `json:"interactions,omitempty"`

	Statistics SessionStatistics `json:"statistics"`
	Settings   SessionSettings   `json:"settings"`
}

// Clone returns a deep copy so readers never share mutable state with the store
func (s *LearningSession) Clone() *LearningSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.CurrentBreakStart = cloneTime(s.CurrentBreakStart)

	c.LearningObjectives = make([]LearningObjective, len(s.LearningObjectives))
	for i, obj := range s.LearningObjectives {
		obj.CompletedAt = cloneTime(obj.CompletedAt)
		c.LearningObjectives[i] = obj
	}

	c.ProgressMarkers = make([]ProgressMarker, len(s.ProgressMarkers))
	for i, m := range s.ProgressMarkers {
		if m.Metadata != nil {
			md := *m.Metadata
			m.Metadata = &md
		}
		c.ProgressMarkers[i] = m
	}

	c.BreakReminders = make([]BreakReminder, len(s.BreakReminders))
	for i, r := range s.BreakReminders {
		r.AcknowledgedAt = cloneTime(r.AcknowledgedAt)
		c.BreakReminders[i] = r
	}

	c.Interactions = append([]InteractionSample(nil), s.Interactions...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ObjectiveTemplate is the caller-supplied seed for a learning objective.
// Zero-valued fields fall back to defaults at creation.
type ObjectiveTemplate struct {
	Subject     string   `json:"subject"`
	Topic       string   `json:"topic"`
	Description string   `json:"description"`
	TargetLevel int      `json:"target_level,omitempty"`
	Completed   bool     `json:"completed,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
}

// CreateSessionRequest carries everything needed to open a session
type CreateSessionRequest struct {
	ChildID     string              `json:"child_id"`
	SessionType SessionType         `json:"session_type"`
	Title       string              `json:"title"`
	Subject     string              `json:"subject"`
	Topic       string              `json:"topic"`
	Tags        []string            `json:"tags,omitempty"`
	Objectives  []ObjectiveTemplate `json:"objectives,omitempty"`
	Settings    *SessionSettings    `json:"settings,omitempty"`
}

// ObjectiveUpdate is a partial update; nil fields are left unchanged
type ObjectiveUpdate struct {
	Completed   *bool    `json:"completed,omitempty"`
	Attempts    *int     `json:"attempts,omitempty"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
}

// SessionFilter selects sessions for search. Empty fields match everything.
type SessionFilter struct {
	ChildID     string       `json:"child_id,omitempty"`
	SessionType SessionType  `json:"session_type,omitempty"`
	State       SessionState `json:"state,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	From        *time.Time   `json:"from,omitempty"`
	To          *time.Time   `json:"to,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
}

// SessionPage is one page of search results
type SessionPage struct {
	Sessions []*LearningSession `json:"sessions"`
	Total    int                `json:"total"`
	Offset   int                `json:"offset"`
	Limit    int                `json:"limit"`
}

// VoiceInteractionRecord is evidence produced by the voice subsystem.
// The session engine passes it through without interpreting it.
type VoiceInteractionRecord struct {
	InteractionCount    int      `json:"interaction_count"`
	AverageResponseTime float64  `json:"average_response_time"`
	Confidence          float64  `json:"confidence"`
	Topics              []string `json:"topics,omitempty"`
	Skills              []string `json:"skills,omitempty"`
	LanguageComplexity  float64  `json:"language_complexity"`
}

// PhotoAssessmentRecord is evidence produced by the photo assessment subsystem
type PhotoAssessmentRecord struct {
	AssessmentID     string    `json:"assessment_id"`
	Subject          string    `json:"subject"`
	Topic            string    `json:"topic"`
	CorrectnessScore float64   `json:"correctness_score"`
	CompletionLevel  float64   `json:"completion_level"`
	SkillsAssessed   []string  `json:"skills_assessed,omitempty"`
	Strengths        []string  `json:"strengths,omitempty"`
	ImprovementAreas []string  `json:"improvement_areas,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ProgressSummary is the consolidated result of a completed session's evidence
type ProgressSummary struct {
	SessionID           string      `json:"session_id"`
	ChildID             string      `json:"child_id"`
	SessionType         SessionType `json:"session_type"`
	Subject             string      `json:"subject"`
	ObjectivesCompleted int         `json:"objectives_completed"`
	ObjectivesAttempted int         `json:"objectives_attempted"`
	CompletionRate      float64     `json:"completion_rate"`
	EngagementScore     int         `json:"engagement_score"`
	ActiveDuration      int64       `json:"active_duration"`
	VoiceInteractions   int         `json:"voice_interactions"`
	AverageConfidence   float64     `json:"average_confidence"`
	PhotoAssessments    int         `json:"photo_assessments"`
	AverageCorrectness  float64     `json:"average_correctness"`
	SkillsDemonstrated  []string    `json:"skills_demonstrated,omitempty"`
	NeedsReview         []string    `json:"needs_review,omitempty"`
	RecordedAt          time.Time   `json:"recorded_at"`
}
