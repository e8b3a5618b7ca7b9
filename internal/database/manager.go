package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "learnsession/pkg/database"
	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	now          func() time.Time
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies embedded migrations and starts the
// single writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		now:          time.Now,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !isContextError(err) {
				log.Printf("Database write failed, retrying in %v: %v", m.config.WriteRetryDelay, err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// isContextError reports a write abandoned by its caller. Those are not retried.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// UpsertChild records a child's age bracket
func (m *Manager) UpsertChild(ctx context.Context, childID string, ageGroup types.AgeGroup) error {
	if !types.IsValidChildID(childID) {
		return types.ErrInvalidChildID
	}
	if !types.IsValidAgeGroup(ageGroup) {
		return types.ErrInvalidAgeGroup
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO children (id, age_group, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET age_group = excluded.age_group, updated_at = excluded.updated_at
		`, childID, string(ageGroup), m.now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert child: %w", err)
		}
		return nil
	})
}

// GetAgeGroup looks a child up in the registry
func (m *Manager) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	var group string
	err := m.db.QueryRowContext(ctx, `SELECT age_group FROM children WHERE id = ?`, childID).Scan(&group)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrChildNotFound, childID)
		}
		return "", fmt.Errorf("failed to query child: %w", err)
	}
	return types.AgeGroup(group), nil
}

// AddVoiceInteractionData stores one forwarded voice record
func (m *Manager) AddVoiceInteractionData(ctx context.Context, sessionID string, record types.VoiceInteractionRecord) error {
	topics, err := marshalStrings(record.Topics)
	if err != nil {
		return err
	}
	skills, err := marshalStrings(record.Skills)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO voice_interactions
				(session_id, interaction_count, average_response_time, confidence, topics, skills, language_complexity, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sessionID,
			record.InteractionCount,
			record.AverageResponseTime,
			record.Confidence,
			topics,
			skills,
			record.LanguageComplexity,
			m.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert voice interaction: %w", err)
		}
		return nil
	})
}

// AddPhotoAssessmentResult stores one forwarded photo assessment
func (m *Manager) AddPhotoAssessmentResult(ctx context.Context, sessionID string, record types.PhotoAssessmentRecord) error {
	if !types.IsValidRate(record.CorrectnessScore) {
		return fmt.Errorf("correctness score %v out of range", record.CorrectnessScore)
	}
	skills, err := marshalStrings(record.SkillsAssessed)
	if err != nil {
		return err
	}
	strengths, err := marshalStrings(record.Strengths)
	if err != nil {
		return err
	}
	improvements, err := marshalStrings(record.ImprovementAreas)
	if err != nil {
		return err
	}
	assessedAt := record.Timestamp
	if assessedAt.IsZero() {
		assessedAt = m.now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO photo_assessments
				(session_id, assessment_id, subject, topic, correctness_score, completion_level,
				 skills_assessed, strengths, improvement_areas, assessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sessionID,
			record.AssessmentID,
			record.Subject,
			record.Topic,
			record.CorrectnessScore,
			record.CompletionLevel,
			skills,
			strengths,
			improvements,
			assessedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert photo assessment: %w", err)
		}
		return nil
	})
}

// TrackSessionProgress consolidates a completed session with its evidence
// and stores the summary, replacing any earlier one for the session
func (m *Manager) TrackSessionProgress(ctx context.Context, sess *types.LearningSession, voice []types.VoiceInteractionRecord, photos []types.PhotoAssessmentRecord) (*types.ProgressSummary, error) {
	if sess == nil {
		return nil, interfaces.ErrSessionNotFound
	}
	summary := BuildSummary(sess, voice, photos, m.now().UTC())

	skills, err := marshalStrings(summary.SkillsDemonstrated)
	if err != nil {
		return nil, err
	}
	review, err := marshalStrings(summary.NeedsReview)
	if err != nil {
		return nil, err
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_progress
				(session_id, child_id, session_type, subject, objectives_completed, objectives_attempted,
				 completion_rate, engagement_score, active_duration, voice_interactions, average_confidence,
				 photo_assessments, average_correctness, skills_demonstrated, needs_review, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				objectives_completed = excluded.objectives_completed,
				objectives_attempted = excluded.objectives_attempted,
				completion_rate = excluded.completion_rate,
				engagement_score = excluded.engagement_score,
				active_duration = excluded.active_duration,
				voice_interactions = session_progress.voice_interactions + excluded.voice_interactions,
				average_confidence = CASE WHEN excluded.voice_interactions > 0
					THEN excluded.average_confidence ELSE session_progress.average_confidence END,
				photo_assessments = session_progress.photo_assessments + excluded.photo_assessments,
				average_correctness = CASE WHEN excluded.photo_assessments > 0
					THEN excluded.average_correctness ELSE session_progress.average_correctness END,
				skills_demonstrated = CASE WHEN excluded.skills_demonstrated != '[]'
					THEN excluded.skills_demonstrated ELSE session_progress.skills_demonstrated END,
				needs_review = excluded.needs_review,
				recorded_at = excluded.recorded_at
		`,
			summary.SessionID,
			summary.ChildID,
			string(summary.SessionType),
			summary.Subject,
			summary.ObjectivesCompleted,
			summary.ObjectivesAttempted,
			summary.CompletionRate,
			summary.EngagementScore,
			summary.ActiveDuration,
			summary.VoiceInteractions,
			summary.AverageConfidence,
			summary.PhotoAssessments,
			summary.AverageCorrectness,
			skills,
			review,
			summary.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert session progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

const summaryColumns = `
	session_id, child_id, session_type, subject, objectives_completed, objectives_attempted,
	completion_rate, engagement_score, active_duration, voice_interactions, average_confidence,
	photo_assessments, average_correctness, skills_demonstrated, needs_review, recorded_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*types.ProgressSummary, error) {
	var s types.ProgressSummary
	var sessionType, skills, review string
	err := row.Scan(
		&s.SessionID,
		&s.ChildID,
		&sessionType,
		&s.Subject,
		&s.ObjectivesCompleted,
		&s.ObjectivesAttempted,
		&s.CompletionRate,
		&s.EngagementScore,
		&s.ActiveDuration,
		&s.VoiceInteractions,
		&s.AverageConfidence,
		&s.PhotoAssessments,
		&s.AverageCorrectness,
		&skills,
		&review,
		&s.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SessionType = types.SessionType(sessionType)
	if err := json.Unmarshal([]byte(skills), &s.SkillsDemonstrated); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	if err := json.Unmarshal([]byte(review), &s.NeedsReview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal needs review: %w", err)
	}
	return &s, nil
}

// GetProgressSummary returns the stored summary for one session
func (m *Manager) GetProgressSummary(ctx context.Context, sessionID string) (*types.ProgressSummary, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM session_progress WHERE session_id = ?`, sessionID)
	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session progress: %w", err)
	}
	return summary, nil
}

// ListChildProgress returns a child's summaries, newest first
func (m *Manager) ListChildProgress(ctx context.Context, childID string) ([]*types.ProgressSummary, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM session_progress WHERE child_id = ? ORDER BY recorded_at DESC, session_id`,
		childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child progress: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []*types.ProgressSummary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress rows: %w", err)
	}
	return summaries, nil
}

// CountEvidence returns how many voice and photo rows are stored for a session
func (m *Manager) CountEvidence(ctx context.Context, sessionID string) (voice, photos int, err error) {
	err = m.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM voice_interactions WHERE session_id = ?),
			(SELECT COUNT(*) FROM photo_assessments WHERE session_id = ?)
	`, sessionID, sessionID).Scan(&voice, &photos)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count evidence: %w", err)
	}
	return voice, photos, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_progress").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}
