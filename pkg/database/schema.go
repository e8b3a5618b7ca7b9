package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live database against the expected schema
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"children":           "Child age registry",
		"session_progress":   "Progress summaries",
		"voice_interactions": "Voice evidence",
		"photo_assessments":  "Photo evidence",
		"schema_migrations":  "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types of the progress tables
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"children": {
			"id":         "TEXT",
			"age_group":  "TEXT",
			"updated_at": "DATETIME",
		},
		"session_progress": {
			"session_id":          "TEXT",
			"child_id":            "TEXT",
			"completion_rate":     "REAL",
			"engagement_score":    "INTEGER",
			"active_duration":     "INTEGER",
			"skills_demonstrated": "TEXT",
			"recorded_at":         "DATETIME",
		},
		"voice_interactions": {
			"session_id":        "TEXT",
			"interaction_count": "INTEGER",
			"confidence":        "REAL",
			"skills":            "TEXT",
		},
		"photo_assessments": {
			"session_id":        "TEXT",
			"assessment_id":     "TEXT",
			"correctness_score": "REAL",
			"assessed_at":       "DATETIME",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_session_progress_child":     "Child progress history",
		"idx_voice_interactions_session": "Voice evidence by session",
		"idx_photo_assessments_session":  "Photo evidence by session",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies the check constraints reject bad rows
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`INSERT INTO children (id, age_group) VALUES ('constraint-check', 'ages99')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM children WHERE id = 'constraint-check'`)
		return fmt.Errorf("check constraint not enforced: children.age_group")
	}

	_, err = v.db.Exec(`
		INSERT INTO photo_assessments (session_id, assessment_id, correctness_score, assessed_at)
		VALUES ('constraint-check', 'check', 1.5, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM photo_assessments WHERE session_id = 'constraint-check'`)
		return fmt.Errorf("check constraint not enforced: photo_assessments.correctness_score")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
