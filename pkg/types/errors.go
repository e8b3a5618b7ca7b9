package types

import "errors"

// Validation errors shared by every component that accepts caller input
var (
	ErrInvalidChildID     = errors.New("child ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionType = errors.New("session type must be one of assessment, lesson, practice, review")
	ErrInvalidTitle       = errors.New("session title must be 1-200 characters")
	ErrInvalidAgeGroup    = errors.New("age group must be one of ages3to5, ages6to9, ages10to12")
	ErrInvalidTargetLevel = errors.New("objective target level must be between 1 and 10")
	ErrInvalidSuccessRate = errors.New("success rate must be between 0 and 1")
	ErrInvalidAttempts    = errors.New("attempts cannot be negative")
	ErrTooManyTags        = errors.New("a session may carry at most 20 tags")
)
