package types

import (
	"regexp"
)

// Regex compiled once at package initialization for high-frequency validation
var childIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxTags = 20

// Validate ensures the creation request meets all requirements
// ARCHITECTURAL DISCOVERY: Validation at type level keeps the session manager,
// the HTTP layer and tests agreeing on the same rules
func (r *CreateSessionRequest) Validate() error {
	if !IsValidChildID(r.ChildID) {
		return ErrInvalidChildID
	}
	if !IsValidSessionType(r.SessionType) {
		return ErrInvalidSessionType
	}
	if len(r.Title) < 1 || len(r.Title) > 200 {
		return ErrInvalidTitle
	}
	if len(r.Tags) > maxTags {
		return ErrTooManyTags
	}
	for _, tmpl := range r.Objectives {
		if tmpl.TargetLevel != 0 && (tmpl.TargetLevel < 1 || tmpl.TargetLevel > 10) {
			return ErrInvalidTargetLevel
		}
		if tmpl.Attempts < 0 {
			return ErrInvalidAttempts
		}
		if tmpl.SuccessRate != nil && !IsValidRate(*tmpl.SuccessRate) {
			return ErrInvalidSuccessRate
		}
	}
	return nil
}

// Validate checks the bounds of a partial objective update
func (u *ObjectiveUpdate) Validate() error {
	if u.Attempts != nil && *u.Attempts < 0 {
		return ErrInvalidAttempts
	}
	if u.SuccessRate != nil && !IsValidRate(*u.SuccessRate) {
		return ErrInvalidSuccessRate
	}
	return nil
}

// IsValidChildID checks if a child ID meets format requirements
func IsValidChildID(childID string) bool {
	if len(childID) < 1 || len(childID) > 50 {
		return false
	}
	return childIDRegex.MatchString(childID)
}

// IsValidSessionType checks if the session type is one of the allowed types
func IsValidSessionType(t SessionType) bool {
	switch t {
	case SessionTypeAssessment,
		SessionTypeLesson,
		SessionTypePractice,
		SessionTypeReview:
		return true
	default:
		return false
	}
}

// IsValidAgeGroup checks if the age group is one of the three brackets
func IsValidAgeGroup(g AgeGroup) bool {
	switch g {
	case AgeGroup3to5, AgeGroup6to9, AgeGroup10to12:
		return true
	default:
		return false
	}
}

// IsValidRate reports whether v is a fraction in [0,1]
func IsValidRate(v float64) bool {
	return v >= 0 && v <= 1
}
