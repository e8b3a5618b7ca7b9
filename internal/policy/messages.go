package policy

import "learnsession/pkg/types"

// ReminderPurpose names which scheduled callback produced a reminder
type ReminderPurpose string

const (
	PurposeWarning  ReminderPurpose = "warning"
	PurposeBreak    ReminderPurpose = "break"
	PurposeBreakEnd ReminderPurpose = "break-end"
)

var reminderTypes = map[ReminderPurpose]types.ReminderType{
	PurposeWarning:  types.ReminderSuggested,
	PurposeBreak:    types.ReminderRequired,
	PurposeBreakEnd: types.ReminderGentle,
}

var reminderMessages = map[types.AgeGroup]map[ReminderPurpose]string{
	types.AgeGroup3to5: {
		PurposeWarning:  "Almost time for a wiggle break! Let's finish this one.",
		PurposeBreak:    "Break time! Let's stretch and move around.",
		PurposeBreakEnd: "Break's over! Ready to play and learn again?",
	},
	types.AgeGroup6to9: {
		PurposeWarning:  "A break is coming up in a couple of minutes. Finish what you're working on!",
		PurposeBreak:    "Time for a break! Stand up, stretch and get a drink of water.",
		PurposeBreakEnd: "Welcome back! Let's pick up where we left off.",
	},
	types.AgeGroup10to12: {
		PurposeWarning:  "Heads up: break in a few minutes. Wrap up your current task.",
		PurposeBreak:    "You've been focused for a while. Take a short break to recharge.",
		PurposeBreakEnd: "Break's over. Ready to continue when you are.",
	},
}

// ReminderType returns the reminder grade for a scheduled purpose
func ReminderType(purpose ReminderPurpose) types.ReminderType {
	if t, ok := reminderTypes[purpose]; ok {
		return t
	}
	return types.ReminderGentle
}

// ReminderMessage returns the age-appropriate text for a scheduled purpose.
// Unknown brackets fall back to the middle bracket's wording.
func ReminderMessage(group types.AgeGroup, purpose ReminderPurpose) string {
	msgs, ok := reminderMessages[group]
	if !ok {
		msgs = reminderMessages[types.AgeGroup6to9]
	}
	return msgs[purpose]
}
