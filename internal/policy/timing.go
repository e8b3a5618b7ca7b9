// Package policy holds the static, age-tiered pacing tables.
// It is pure data: nothing here mutates or schedules anything.
package policy

import (
	"fmt"

	"learnsession/pkg/types"
)

// timingTable maps each age bracket to its pacing policy (minutes).
var timingTable = map[types.AgeGroup]types.SessionTimingConfig{
	types.AgeGroup3to5: {
		RecommendedDuration: 10,
		MaxDuration:         15,
		BreakInterval:       8,
		BreakDuration:       5,
		WarningBeforeBreak:  1,
	},
	types.AgeGroup6to9: {
		RecommendedDuration: 20,
		MaxDuration:         30,
		BreakInterval:       15,
		BreakDuration:       5,
		WarningBeforeBreak:  2,
	},
	types.AgeGroup10to12: {
		RecommendedDuration: 30,
		MaxDuration:         45,
		BreakInterval:       25,
		BreakDuration:       5,
		WarningBeforeBreak:  3,
	},
}

// TimingFor returns a copy of the pacing policy for an age bracket
func TimingFor(group types.AgeGroup) (types.SessionTimingConfig, error) {
	cfg, ok := timingTable[group]
	if !ok {
		return types.SessionTimingConfig{}, fmt.Errorf("%w: %q", types.ErrInvalidAgeGroup, group)
	}
	return cfg, nil
}
