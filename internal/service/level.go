package service

import "github.com/forgo/sect/internal/model"

// ResolveLevel returns the highest tier level whose required energy is met.
// Tiers must be ascending by RequiredEnergy; an empty table resolves to level 1.
func ResolveLevel(totalEnergyEarned int64, tiers []model.LevelTier) int {
	level := 1
	for _, t := range tiers {
		if t.RequiredEnergy > totalEnergyEarned {
			break
		}
		level = t.Level
	}
	return level
}

// MemberCapacity returns how many active members a sect of the given level may hold
func MemberCapacity(level int, tiers []model.LevelTier) int {
	capacity := 0
	for _, t := range tiers {
		if t.Level > level {
			break
		}
		capacity = t.MemberCapacity
	}
	return capacity
}

// NextLevelEnergy returns the energy required for the level after the given one,
// or nil when the sect is already at the top tier
func NextLevelEnergy(level int, tiers []model.LevelTier) *int64 {
	for _, t := range tiers {
		if t.Level > level {
			required := t.RequiredEnergy
			return &required
		}
	}
	return nil
}
