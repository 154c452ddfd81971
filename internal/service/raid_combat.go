package service

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/forgo/sect/internal/model"
)

// RandSource supplies the randomness used by combat rolls.
// *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	Float64() float64
	IntN(n int) int
}

// globalRand draws from the process-wide math/rand/v2 source
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// RaidCombatResolver turns player stats into boss damage
type RaidCombatResolver struct {
	balance *model.Balance
	rand    RandSource
	now     func() time.Time
}

// RaidCombatResolverConfig holds configuration for the combat resolver
type RaidCombatResolverConfig struct {
	Balance *model.Balance
	Rand    RandSource
	Clock   func() time.Time
}

// NewRaidCombatResolver creates a combat resolver
func NewRaidCombatResolver(cfg RaidCombatResolverConfig) *RaidCombatResolver {
	if cfg.Balance == nil {
		b := model.DefaultBalance()
		cfg.Balance = &b
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRand{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RaidCombatResolver{
		balance: cfg.Balance,
		rand:    cfg.Rand,
		now:     cfg.Clock,
	}
}

// ComputeDamage rolls the damage of one attack.
// weeklyEnergy is the attacker's contribution energy for the current week.
func (r *RaidCombatResolver) ComputeDamage(attackType model.AttackType, stats model.PlayerStats, weeklyEnergy int64) (*model.CombatResult, error) {
	spec, ok := r.balance.Attack(attackType)
	if !ok {
		return nil, ErrInvalidAttackType
	}
	if stats.Attack < 0 || stats.CriticalRate < 0 || stats.CriticalDamage < 0 {
		return nil, ErrInvalidStats
	}

	base := int64(math.Floor(float64(stats.Attack) * spec.Multiplier))
	weeklyBonus := r.weeklyBonus(weeklyEnergy)

	isCrit := r.rand.Float64() < float64(stats.CriticalRate)/100
	critMultiplier := 1.0
	if isCrit {
		critMultiplier = float64(stats.CriticalDamage) / 100
	}

	damage := int64(math.Floor(float64(base+weeklyBonus) * critMultiplier))
	if damage < 1 {
		damage = 1
	}

	effect := ""
	if n := len(r.balance.FlavorLabels); n > 0 {
		effect = r.balance.FlavorLabels[r.rand.IntN(n)]
	}

	return &model.CombatResult{
		Damage:      damage,
		IsCrit:      isCrit,
		AttackType:  attackType,
		AttackLabel: spec.Label,
		Effect:      effect,
	}, nil
}

func (r *RaidCombatResolver) weeklyBonus(weeklyEnergy int64) int64 {
	rules := r.balance.WeeklyBonus
	if weeklyEnergy <= 0 || rules.Divisor <= 0 {
		return 0
	}
	return min(weeklyEnergy, rules.EnergyCap) / rules.Divisor
}

// GetCooldownRemaining returns how long until the attack may be used again.
// A nil lastAttackAt or an unknown attack type has no cooldown.
func (r *RaidCombatResolver) GetCooldownRemaining(lastAttackAt *time.Time, attackType model.AttackType) time.Duration {
	if lastAttackAt == nil {
		return 0
	}
	spec, ok := r.balance.Attack(attackType)
	if !ok {
		return 0
	}
	remaining := spec.Cooldown - r.now().Sub(*lastAttackAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cooldowns lists remaining cooldowns for every attack type given a member's raid log
func (r *RaidCombatResolver) Cooldowns(log *model.RaidLog) []model.CooldownStatus {
	out := make([]model.CooldownStatus, 0, len(r.balance.Attacks))
	for _, a := range r.balance.Attacks {
		remaining := r.GetCooldownRemaining(log.LastAttack(a.Type), a.Type)
		out = append(out, model.CooldownStatus{
			AttackType:  a.Type,
			RemainingMs: remaining.Milliseconds(),
		})
	}
	return out
}
