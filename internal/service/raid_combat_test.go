package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/sect/internal/model"
)

// stubRand returns fixed rolls
type stubRand struct {
	f float64
	i int
}

func (r stubRand) Float64() float64 { return r.f }
func (r stubRand) IntN(int) int     { return r.i }

func newTestResolver(roll stubRand, now time.Time) *RaidCombatResolver {
	return NewRaidCombatResolver(RaidCombatResolverConfig{
		Rand:  roll,
		Clock: func() time.Time { return now },
	})
}

var baseStats = model.PlayerStats{Attack: 100, CriticalRate: 25, CriticalDamage: 150}

func TestComputeDamage_AttackMultipliers(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.99}, time.Now())
	cases := map[model.AttackType]int64{
		model.AttackBasic:    50,
		model.AttackArtifact: 150,
		model.AttackUltimate: 400,
	}
	for attack, want := range cases {
		result, err := r.ComputeDamage(attack, baseStats, 0)
		require.NoError(t, err)
		assert.Equal(t, want, result.Damage, attack)
		assert.False(t, result.IsCrit)
		assert.Equal(t, attack, result.AttackType)
	}
}

func TestComputeDamage_CritAppliesCriticalDamage(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.1}, time.Now())

	result, err := r.ComputeDamage(model.AttackBasic, baseStats, 0)

	require.NoError(t, err)
	assert.True(t, result.IsCrit)
	assert.Equal(t, int64(75), result.Damage)
}

func TestComputeDamage_CritBoundaryIsExclusive(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.25}, time.Now())

	result, err := r.ComputeDamage(model.AttackBasic, baseStats, 0)

	require.NoError(t, err)
	assert.False(t, result.IsCrit, "a roll equal to the crit rate misses")
}

func TestComputeDamage_WeeklyBonus(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.99}, time.Now())
	cases := map[int64]int64{
		0:    50,
		49:   50,
		100:  52,
		500:  60,
		9000: 60,
	}
	for weekly, want := range cases {
		result, err := r.ComputeDamage(model.AttackBasic, baseStats, weekly)
		require.NoError(t, err)
		assert.Equalf(t, want, result.Damage, "weekly energy %d", weekly)
	}
}

func TestComputeDamage_BonusIsMultipliedByCrit(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0}, time.Now())

	result, err := r.ComputeDamage(model.AttackBasic, model.PlayerStats{Attack: 100, CriticalRate: 100, CriticalDamage: 200}, 500)

	require.NoError(t, err)
	assert.Equal(t, int64(120), result.Damage)
}

func TestComputeDamage_MinimumOne(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.99}, time.Now())

	result, err := r.ComputeDamage(model.AttackBasic, model.PlayerStats{}, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Damage)
}

func TestComputeDamage_LabelsAndEffect(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{f: 0.99, i: 2}, time.Now())

	result, err := r.ComputeDamage(model.AttackUltimate, baseStats, 0)

	require.NoError(t, err)
	assert.Equal(t, "Ultimate Technique", result.AttackLabel)
	assert.Equal(t, "Nine Heavens Thunder", result.Effect)
}

func TestComputeDamage_InvalidInput(t *testing.T) {
	t.Parallel()
	r := newTestResolver(stubRand{}, time.Now())

	_, err := r.ComputeDamage("fireball", baseStats, 0)
	if !errors.Is(err, ErrInvalidAttackType) {
		t.Errorf("expected ErrInvalidAttackType, got %v", err)
	}
	_, err = r.ComputeDamage(model.AttackBasic, model.PlayerStats{Attack: -1}, 0)
	if !errors.Is(err, ErrInvalidStats) {
		t.Errorf("expected ErrInvalidStats, got %v", err)
	}
}

func TestGetCooldownRemaining(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	r := newTestResolver(stubRand{}, now)
	at := func(ago time.Duration) *time.Time {
		t := now.Add(-ago)
		return &t
	}

	cases := []struct {
		name   string
		last   *time.Time
		attack model.AttackType
		want   time.Duration
	}{
		{"never used", nil, model.AttackBasic, 0},
		{"basic mid cooldown", at(400 * time.Millisecond), model.AttackBasic, 600 * time.Millisecond},
		{"basic elapsed", at(2 * time.Second), model.AttackBasic, 0},
		{"artifact", at(5 * time.Second), model.AttackArtifact, 10 * time.Second},
		{"ultimate", at(time.Hour), model.AttackUltimate, 5 * time.Hour},
		{"unknown type", at(0), "fireball", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.GetCooldownRemaining(tc.last, tc.attack); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCooldowns_ListsEveryAttack(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	r := newTestResolver(stubRand{}, now)
	log := &model.RaidLog{LastAttackAt: map[model.AttackType]time.Time{
		model.AttackArtifact: now.Add(-10 * time.Second),
	}}

	got := r.Cooldowns(log)

	assert.Equal(t, []model.CooldownStatus{
		{AttackType: model.AttackBasic, RemainingMs: 0},
		{AttackType: model.AttackArtifact, RemainingMs: 5000},
		{AttackType: model.AttackUltimate, RemainingMs: 0},
	}, got)
	assert.Len(t, r.Cooldowns(nil), 3)
}
