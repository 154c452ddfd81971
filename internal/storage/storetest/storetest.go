// Package storetest is the behavior suite every sect store must pass.
//
//	func TestStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) storetest.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

// Store is the full surface of a sect store
type Store interface {
	service.LedgerStore
	service.SectRepository
	service.RaidRepository
	GetDailyStat(ctx context.Context, sectID, userID, dateKey string) (*model.SectDailyStat, error)
	DeleteDailyStatsBefore(ctx context.Context, dateKey string) (int, error)
}

// Factory returns an empty store; it is called once per subtest
type Factory func(t *testing.T) Store

var (
	created = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	tiers   = model.DefaultBalance().LevelTiers
)

// Run executes the suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"CreateSect", testCreateSect},
		{"Memberships", testMemberships},
		{"Deactivate", testDeactivate},
		{"Buildings", testBuildings},
		{"LedgerCommit", testLedgerCommit},
		{"LedgerVersionConflict", testLedgerVersionConflict},
		{"LedgerAbort", testLedgerAbort},
		{"LedgerLevelNeverDrops", testLedgerLevelNeverDrops},
		{"DailyStatPruning", testDailyStatPruning},
		{"SummonRaid", testSummonRaid},
		{"RecordAttack", testRecordAttack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func newSect(t *testing.T, s Store, leaderID string) string {
	t.Helper()
	sect := &model.Sect{Name: "Azure Cloud", Active: true, Level: 1, CreatedOn: created, UpdatedOn: created}
	leader := &model.SectMembership{UserID: leaderID, Role: model.SectRoleLeader, Active: true, JoinedOn: created}
	require.NoError(t, s.CreateSect(context.Background(), sect, leader))
	return sect.ID
}

func member(sectID, userID string) *model.SectMembership {
	return &model.SectMembership{SectID: sectID, UserID: userID, Role: model.SectRoleMember, Active: true, JoinedOn: created}
}

func testCreateSect(t *testing.T, s Store) {
	ctx := context.Background()
	sect := &model.Sect{Name: "Azure Cloud", Description: "peaks", Active: true, Level: 1, CreatedOn: created, UpdatedOn: created}
	leader := &model.SectMembership{UserID: "leader", Role: model.SectRoleLeader, Active: true, JoinedOn: created}

	require.NoError(t, s.CreateSect(ctx, sect, leader))
	assert.NotEmpty(t, sect.ID)
	assert.NotEmpty(t, leader.ID)
	assert.Equal(t, sect.ID, leader.SectID)

	got, err := s.GetSect(ctx, sect.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Azure Cloud", got.Name)
	assert.Equal(t, "peaks", got.Description)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.Level)
	assert.Nil(t, got.Raid)

	membership, err := s.GetActiveMembership(ctx, "leader")
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, model.SectRoleLeader, membership.Role)

	err = s.CreateSect(ctx, &model.Sect{Name: "Second", Active: true, Level: 1, CreatedOn: created, UpdatedOn: created},
		&model.SectMembership{UserID: "leader", Role: model.SectRoleLeader, Active: true, JoinedOn: created})
	assert.ErrorIs(t, err, database.ErrDuplicate)

	missing, err := s.GetSect(ctx, "sect:missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func testMemberships(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")

	m := member(sectID, "member-1")
	require.NoError(t, s.AddMembership(ctx, m, 3))
	assert.NotEmpty(t, m.ID)

	assert.ErrorIs(t, s.AddMembership(ctx, member(sectID, "member-1"), 3), database.ErrDuplicate)
	require.NoError(t, s.AddMembership(ctx, member(sectID, "member-2"), 3))
	assert.ErrorIs(t, s.AddMembership(ctx, member(sectID, "member-3"), 3), database.ErrLimitExceeded)

	count, err := s.CountActiveMembers(ctx, sectID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	none, err := s.GetActiveMembership(ctx, "member-3")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func testDeactivate(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	require.NoError(t, s.AddMembership(ctx, member(sectID, "member-1"), 10))

	assert.ErrorIs(t, s.DeactivateMembership(ctx, "sect:other", "member-1", false), database.ErrNotFound)
	require.NoError(t, s.DeactivateMembership(ctx, sectID, "member-1", false))
	assert.ErrorIs(t, s.DeactivateMembership(ctx, sectID, "member-1", false), database.ErrNotFound)

	membership, err := s.GetActiveMembership(ctx, "member-1")
	require.NoError(t, err)
	assert.Nil(t, membership)

	// rejoining after leaving is allowed
	require.NoError(t, s.AddMembership(ctx, member(sectID, "member-1"), 10))

	require.NoError(t, s.DeactivateMembership(ctx, sectID, "member-1", false))
	require.NoError(t, s.DeactivateMembership(ctx, sectID, "leader", true))
	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.False(t, sect.Active)
}

func testBuildings(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")

	require.NoError(t, s.SetBuildingLevel(ctx, sectID, model.BuildingLibrary, 1))
	require.NoError(t, s.SetBuildingLevel(ctx, sectID, model.BuildingSpiritField, 2))
	require.NoError(t, s.SetBuildingLevel(ctx, sectID, model.BuildingLibrary, 3))

	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.Len(t, sect.Buildings, 2)
	assert.Equal(t, 3, sect.BuildingLevel(model.BuildingLibrary))
	assert.Equal(t, 2, sect.BuildingLevel(model.BuildingSpiritField))
	assert.Equal(t, 0, sect.BuildingLevel(model.BuildingAlchemyRoom))
}

// stageCredit records one post worth delta through the ledger transaction
func stageCredit(ctx context.Context, s Store, sectID, userID, dateKey string, delta int64, levels []model.LevelTier) (*model.SectCredit, error) {
	return s.RunInTx(ctx, sectID, userID, func(tx service.LedgerTx) error {
		c, err := tx.Contribution(ctx)
		if err != nil {
			return err
		}
		d, err := tx.DailyStat(ctx, dateKey)
		if err != nil {
			return err
		}
		c.TotalEnergy += delta
		c.Weekly = model.WeeklyEnergy{WeekKey: "2024-01-08", Energy: c.Weekly.Energy + delta}
		c.ParticipationWeek = "2024-01-08"
		c.UpdatedOn = created
		d.Posts++
		tx.SaveContribution(c)
		tx.SaveDailyStat(d)
		tx.CreditSect(delta, levels)
		return nil
	})
}

func testLedgerCommit(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	levels := []model.LevelTier{{Level: 1, MemberCapacity: 20}, {Level: 2, RequiredEnergy: 80, MemberCapacity: 30}}

	credit, err := stageCredit(ctx, s, sectID, "leader", "2024-01-10", 50, levels)
	require.NoError(t, err)
	require.NotNil(t, credit)
	assert.Equal(t, int64(50), credit.SpiritEnergy)
	assert.False(t, credit.LevelUp())

	credit, err = stageCredit(ctx, s, sectID, "leader", "2024-01-10", 50, levels)
	require.NoError(t, err)
	assert.Equal(t, int64(100), credit.TotalEnergyEarned)
	assert.Equal(t, 1, credit.PreviousLevel)
	assert.Equal(t, 2, credit.Level)
	assert.True(t, credit.LevelUp())

	c, err := s.GetContribution(ctx, sectID, "leader")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(100), c.TotalEnergy)
	assert.Equal(t, model.WeeklyEnergy{WeekKey: "2024-01-08", Energy: 100}, c.Weekly)
	assert.Equal(t, "2024-01-08", c.ParticipationWeek)
	assert.Equal(t, int64(2), c.Version)

	d, err := s.GetDailyStat(ctx, sectID, "leader", "2024-01-10")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Posts)

	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sect.SpiritEnergy)
	assert.Equal(t, 2, sect.Level)

	// nothing staged, nothing written
	credit, err = s.RunInTx(ctx, sectID, "leader", func(tx service.LedgerTx) error {
		_, err := tx.Contribution(ctx)
		return err
	})
	assert.NoError(t, err)
	assert.Nil(t, credit)
}

func testLedgerVersionConflict(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	_, err := stageCredit(ctx, s, sectID, "leader", "2024-01-10", 50, tiers)
	require.NoError(t, err)

	_, err = s.RunInTx(ctx, sectID, "leader", func(tx service.LedgerTx) error {
		c, err := tx.Contribution(ctx)
		if err != nil {
			return err
		}
		stale := *c
		stale.Version = 0
		stale.TotalEnergy = 999
		tx.SaveContribution(&stale)
		tx.CreditSect(999, tiers)
		return nil
	})
	assert.ErrorIs(t, err, database.ErrConflict)

	c, err := s.GetContribution(ctx, sectID, "leader")
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.TotalEnergy)
	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), sect.SpiritEnergy, "a conflicting commit must not credit the sect")
}

func testLedgerAbort(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	boom := errors.New("rejected")

	_, err := s.RunInTx(ctx, sectID, "leader", func(tx service.LedgerTx) error {
		c, _ := tx.Contribution(ctx)
		c.TotalEnergy = 10
		tx.SaveContribution(c)
		tx.CreditSect(10, tiers)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.GetContribution(ctx, sectID, "leader")
	assert.NoError(t, err)
	assert.Nil(t, c)
	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.Zero(t, sect.SpiritEnergy)
}

func testLedgerLevelNeverDrops(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	low := []model.LevelTier{{Level: 1}, {Level: 2, RequiredEnergy: 10}}
	high := []model.LevelTier{{Level: 1}, {Level: 2, RequiredEnergy: 1_000}}

	_, err := stageCredit(ctx, s, sectID, "leader", "2024-01-10", 20, low)
	require.NoError(t, err)
	credit, err := stageCredit(ctx, s, sectID, "leader", "2024-01-10", 20, high)
	require.NoError(t, err)

	assert.Equal(t, 2, credit.Level)
	assert.False(t, credit.LevelUp())
}

func testDailyStatPruning(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	for _, day := range []string{"2024-01-01", "2024-01-05", "2024-01-10"} {
		_, err := stageCredit(ctx, s, sectID, "leader", day, 1, tiers)
		require.NoError(t, err)
	}

	removed, err := s.DeleteDailyStatsBefore(ctx, "2024-01-06")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	old, err := s.GetDailyStat(ctx, sectID, "leader", "2024-01-01")
	assert.NoError(t, err)
	assert.Nil(t, old)
	kept, err := s.GetDailyStat(ctx, sectID, "leader", "2024-01-10")
	assert.NoError(t, err)
	assert.NotNil(t, kept)
}

func raid(week string, health int64) *model.RaidInstance {
	return &model.RaidInstance{BossID: "demon-king", HealthRemaining: health, HealthMax: health, WeekKey: week, SummonedAt: created}
}

func testSummonRaid(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")

	assert.ErrorIs(t, s.SummonRaid(ctx, "sect:missing", raid("2024-01-08", 10)), database.ErrNotFound)
	require.NoError(t, s.SummonRaid(ctx, sectID, raid("2024-01-08", 100)))
	assert.ErrorIs(t, s.SummonRaid(ctx, sectID, raid("2024-01-08", 50)), database.ErrDuplicate)
	require.NoError(t, s.SummonRaid(ctx, sectID, raid("2024-01-15", 70)), "a new week replaces the raid")

	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	require.NotNil(t, sect.Raid)
	assert.Equal(t, "demon-king", sect.Raid.BossID)
	assert.Equal(t, int64(70), sect.Raid.HealthRemaining)
	assert.Equal(t, "2024-01-15", sect.Raid.WeekKey)
	assert.Nil(t, sect.Raid.DefeatedAt)
}

func testRecordAttack(t *testing.T, s Store) {
	ctx := context.Background()
	sectID := newSect(t, s, "leader")
	week := "2024-01-08"
	attack := func(userID string, typ model.AttackType, damage int64, at time.Time) (*model.RaidAttackOutcome, error) {
		return s.RecordAttack(ctx, model.RaidAttackRecord{
			SectID: sectID, UserID: userID, WeekKey: week, AttackType: typ, Damage: damage, At: at,
		})
	}

	_, err := attack("leader", model.AttackBasic, 10, created)
	assert.ErrorIs(t, err, database.ErrNotFound, "no raid yet")

	require.NoError(t, s.SummonRaid(ctx, sectID, raid(week, 100)))

	first, err := attack("leader", model.AttackBasic, 30, created)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(70), first.HealthRemaining)
	assert.Equal(t, int64(30), first.TotalDamage)

	second, err := attack("leader", model.AttackArtifact, 40, created.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(70), second.TotalDamage)

	final, err := attack("member-1", model.AttackUltimate, 500, created.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, final.Defeated)
	assert.Zero(t, final.HealthRemaining)

	late, err := attack("leader", model.AttackBasic, 30, created.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.True(t, late.Defeated)

	log, err := s.GetRaidLog(ctx, sectID, week, "leader")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, 2, log.Attacks)
	assert.Equal(t, int64(70), log.TotalDamage)
	require.NotNil(t, log.LastAttack(model.AttackArtifact))
	assert.True(t, log.LastAttack(model.AttackArtifact).Equal(created.Add(time.Second)))
	assert.Nil(t, log.LastAttack(model.AttackUltimate))

	logs, err := s.ListRaidLogs(ctx, sectID, week)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "leader", logs[0].UserID)
	assert.Equal(t, "member-1", logs[1].UserID)

	sect, err := s.GetSect(ctx, sectID)
	require.NoError(t, err)
	assert.Equal(t, 3, sect.Raid.WeeklyAttempts)
	require.NotNil(t, sect.Raid.DefeatedAt)

	_, err = s.RecordAttack(ctx, model.RaidAttackRecord{SectID: sectID, UserID: "leader", WeekKey: "2024-01-15", AttackType: model.AttackBasic, Damage: 1, At: created})
	assert.ErrorIs(t, err, database.ErrNotFound, "raid belongs to another week")
}
