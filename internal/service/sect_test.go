package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

func TestCreateSect_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sects.CreateSect(ctx, "founder", &model.CreateSectRequest{Name: "   "})
	assert.ErrorIs(t, err, service.ErrSectNameRequired)

	_, err = f.sects.CreateSect(ctx, "founder", &model.CreateSectRequest{Name: strings.Repeat("剑", model.MaxSectNameLength+1)})
	assert.ErrorIs(t, err, service.ErrSectNameTooLong)

	_, err = f.sects.CreateSect(ctx, "leader", &model.CreateSectRequest{Name: "Second Sect"})
	assert.ErrorIs(t, err, service.ErrAlreadySectMember)
}

func TestCreateSect_LeaderMembership(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sect, err := f.sects.CreateSect(ctx, "founder", &model.CreateSectRequest{Name: "  Jade Peak  ", Description: " mountain "})
	require.NoError(t, err)

	assert.NotEmpty(t, sect.ID)
	assert.Equal(t, "Jade Peak", sect.Name)
	assert.Equal(t, "mountain", sect.Description)
	assert.Equal(t, 1, sect.Level)
	assert.True(t, sect.Active)

	membership, err := f.store.GetActiveMembership(ctx, "founder")
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, sect.ID, membership.SectID)
	assert.Equal(t, model.SectRoleLeader, membership.Role)
}

func TestGetSect_Overview(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.join(t, "member-1")

	overview, err := f.sects.GetSect(context.Background(), f.sectID)
	require.NoError(t, err)

	assert.Equal(t, 2, overview.MemberCount)
	assert.Equal(t, 20, overview.MemberCapacity)
	require.NotNil(t, overview.NextLevelEnergy)
	assert.Equal(t, int64(10_000), *overview.NextLevelEnergy)

	_, err = f.sects.GetSect(context.Background(), "sect:missing")
	assert.ErrorIs(t, err, service.ErrSectNotFound)
}

func TestJoinSect_Rules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(b *model.Balance) {
		b.LevelTiers[0].MemberCapacity = 2
	})
	ctx := context.Background()

	_, err := f.sects.JoinSect(ctx, "member-1", "sect:missing")
	assert.ErrorIs(t, err, service.ErrSectNotFound)

	membership, err := f.sects.JoinSect(ctx, "member-1", f.sectID)
	require.NoError(t, err)
	assert.Equal(t, model.SectRoleMember, membership.Role)

	_, err = f.sects.JoinSect(ctx, "member-1", f.sectID)
	assert.ErrorIs(t, err, service.ErrAlreadySectMember)

	_, err = f.sects.JoinSect(ctx, "member-2", f.sectID)
	assert.ErrorIs(t, err, service.ErrSectFull)
}

func TestJoinSect_ClosedSect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sects.LeaveSect(ctx, "leader", f.sectID))

	_, err := f.sects.JoinSect(ctx, "member-1", f.sectID)

	assert.ErrorIs(t, err, service.ErrSectInactive)
}

func TestLeaveSect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "member-1")

	assert.ErrorIs(t, f.sects.LeaveSect(ctx, "stranger", f.sectID), service.ErrNotSectMember)
	assert.ErrorIs(t, f.sects.LeaveSect(ctx, "leader", f.sectID), service.ErrLeaderCannotLeave)

	require.NoError(t, f.sects.LeaveSect(ctx, "member-1", f.sectID))
	isMember, err := f.sects.IsMember(ctx, "member-1", f.sectID)
	require.NoError(t, err)
	assert.False(t, isMember)

	other, err := f.sects.CreateSect(ctx, "member-1", &model.CreateSectRequest{Name: "Splinter Sect"})
	require.NoError(t, err, "a former member may found a new sect")
	assert.NotEqual(t, f.sectID, other.ID)
}

func TestLeaveSect_LoneLeaderClosesSect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.sects.LeaveSect(context.Background(), "leader", f.sectID))

	assert.False(t, f.sect(t).Active)
}

func TestGetMyContribution(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sects.GetMyContribution(ctx, "stranger", f.sectID)
	assert.ErrorIs(t, err, service.ErrNotSectMember)

	fresh, err := f.sects.GetMyContribution(ctx, "leader", f.sectID)
	require.NoError(t, err)
	assert.Zero(t, fresh.TotalEnergy)
	assert.Equal(t, "2024-01-08", fresh.Weekly.WeekKey)

	f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	f.clock.Advance(7 * 24 * time.Hour)

	rolled, err := f.sects.GetMyContribution(ctx, "leader", f.sectID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), rolled.TotalEnergy)
	assert.Equal(t, model.WeeklyEnergy{WeekKey: "2024-01-15"}, rolled.Weekly)

	stored, err := f.store.GetContribution(ctx, f.sectID, "leader")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", stored.Weekly.WeekKey, "reads do not write the rollover")
}

func TestSetBuildingLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.sects.SetBuildingLevel(ctx, f.sectID, "pagoda", 1), service.ErrInvalidBuilding)
	assert.ErrorIs(t, f.sects.SetBuildingLevel(ctx, f.sectID, model.BuildingLibrary, model.MaxBuildingLevel+1), service.ErrInvalidBuildingLvl)
	assert.ErrorIs(t, f.sects.SetBuildingLevel(ctx, f.sectID, model.BuildingLibrary, -1), service.ErrInvalidBuildingLvl)
	assert.ErrorIs(t, f.sects.SetBuildingLevel(ctx, "sect:missing", model.BuildingLibrary, 1), service.ErrSectNotFound)

	require.NoError(t, f.sects.SetBuildingLevel(ctx, f.sectID, model.BuildingLibrary, 2))
	require.NoError(t, f.sects.SetBuildingLevel(ctx, f.sectID, model.BuildingLibrary, 3))

	sect := f.sect(t)
	assert.Equal(t, 3, sect.BuildingLevel(model.BuildingLibrary))
	assert.Len(t, sect.Buildings, 1)
}
