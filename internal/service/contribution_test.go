package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/internal/storage/memory"
)

// ============================================================================
// Posts, upvotes and check-ins
// ============================================================================

func TestApplyContribution_PostDailyCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	second := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	third := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})

	assert.True(t, first.Applied)
	assert.Equal(t, int64(50), first.Delta)
	assert.Equal(t, model.ReasonOK, first.Reason)
	assert.True(t, second.Applied)
	assert.False(t, third.Applied)
	assert.Equal(t, model.ReasonDailyCapPost, third.Reason)
	assert.Zero(t, third.Delta)

	sect := f.sect(t)
	assert.Equal(t, int64(100), sect.SpiritEnergy)
	assert.Equal(t, int64(100), sect.TotalEnergyEarned)
}

func TestApplyContribution_RequiresUserAndSect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.ledger.ApplyContribution(context.Background(), model.ContributionRequest{SectID: f.sectID, Type: model.ContributionPost})
	assert.ErrorIs(t, err, service.ErrInvalidContribution)
	_, err = f.ledger.ApplyContribution(context.Background(), model.ContributionRequest{UserID: "leader", Type: model.ContributionPost})
	assert.ErrorIs(t, err, service.ErrInvalidContribution)
}

func TestApplyContribution_CapsResetNextDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	f.clock.Advance(24 * time.Hour)
	next := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})

	assert.True(t, next.Applied)
	assert.Equal(t, service.DayKey(testStart.Add(24*time.Hour)), next.DayKey)
}

func TestApplyContribution_SelfUpvoteCheckedBeforeCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.join(t, "author")

	for i := 0; i < 20; i++ {
		r := f.contribute(t, "author", model.ContributionUpvoteReceived, model.ContributionMetadata{FromUserID: fmt.Sprintf("fan-%d", i)})
		require.True(t, r.Applied, "upvote %d", i+1)
		require.Equal(t, int64(8), r.Delta)
	}

	self := f.contribute(t, "author", model.ContributionUpvoteReceived, model.ContributionMetadata{FromUserID: "author"})
	capped := f.contribute(t, "author", model.ContributionUpvoteReceived, model.ContributionMetadata{FromUserID: "fan-x"})

	assert.Equal(t, model.ReasonSelfUpvoteReceived, self.Reason)
	assert.Equal(t, model.ReasonDailyCapUpvoteReceived, capped.Reason)
	assert.Equal(t, int64(160), f.sect(t).SpiritEnergy)
}

func TestApplyContribution_CheckinOncePerDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.contribute(t, "leader", model.ContributionDailyCheckin, model.ContributionMetadata{})
	again := f.contribute(t, "leader", model.ContributionDailyCheckin, model.ContributionMetadata{})

	assert.Equal(t, int64(20), first.Delta)
	assert.False(t, again.Applied)
	assert.Equal(t, model.ReasonAlreadyCheckedIn, again.Reason)
	assert.NotEmpty(t, again.Message)
}

func TestApplyContribution_CheckinIncludesSpiritFieldBonus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.sects.SetBuildingLevel(context.Background(), f.sectID, model.BuildingSpiritField, 2))

	r := f.contribute(t, "leader", model.ContributionDailyCheckin, model.ContributionMetadata{})

	assert.Equal(t, int64(30), r.Delta)
}

func TestApplyContribution_RaidParticipationOncePerWeek(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.contribute(t, "leader", model.ContributionRaidParticipation, model.ContributionMetadata{})
	again := f.contribute(t, "leader", model.ContributionRaidParticipation, model.ContributionMetadata{})

	assert.True(t, first.Applied)
	assert.Equal(t, int64(100), first.Delta)
	assert.False(t, again.Applied)
	assert.Equal(t, model.ReasonAlreadyCredited, again.Reason)

	stored, err := f.store.GetContribution(context.Background(), f.sectID, "leader")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", stored.ParticipationWeek)

	f.clock.Advance(7 * 24 * time.Hour)
	nextWeek := f.contribute(t, "leader", model.ContributionRaidParticipation, model.ContributionMetadata{})
	assert.True(t, nextWeek.Applied)
	assert.Equal(t, int64(200), f.sect(t).SpiritEnergy)
}

func TestApplyContribution_UpvoteRequiresUpvoter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := f.contribute(t, "leader", model.ContributionUpvoteReceived, model.ContributionMetadata{})

	assert.False(t, r.Applied)
	assert.Equal(t, model.ReasonMissingUpvoter, r.Reason)
	assert.Zero(t, f.sect(t).SpiritEnergy)
}

// ============================================================================
// Comments
// ============================================================================

func TestApplyContribution_CommentDiminishingReturns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var deltas []int64
	for i := 0; i < 10; i++ {
		r := f.contribute(t, "leader", model.ContributionComment, comment(fmt.Sprintf("thoughtful reply number %d here", i)))
		require.True(t, r.Applied, "comment %d: %s", i+1, r.Reason)
		deltas = append(deltas, r.Delta)
	}
	capped := f.contribute(t, "leader", model.ContributionComment, comment("one more thoughtful reply for today"))

	assert.Equal(t, []int64{10, 10, 10, 4, 4, 4, 4, 4, 4, 4}, deltas)
	assert.Equal(t, model.ReasonDailyCapComment, capped.Reason)
	assert.Equal(t, int64(58), f.sect(t).SpiritEnergy)
}

func TestApplyContribution_CommentTooShort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// 18 visible characters once whitespace runs collapse
	padded := "   short     comment   here " + strings.Repeat(" ", 40)

	r := f.contribute(t, "leader", model.ContributionComment, comment(padded))

	assert.False(t, r.Applied)
	assert.Equal(t, model.ReasonCommentTooShort, r.Reason)

	stat, err := f.store.GetDailyStat(context.Background(), f.sectID, "leader", service.DayKey(testStart))
	require.NoError(t, err)
	assert.Nil(t, stat, "a rejected comment must not write daily stats")
}

func TestApplyContribution_DuplicateCommentWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	text := "the elders should open the library"

	first := f.contribute(t, "leader", model.ContributionComment, comment(text))
	f.clock.Advance(time.Minute)
	dup := f.contribute(t, "leader", model.ContributionComment, comment("  the elders   should open the library "))
	f.clock.Advance(2 * time.Minute)
	later := f.contribute(t, "leader", model.ContributionComment, comment(text))

	assert.True(t, first.Applied)
	assert.Equal(t, model.ReasonDuplicateComment, dup.Reason)
	assert.True(t, later.Applied)
	assert.Equal(t, int64(10), later.Delta, "a rejected duplicate does not use a comment slot")
}

func TestApplyContribution_CommentTierDroppingToZero(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(b *model.Balance) {
		b.Comment.Tiers = []model.CommentTier{{From: 1, To: 1, Multiplier: 1}, {From: 2, To: 10, Multiplier: 0.05}}
	})

	f.contribute(t, "leader", model.ContributionComment, comment("a first and worthy comment"))
	second := f.contribute(t, "leader", model.ContributionComment, comment("a second and worthy comment"))

	assert.False(t, second.Applied)
	assert.Equal(t, model.ReasonDiminishedToZero, second.Reason)
}

// ============================================================================
// Rejections without side effects
// ============================================================================

func TestApplyContribution_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  model.ContributionRequest
		want string
	}{
		{"unknown sect", model.ContributionRequest{UserID: "leader", SectID: "sect:missing", Type: model.ContributionPost}, model.ReasonSectNotFound},
		{"not a member", model.ContributionRequest{UserID: "stranger", SectID: f.sectID, Type: model.ContributionPost}, model.ReasonNotMember},
		{"unknown type", model.ContributionRequest{UserID: "leader", SectID: f.sectID, Type: "meditation"}, model.ReasonUnknownType},
	}
	for _, tc := range cases {
		r, err := f.ledger.ApplyContribution(ctx, tc.req)
		require.NoError(t, err, tc.name)
		assert.False(t, r.Applied, tc.name)
		assert.Equal(t, tc.want, r.Reason, tc.name)
	}

	assert.Zero(t, f.sect(t).SpiritEnergy)
	c, err := f.store.GetContribution(ctx, f.sectID, "leader")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestApplyContribution_ClosedSectRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.sects.LeaveSect(context.Background(), "leader", f.sectID))

	r := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})

	assert.Equal(t, model.ReasonSectNotFound, r.Reason)
}

// ============================================================================
// Weekly energy and levels
// ============================================================================

func TestApplyContribution_WeeklyRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	// Wednesday noon to next Monday noon
	f.clock.Advance(5 * 24 * time.Hour)
	r := f.contribute(t, "leader", model.ContributionDailyCheckin, model.ContributionMetadata{})

	c, err := f.store.GetContribution(ctx, f.sectID, "leader")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", r.WeekKey)
	assert.Equal(t, int64(70), c.TotalEnergy)
	assert.Equal(t, model.WeeklyEnergy{WeekKey: "2024-01-15", Energy: 20}, c.Weekly)
}

func TestApplyContribution_LevelUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(b *model.Balance) {
		b.LevelTiers[1].RequiredEnergy = 100
	})

	first := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	second := f.contribute(t, "leader", model.ContributionPost, model.ContributionMetadata{})
	third := f.contribute(t, "leader", model.ContributionDailyCheckin, model.ContributionMetadata{})

	assert.False(t, first.LevelUp)
	assert.Equal(t, 1, first.Level)
	assert.True(t, second.LevelUp)
	assert.Equal(t, 2, second.Level)
	assert.False(t, third.LevelUp)
	assert.Equal(t, 2, f.sect(t).Level)
}

// ============================================================================
// Concurrency and retries
// ============================================================================

func TestApplyContribution_ConcurrentSameMember_HonorsCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.ledger.ApplyContribution(context.Background(), model.ContributionRequest{
				UserID: "leader", SectID: f.sectID, Type: model.ContributionPost,
			})
			if err == nil && r.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), applied.Load())
	assert.Equal(t, int64(100), f.sect(t).SpiritEnergy)
}

func TestApplyContribution_ConcurrentMembers_NoLostCredits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	members := make([]string, 15)
	for i := range members {
		members[i] = fmt.Sprintf("member-%d", i)
		f.join(t, members[i])
	}

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, _ = f.ledger.ApplyContribution(context.Background(), model.ContributionRequest{
				UserID: userID, SectID: f.sectID, Type: model.ContributionPost,
			})
		}(m)
	}
	wg.Wait()

	sect := f.sect(t)
	assert.Equal(t, int64(15*50), sect.SpiritEnergy)
	assert.Equal(t, int64(15*50), sect.TotalEnergyEarned)
}

// conflictingStore fails the first n commits with a write conflict
type conflictingStore struct {
	*memory.Store
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (s *conflictingStore) RunInTx(ctx context.Context, sectID, userID string, fn func(tx service.LedgerTx) error) (*model.SectCredit, error) {
	s.attempts.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return nil, database.ErrConflict
	}
	return s.Store.RunInTx(ctx, sectID, userID, fn)
}

type countingObserver struct {
	conflicts atomic.Int32
	levelUps  atomic.Int32
	evaluated atomic.Int32
}

func (o *countingObserver) ContributionEvaluated(model.ContributionType, string, int64) {
	o.evaluated.Add(1)
}
func (o *countingObserver) SectLeveledUp(int) { o.levelUps.Add(1) }
func (o *countingObserver) LedgerConflict()   { o.conflicts.Add(1) }

func TestApplyContribution_RetriesConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &conflictingStore{Store: f.store}
	store.remaining.Store(2)
	observer := &countingObserver{}
	ledger := service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:    store,
		Balance:  f.balance,
		Clock:    f.clock.Now,
		Logger:   discard,
		Observer: observer,
	})

	r, err := ledger.ApplyContribution(context.Background(), model.ContributionRequest{
		UserID: "leader", SectID: f.sectID, Type: model.ContributionPost,
	})

	require.NoError(t, err)
	assert.True(t, r.Applied)
	assert.Equal(t, int32(3), store.attempts.Load())
	assert.Equal(t, int32(2), observer.conflicts.Load())
	assert.Equal(t, int32(1), observer.evaluated.Load())
	assert.Equal(t, int64(50), f.sect(t).SpiritEnergy)
}

func TestApplyContribution_ContentionExhaustsRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &conflictingStore{Store: f.store}
	store.remaining.Store(100)
	ledger := service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:      store,
		Balance:    f.balance,
		Clock:      f.clock.Now,
		Logger:     discard,
		MaxRetries: 2,
	})

	_, err := ledger.ApplyContribution(context.Background(), model.ContributionRequest{
		UserID: "leader", SectID: f.sectID, Type: model.ContributionPost,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrLedgerContention))
	assert.True(t, errors.Is(err, database.ErrConflict))
	assert.Equal(t, int32(3), store.attempts.Load())
	assert.Zero(t, f.sect(t).SpiritEnergy)
}

// failingStore fails every commit with a non-retryable error
type failingStore struct {
	*memory.Store
	attempts atomic.Int32
}

func (s *failingStore) RunInTx(context.Context, string, string, func(tx service.LedgerTx) error) (*model.SectCredit, error) {
	s.attempts.Add(1)
	return nil, database.ErrQuery
}

func TestApplyContribution_StorageErrorNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &failingStore{Store: f.store}
	ledger := service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:  store,
		Clock:  f.clock.Now,
		Logger: discard,
	})

	_, err := ledger.ApplyContribution(context.Background(), model.ContributionRequest{
		UserID: "leader", SectID: f.sectID, Type: model.ContributionPost,
	})

	assert.ErrorIs(t, err, database.ErrQuery)
	assert.False(t, errors.Is(err, service.ErrLedgerContention))
	assert.Equal(t, int32(1), store.attempts.Load())
}
