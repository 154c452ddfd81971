package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/sect/internal/jobs"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/internal/storage/memory"
	"github.com/forgo/sect/internal/testing/fixtures"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingObserver struct{ total int }

func (o *countingObserver) DailyStatsPrunedAdd(n int) { o.total += n }

type failingStore struct{}

func (failingStore) DeleteDailyStatsBefore(context.Context, string) (int, error) {
	return 0, errors.New("db down")
}

func TestDailyStatPruner_Cutoff(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)

	p := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{
		Store:  memory.New(),
		Clock:  func() time.Time { return now },
		Logger: quiet,
	})

	// default retention keeps the 14 days ending today
	assert.Equal(t, "2024-03-07", p.Cutoff())
}

func TestDailyStatPruner_RunOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start

	store := memory.New()
	sect := fixtures.New(store).CreateSect(t, "leader")
	ledger := service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:  store,
		Clock:  func() time.Time { return now },
		Logger: quiet,
	})
	checkin := func() {
		t.Helper()
		result, err := ledger.ApplyContribution(ctx, model.ContributionRequest{
			UserID: "leader",
			SectID: sect.ID,
			Type:   model.ContributionDailyCheckin,
		})
		require.NoError(t, err)
		require.True(t, result.Applied)
	}

	checkin()
	now = start.AddDate(0, 0, 3)
	checkin()
	now = start.AddDate(0, 0, 15)
	checkin()

	observer := &countingObserver{}
	p := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{
		Store:         store,
		Observer:      observer,
		Logger:        quiet,
		Clock:         func() time.Time { return now },
		RetentionDays: 14,
	})

	removed, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the first day is outside the window")
	assert.Equal(t, 1, observer.total)

	removed, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	stat, err := store.GetDailyStat(ctx, sect.ID, "leader", service.DayKey(start.AddDate(0, 0, 3)))
	require.NoError(t, err)
	assert.NotNil(t, stat, "day four is still inside the window")
}

func TestDailyStatPruner_RunOnceError(t *testing.T) {
	t.Parallel()

	p := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{Store: failingStore{}, Logger: quiet})

	_, err := p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestDailyStatPruner_StartStop(t *testing.T) {
	t.Parallel()

	p := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{
		Store:      memory.New(),
		Logger:     quiet,
		Interval:   time.Hour,
		StartDelay: time.Hour,
	})

	assert.False(t, p.IsRunning())
	p.Start()
	p.Start()
	assert.True(t, p.IsRunning())
	p.Stop()
	p.Stop()
	assert.False(t, p.IsRunning())
}
