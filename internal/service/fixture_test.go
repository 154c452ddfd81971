package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/internal/storage/memory"
)

// Wednesday, so a test can move within the week in either direction
var testStart = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixedRand never crits and always picks the first flavor label
type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.999 }
func (fixedRand) IntN(int) int     { return 0 }

type fixture struct {
	store   *memory.Store
	clock   *testClock
	balance *model.Balance
	sects   *service.SectService
	ledger  *service.ContributionLedger
	raids   *service.RaidService
	sectID  string
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newFixture(t *testing.T, tweak ...func(*model.Balance)) *fixture {
	t.Helper()
	balance := model.DefaultBalance()
	for _, fn := range tweak {
		fn(&balance)
	}

	f := &fixture{
		store:   memory.New(),
		clock:   &testClock{t: testStart},
		balance: &balance,
	}
	f.sects = service.NewSectService(service.SectServiceConfig{
		Repo:    f.store,
		Balance: f.balance,
		Clock:   f.clock.Now,
		Logger:  discard,
	})
	f.ledger = service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:   f.store,
		Balance: f.balance,
		Clock:   f.clock.Now,
		Logger:  discard,
	})
	f.raids = service.NewRaidService(service.RaidServiceConfig{
		Repo: f.store,
		Combat: service.NewRaidCombatResolver(service.RaidCombatResolverConfig{
			Balance: f.balance,
			Rand:    fixedRand{},
			Clock:   f.clock.Now,
		}),
		Ledger:  f.ledger,
		Balance: f.balance,
		Clock:   f.clock.Now,
		Logger:  discard,
	})

	sect, err := f.sects.CreateSect(context.Background(), "leader", &model.CreateSectRequest{Name: "Azure Cloud Sect"})
	if err != nil {
		t.Fatalf("create sect: %v", err)
	}
	f.sectID = sect.ID
	return f
}

func (f *fixture) join(t *testing.T, userID string) {
	t.Helper()
	if _, err := f.sects.JoinSect(context.Background(), userID, f.sectID); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
}

func (f *fixture) contribute(t *testing.T, userID string, typ model.ContributionType, meta model.ContributionMetadata) *model.ContributionResult {
	t.Helper()
	result, err := f.ledger.ApplyContribution(context.Background(), model.ContributionRequest{
		UserID:   userID,
		SectID:   f.sectID,
		Type:     typ,
		Metadata: meta,
	})
	if err != nil {
		t.Fatalf("ApplyContribution(%s): %v", typ, err)
	}
	return result
}

func (f *fixture) sect(t *testing.T) *model.Sect {
	t.Helper()
	sect, err := f.store.GetSect(context.Background(), f.sectID)
	if err != nil || sect == nil {
		t.Fatalf("get sect: %v", err)
	}
	return sect
}

func comment(text string) model.ContributionMetadata {
	return model.ContributionMetadata{Content: text}
}
