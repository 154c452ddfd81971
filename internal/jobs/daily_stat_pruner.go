package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/sect/internal/service"
)

// DailyStatStore deletes per-day contribution counters
type DailyStatStore interface {
	// DeleteDailyStatsBefore removes stats dated strictly before dateKey and
	// returns how many were removed
	DeleteDailyStatsBefore(ctx context.Context, dateKey string) (int, error)
}

// PruneObserver is told how many rows each pass removed
type PruneObserver interface {
	DailyStatsPrunedAdd(n int)
}

// DailyStatPruner removes daily stats once they fall out of the retention
// window. Caps and duplicate checks only ever read today's row, so anything
// older than a couple of days is dead weight.
type DailyStatPruner struct {
	store      DailyStatStore
	observer   PruneObserver
	logger     *slog.Logger
	now        func() time.Time
	retention  int
	interval   time.Duration
	startDelay time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// DailyStatPrunerConfig holds configuration for the pruner
type DailyStatPrunerConfig struct {
	Store    DailyStatStore
	Observer PruneObserver
	Logger   *slog.Logger
	Clock    func() time.Time
	// RetentionDays is how many days of stats survive, today included (default 14)
	RetentionDays int
	// Interval between passes (default 6h)
	Interval time.Duration
	// StartDelay postpones the first pass so startup is not slowed (default 5s)
	StartDelay time.Duration
}

// NewDailyStatPruner creates a new daily stat pruner job
func NewDailyStatPruner(cfg DailyStatPrunerConfig) *DailyStatPruner {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 14
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	} else if cfg.StartDelay == 0 {
		cfg.StartDelay = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DailyStatPruner{
		store:      cfg.Store,
		observer:   cfg.Observer,
		logger:     cfg.Logger.With("job", "daily_stat_pruner"),
		now:        cfg.Clock,
		retention:  cfg.RetentionDays,
		interval:   cfg.Interval,
		startDelay: cfg.StartDelay,
		stopCh:     make(chan struct{}),
	}
}

// Start begins pruning in the background
func (p *DailyStatPruner) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
	p.logger.Info("daily stat pruner started",
		"interval", p.interval,
		"retention_days", p.retention,
	)
}

// Stop gracefully stops the pruner and waits for an in-flight pass
func (p *DailyStatPruner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("daily stat pruner stopped")
}

// IsRunning returns whether the pruner is running
func (p *DailyStatPruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *DailyStatPruner) run() {
	defer p.wg.Done()

	select {
	case <-time.After(p.startDelay):
	case <-p.stopCh:
		return
	}
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stopCh:
			return
		}
	}
}

func (p *DailyStatPruner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("daily stat pruning failed", "error", err)
	}
}

// Cutoff returns the oldest date key that is kept
func (p *DailyStatPruner) Cutoff() string {
	return service.DayKey(p.now().AddDate(0, 0, -(p.retention - 1)))
}

// RunOnce runs one pruning pass (for testing or manual trigger)
func (p *DailyStatPruner) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.Cutoff()
	removed, err := p.store.DeleteDailyStatsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete daily stats before %s: %w", cutoff, err)
	}

	if p.observer != nil {
		p.observer.DailyStatsPrunedAdd(removed)
	}
	if removed > 0 {
		p.logger.Info("pruned daily stats", "before", cutoff, "removed", removed)
	}
	return removed, nil
}
