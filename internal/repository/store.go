package repository

import (
	"context"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
)

// Store bundles the SurrealDB repositories behind one value so the server can
// treat it like the other storage drivers
type Store struct {
	*LedgerRepository
	raids *RaidRepository
	db    database.Database
}

// NewStore creates the SurrealDB-backed sect store
func NewStore(db database.Database) *Store {
	return &Store{
		LedgerRepository: NewLedgerRepository(db),
		raids:            NewRaidRepository(db),
		db:               db,
	}
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SummonRaid installs a raid on the sect
func (s *Store) SummonRaid(ctx context.Context, sectID string, raid *model.RaidInstance) error {
	return s.raids.SummonRaid(ctx, sectID, raid)
}

// RecordAttack applies one attack to the boss and the member's raid log
func (s *Store) RecordAttack(ctx context.Context, rec model.RaidAttackRecord) (*model.RaidAttackOutcome, error) {
	return s.raids.RecordAttack(ctx, rec)
}

// GetRaidLog returns a member's raid log for a week
func (s *Store) GetRaidLog(ctx context.Context, sectID, weekKey, userID string) (*model.RaidLog, error) {
	return s.raids.GetRaidLog(ctx, sectID, weekKey, userID)
}

// ListRaidLogs returns every raid log of a sect for a week
func (s *Store) ListRaidLogs(ctx context.Context, sectID, weekKey string) ([]*model.RaidLog, error) {
	return s.raids.ListRaidLogs(ctx, sectID, weekKey)
}
