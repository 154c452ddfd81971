// Package memory is an in-process store for development and tests.
//
// Ledger transactions for one (sect, user) pair run one at a time under a keyed
// lock; the commit itself takes the store lock, so sect credits from different
// members never lose updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

var (
	_ service.LedgerStore    = (*Store)(nil)
	_ service.SectRepository = (*Store)(nil)
	_ service.RaidRepository = (*Store)(nil)
)

type memberKey struct{ sectID, userID string }

type dailyKey struct {
	sectID, userID, dateKey string
}

type raidLogKey struct {
	sectID, weekKey, userID string
}

// Store keeps all sect state in maps
type Store struct {
	mu            sync.RWMutex
	sects         map[string]*model.Sect
	memberships   map[string]*model.SectMembership
	activeByUser  map[string]string
	contributions map[memberKey]*model.SectContribution
	dailyStats    map[dailyKey]*model.SectDailyStat
	raidLogs      map[raidLogKey]*model.RaidLog

	writers *keyedMutex
}

// New creates an empty store
func New() *Store {
	return &Store{
		sects:         make(map[string]*model.Sect),
		memberships:   make(map[string]*model.SectMembership),
		activeByUser:  make(map[string]string),
		contributions: make(map[memberKey]*model.SectContribution),
		dailyStats:    make(map[dailyKey]*model.SectDailyStat),
		raidLogs:      make(map[raidLogKey]*model.RaidLog),
		writers:       newKeyedMutex(),
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetSect returns a copy of the sect, nil when missing
func (s *Store) GetSect(_ context.Context, sectID string) (*model.Sect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sect, ok := s.sects[sectID]
	if !ok {
		return nil, nil
	}
	return copySect(sect), nil
}

// GetActiveMembership returns the user's active membership, nil when none
func (s *Store) GetActiveMembership(_ context.Context, userID string) (*model.SectMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeByUser[userID]
	if !ok {
		return nil, nil
	}
	m := *s.memberships[id]
	return &m, nil
}

// CountActiveMembers counts active memberships of a sect
func (s *Store) CountActiveMembers(_ context.Context, sectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(sectID), nil
}

func (s *Store) countActiveLocked(sectID string) int {
	count := 0
	for _, id := range s.activeByUser {
		if s.memberships[id].SectID == sectID {
			count++
		}
	}
	return count
}

// GetContribution returns the member's contribution record, nil when none
func (s *Store) GetContribution(_ context.Context, sectID, userID string) (*model.SectContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contributions[memberKey{sectID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// GetDailyStat returns a daily stat record, nil when none
func (s *Store) GetDailyStat(_ context.Context, sectID, userID, dateKey string) (*model.SectDailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dailyStats[dailyKey{sectID, userID, dateKey}]
	if !ok {
		return nil, nil
	}
	return copyDailyStat(d), nil
}

// GetRaidLog returns the member's raid log for a week, nil when none
func (s *Store) GetRaidLog(_ context.Context, sectID, weekKey, userID string) (*model.RaidLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.raidLogs[raidLogKey{sectID, weekKey, userID}]
	if !ok {
		return nil, nil
	}
	return copyRaidLog(l), nil
}

// ListRaidLogs returns every raid log of a sect for a week
func (s *Store) ListRaidLogs(_ context.Context, sectID, weekKey string) ([]*model.RaidLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]*model.RaidLog, 0)
	for k, l := range s.raidLogs {
		if k.sectID == sectID && k.weekKey == weekKey {
			logs = append(logs, copyRaidLog(l))
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].UserID < logs[j].UserID })
	return logs, nil
}

// ---------------------------------------------------------------------------
// Sect and membership writes
// ---------------------------------------------------------------------------

// CreateSect stores a sect with its leader's membership
func (s *Store) CreateSect(_ context.Context, sect *model.Sect, leader *model.SectMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByUser[leader.UserID]; ok {
		return database.ErrDuplicate
	}

	sect.ID = "sect:" + uuid.NewString()
	leader.ID = "sect_membership:" + uuid.NewString()
	leader.SectID = sect.ID

	s.sects[sect.ID] = copySect(sect)
	m := *leader
	s.memberships[m.ID] = &m
	s.activeByUser[m.UserID] = m.ID
	return nil
}

// AddMembership adds an active membership if the user has none and the sect has room
func (s *Store) AddMembership(_ context.Context, membership *model.SectMembership, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByUser[membership.UserID]; ok {
		return database.ErrDuplicate
	}
	if _, ok := s.sects[membership.SectID]; !ok {
		return database.ErrNotFound
	}
	if s.countActiveLocked(membership.SectID) >= capacity {
		return database.ErrLimitExceeded
	}

	membership.ID = "sect_membership:" + uuid.NewString()
	m := *membership
	s.memberships[m.ID] = &m
	s.activeByUser[m.UserID] = m.ID
	return nil
}

// DeactivateMembership ends the user's membership in the sect
func (s *Store) DeactivateMembership(_ context.Context, sectID, userID string, closeSect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.activeByUser[userID]
	if !ok || s.memberships[id].SectID != sectID {
		return database.ErrNotFound
	}
	s.memberships[id].Active = false
	delete(s.activeByUser, userID)

	if closeSect {
		if sect, ok := s.sects[sectID]; ok {
			sect.Active = false
			sect.UpdatedOn = time.Now().UTC()
		}
	}
	return nil
}

// SetBuildingLevel sets or adds a building on the sect
func (s *Store) SetBuildingLevel(_ context.Context, sectID string, kind model.BuildingKind, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sect, ok := s.sects[sectID]
	if !ok {
		return database.ErrNotFound
	}
	for i := range sect.Buildings {
		if sect.Buildings[i].Kind == kind {
			sect.Buildings[i].Level = level
			return nil
		}
	}
	sect.Buildings = append(sect.Buildings, model.SectBuilding{Kind: kind, Level: level})
	return nil
}

// ---------------------------------------------------------------------------
// Raids
// ---------------------------------------------------------------------------

// SummonRaid installs a raid unless an undefeated raid of the same week is active
func (s *Store) SummonRaid(_ context.Context, sectID string, raid *model.RaidInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sect, ok := s.sects[sectID]
	if !ok {
		return database.ErrNotFound
	}
	if cur := sect.Raid; cur != nil && cur.WeekKey == raid.WeekKey && !cur.Defeated() {
		return database.ErrDuplicate
	}
	r := *raid
	sect.Raid = &r
	return nil
}

// RecordAttack applies damage to the boss and the member's raid log atomically
func (s *Store) RecordAttack(_ context.Context, rec model.RaidAttackRecord) (*model.RaidAttackOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sect, ok := s.sects[rec.SectID]
	if !ok || sect.Raid == nil || sect.Raid.WeekKey != rec.WeekKey {
		return nil, database.ErrNotFound
	}
	raid := sect.Raid
	if raid.Defeated() {
		return &model.RaidAttackOutcome{HealthRemaining: 0, Defeated: true}, nil
	}

	raid.HealthRemaining = max(0, raid.HealthRemaining-rec.Damage)
	raid.WeeklyAttempts++
	defeated := raid.HealthRemaining == 0
	if defeated {
		at := rec.At
		raid.DefeatedAt = &at
	}

	key := raidLogKey{rec.SectID, rec.WeekKey, rec.UserID}
	log, exists := s.raidLogs[key]
	if !exists {
		log = &model.RaidLog{
			SectID:       rec.SectID,
			WeekKey:      rec.WeekKey,
			UserID:       rec.UserID,
			LastAttackAt: make(map[model.AttackType]time.Time),
		}
		s.raidLogs[key] = log
	}
	log.TotalDamage += rec.Damage
	log.Attacks++
	log.LastAttackAt[rec.AttackType] = rec.At

	return &model.RaidAttackOutcome{
		Applied:         true,
		HealthRemaining: raid.HealthRemaining,
		Defeated:        defeated,
		TotalDamage:     log.TotalDamage,
	}, nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// DeleteDailyStatsBefore removes daily stats dated before dateKey
func (s *Store) DeleteDailyStatsBefore(_ context.Context, dateKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.dailyStats {
		if k.dateKey < dateKey {
			delete(s.dailyStats, k)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

// ---------------------------------------------------------------------------
// Ledger transactions
// ---------------------------------------------------------------------------

// RunInTx runs fn with the (sect, user) writer lock held and commits its staged writes
func (s *Store) RunInTx(ctx context.Context, sectID, userID string, fn func(tx service.LedgerTx) error) (*model.SectCredit, error) {
	unlock := s.writers.Lock(sectID + "|" + userID)
	defer unlock()

	tx := &ledgerTx{store: s, sectID: sectID, userID: userID}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *ledgerTx) (*model.SectCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mk := memberKey{tx.sectID, tx.userID}
	if tx.contribution != nil {
		if current := versionOf(s.contributions[mk]); current != tx.contribution.Version {
			return nil, database.ErrConflict
		}
	}
	if tx.dailyStat != nil {
		dk := dailyKey{tx.sectID, tx.userID, tx.dailyStat.DateKey}
		if current := versionOfStat(s.dailyStats[dk]); current != tx.dailyStat.Version {
			return nil, database.ErrConflict
		}
	}

	var credit *model.SectCredit
	if tx.credit != nil {
		sect, ok := s.sects[tx.sectID]
		if !ok {
			return nil, database.ErrNotFound
		}
		previous := sect.Level
		sect.SpiritEnergy += tx.credit.delta
		sect.TotalEnergyEarned += tx.credit.delta
		sect.Level = max(sect.Level, service.ResolveLevel(sect.TotalEnergyEarned, tx.credit.tiers))
		sect.UpdatedOn = time.Now().UTC()
		credit = &model.SectCredit{
			SectID:            sect.ID,
			SpiritEnergy:      sect.SpiritEnergy,
			TotalEnergyEarned: sect.TotalEnergyEarned,
			PreviousLevel:     previous,
			Level:             sect.Level,
		}
	}

	if tx.contribution != nil {
		c := *tx.contribution
		c.Version++
		s.contributions[mk] = &c
	}
	if tx.dailyStat != nil {
		d := copyDailyStat(tx.dailyStat)
		d.Version++
		s.dailyStats[dailyKey{tx.sectID, tx.userID, d.DateKey}] = d
	}
	return credit, nil
}

type sectCredit struct {
	delta int64
	tiers []model.LevelTier
}

type ledgerTx struct {
	store  *Store
	sectID string
	userID string

	contribution *model.SectContribution
	dailyStat    *model.SectDailyStat
	credit       *sectCredit
}

func (t *ledgerTx) Contribution(ctx context.Context) (*model.SectContribution, error) {
	c, err := t.store.GetContribution(ctx, t.sectID, t.userID)
	if err != nil || c != nil {
		return c, err
	}
	return &model.SectContribution{SectID: t.sectID, UserID: t.userID}, nil
}

func (t *ledgerTx) DailyStat(ctx context.Context, dateKey string) (*model.SectDailyStat, error) {
	d, err := t.store.GetDailyStat(ctx, t.sectID, t.userID, dateKey)
	if err != nil || d != nil {
		return d, err
	}
	return &model.SectDailyStat{SectID: t.sectID, UserID: t.userID, DateKey: dateKey}, nil
}

func (t *ledgerTx) SaveContribution(c *model.SectContribution) { t.contribution = c }
func (t *ledgerTx) SaveDailyStat(d *model.SectDailyStat)       { t.dailyStat = d }

func (t *ledgerTx) CreditSect(delta int64, tiers []model.LevelTier) {
	t.credit = &sectCredit{delta: delta, tiers: tiers}
}

func versionOf(c *model.SectContribution) int64 {
	if c == nil {
		return 0
	}
	return c.Version
}

func versionOfStat(d *model.SectDailyStat) int64 {
	if d == nil {
		return 0
	}
	return d.Version
}

func copySect(in *model.Sect) *model.Sect {
	out := *in
	out.Buildings = append([]model.SectBuilding(nil), in.Buildings...)
	if in.Raid != nil {
		r := *in.Raid
		out.Raid = &r
	}
	return &out
}

func copyDailyStat(in *model.SectDailyStat) *model.SectDailyStat {
	out := *in
	if in.LastCommentAt != nil {
		at := *in.LastCommentAt
		out.LastCommentAt = &at
	}
	return &out
}

func copyRaidLog(in *model.RaidLog) *model.RaidLog {
	out := *in
	out.LastAttackAt = make(map[model.AttackType]time.Time, len(in.LastAttackAt))
	for k, v := range in.LastAttackAt {
		out.LastAttackAt[k] = v
	}
	if in.RewardClaimed != nil {
		out.RewardClaimed = make(map[string]bool, len(in.RewardClaimed))
		for k, v := range in.RewardClaimed {
			out.RewardClaimed[k] = v
		}
	}
	return &out
}
