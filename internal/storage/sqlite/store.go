// Package sqlite provides a SQLite-backed sect store.
//
// Ledger transactions are opened with BEGIN IMMEDIATE (the _txlock DSN option),
// so a transaction holds the write lock from its first read and concurrent
// writers queue on the busy timeout instead of interleaving.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/internal/storage/sqlite/migrations"
)

// Store persists sect state in SQLite
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Open opens a SQLite sect store and applies embedded migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer connection; SQLite serializes writes anyway
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", database.ErrConnection, err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle
func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", database.ErrConnection, err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// classify maps driver errors onto database sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", database.ErrDuplicate, err)
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", database.ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", database.ErrQuery, err)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sects and memberships
// ---------------------------------------------------------------------------

const sectColumns = `id, name, description, active, level, spirit_energy, total_energy_earned,
	raid_boss_id, raid_health_remaining, raid_health_max, raid_week_key, raid_weekly_attempts,
	raid_summoned_at, raid_defeated_at, created_at, updated_at`

// GetSect returns the sect with its buildings, nil when missing
func (s *Store) GetSect(ctx context.Context, sectID string) (*model.Sect, error) {
	return getSect(ctx, s.sqlDB, sectID)
}

func getSect(ctx context.Context, q queryer, sectID string) (*model.Sect, error) {
	var (
		sect                 model.Sect
		active               int
		bossID, weekKey      sql.NullString
		summoned, defeated   sql.NullInt64
		hpRemaining, hpMax   int64
		attempts             int
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, `SELECT `+sectColumns+` FROM sects WHERE id = ?`, sectID).Scan(
		&sect.ID, &sect.Name, &sect.Description, &active, &sect.Level, &sect.SpiritEnergy, &sect.TotalEnergyEarned,
		&bossID, &hpRemaining, &hpMax, &weekKey, &attempts,
		&summoned, &defeated, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	sect.Active = active == 1
	sect.CreatedOn = fromMillis(createdAt)
	sect.UpdatedOn = fromMillis(updatedAt)
	if bossID.Valid {
		sect.Raid = &model.RaidInstance{
			BossID:          bossID.String,
			HealthRemaining: hpRemaining,
			HealthMax:       hpMax,
			WeekKey:         weekKey.String,
			WeeklyAttempts:  attempts,
			DefeatedAt:      timePtr(defeated),
		}
		if t := timePtr(summoned); t != nil {
			sect.Raid.SummonedAt = *t
		}
	}

	rows, err := q.QueryContext(ctx, `SELECT kind, level FROM sect_buildings WHERE sect_id = ? ORDER BY kind`, sectID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	sect.Buildings = []model.SectBuilding{}
	for rows.Next() {
		var b model.SectBuilding
		if err := rows.Scan(&b.Kind, &b.Level); err != nil {
			return nil, classify(err)
		}
		sect.Buildings = append(sect.Buildings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &sect, nil
}

// GetActiveMembership returns the user's active membership, nil when none
func (s *Store) GetActiveMembership(ctx context.Context, userID string) (*model.SectMembership, error) {
	var (
		m        model.SectMembership
		role     string
		joinedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, sect_id, user_id, role, joined_at FROM sect_memberships WHERE user_id = ? AND active = 1`,
		userID,
	).Scan(&m.ID, &m.SectID, &m.UserID, &role, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	m.Role = model.SectRole(role)
	m.Active = true
	m.JoinedOn = fromMillis(joinedAt)
	return &m, nil
}

// CountActiveMembers counts active memberships of a sect
func (s *Store) CountActiveMembers(ctx context.Context, sectID string) (int, error) {
	return countActive(ctx, s.sqlDB, sectID)
}

func countActive(ctx context.Context, q queryer, sectID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sect_memberships WHERE sect_id = ? AND active = 1`, sectID,
	).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// CreateSect stores a sect with its leader's membership
func (s *Store) CreateSect(ctx context.Context, sect *model.Sect, leader *model.SectMembership) error {
	sectID := "sect:" + uuid.NewString()
	membershipID := "sect_membership:" + uuid.NewString()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sects (id, name, description, active, level, spirit_energy, total_energy_earned, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, 0, 0, ?, ?)`,
			sectID, sect.Name, sect.Description, sect.Level, toMillis(sect.CreatedOn), toMillis(sect.UpdatedOn),
		); err != nil {
			return classify(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sect_memberships (id, sect_id, user_id, role, active, joined_at) VALUES (?, ?, ?, ?, 1, ?)`,
			membershipID, sectID, leader.UserID, string(leader.Role), toMillis(leader.JoinedOn),
		); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sect.ID = sectID
	leader.ID = membershipID
	leader.SectID = sectID
	return nil
}

// AddMembership adds an active membership if the user has none and the sect has room
func (s *Store) AddMembership(ctx context.Context, membership *model.SectMembership, capacity int) error {
	id := "sect_membership:" + uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		count, err := countActive(ctx, tx, membership.SectID)
		if err != nil {
			return err
		}
		if count >= capacity {
			return database.ErrLimitExceeded
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sect_memberships (id, sect_id, user_id, role, active, joined_at) VALUES (?, ?, ?, ?, 1, ?)`,
			id, membership.SectID, membership.UserID, string(membership.Role), toMillis(membership.JoinedOn),
		)
		return classify(err)
	})
	if err != nil {
		return err
	}
	membership.ID = id
	return nil
}

// DeactivateMembership ends the user's membership in the sect
func (s *Store) DeactivateMembership(ctx context.Context, sectID, userID string, closeSect bool) error {
	now := toMillis(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sect_memberships SET active = 0, left_at = ? WHERE sect_id = ? AND user_id = ? AND active = 1`,
			now, sectID, userID,
		)
		if err != nil {
			return classify(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return database.ErrNotFound
		}
		if closeSect {
			if _, err := tx.ExecContext(ctx, `UPDATE sects SET active = 0, updated_at = ? WHERE id = ?`, now, sectID); err != nil {
				return classify(err)
			}
		}
		return nil
	})
}

// SetBuildingLevel sets or adds a building on the sect
func (s *Store) SetBuildingLevel(ctx context.Context, sectID string, kind model.BuildingKind, level int) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sect_buildings (sect_id, kind, level) VALUES (?, ?, ?)
		 ON CONFLICT (sect_id, kind) DO UPDATE SET level = excluded.level`,
		sectID, string(kind), level,
	)
	return classify(err)
}

// GetContribution returns the member's contribution record, nil when none
func (s *Store) GetContribution(ctx context.Context, sectID, userID string) (*model.SectContribution, error) {
	return getContribution(ctx, s.sqlDB, sectID, userID)
}

func getContribution(ctx context.Context, q queryer, sectID, userID string) (*model.SectContribution, error) {
	c := model.SectContribution{SectID: sectID, UserID: userID}
	var updatedAt int64
	err := q.QueryRowContext(ctx,
		`SELECT total_energy, week_key, weekly_energy, participation_week, updated_at, version
		 FROM sect_contributions WHERE sect_id = ? AND user_id = ?`,
		sectID, userID,
	).Scan(&c.TotalEnergy, &c.Weekly.WeekKey, &c.Weekly.Energy, &c.ParticipationWeek, &updatedAt, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	c.UpdatedOn = fromMillis(updatedAt)
	return &c, nil
}

func getDailyStat(ctx context.Context, q queryer, sectID, userID, dateKey string) (*model.SectDailyStat, error) {
	d := model.SectDailyStat{SectID: sectID, UserID: userID, DateKey: dateKey}
	var (
		checkin       int
		lastCommentAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT posts, comments, upvotes_received, checkin_done, last_comment_hash, last_comment_at, version
		 FROM sect_daily_stats WHERE sect_id = ? AND user_id = ? AND date_key = ?`,
		sectID, userID, dateKey,
	).Scan(&d.Posts, &d.Comments, &d.UpvotesReceived, &checkin, &d.LastCommentHash, &lastCommentAt, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	d.CheckinDone = checkin == 1
	d.LastCommentAt = timePtr(lastCommentAt)
	return &d, nil
}

// GetDailyStat returns a daily stat record, nil when none
func (s *Store) GetDailyStat(ctx context.Context, sectID, userID, dateKey string) (*model.SectDailyStat, error) {
	return getDailyStat(ctx, s.sqlDB, sectID, userID, dateKey)
}

// DeleteDailyStatsBefore removes daily stats dated before dateKey
func (s *Store) DeleteDailyStatsBefore(ctx context.Context, dateKey string) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sect_daily_stats WHERE date_key < ?`, dateKey)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Ledger transactions
// ---------------------------------------------------------------------------

// RunInTx runs fn inside an immediate transaction and commits its staged writes
func (s *Store) RunInTx(ctx context.Context, sectID, userID string, fn func(tx service.LedgerTx) error) (*model.SectCredit, error) {
	var credit *model.SectCredit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ltx := &ledgerTx{tx: tx, sectID: sectID, userID: userID}
		if err := fn(ltx); err != nil {
			return err
		}
		var err error
		credit, err = ltx.commit(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

type sectCredit struct {
	delta int64
	tiers []model.LevelTier
}

type ledgerTx struct {
	tx     *sql.Tx
	sectID string
	userID string

	contribution *model.SectContribution
	dailyStat    *model.SectDailyStat
	credit       *sectCredit
}

func (t *ledgerTx) Contribution(ctx context.Context) (*model.SectContribution, error) {
	c, err := getContribution(ctx, t.tx, t.sectID, t.userID)
	if err != nil || c != nil {
		return c, err
	}
	return &model.SectContribution{SectID: t.sectID, UserID: t.userID}, nil
}

func (t *ledgerTx) DailyStat(ctx context.Context, dateKey string) (*model.SectDailyStat, error) {
	d, err := getDailyStat(ctx, t.tx, t.sectID, t.userID, dateKey)
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

func (t *ledgerTx) commit(ctx context.Context) (*model.SectCredit, error) {
	if c := t.contribution; c != nil {
		if err := t.writeContribution(ctx, c); err != nil {
			return nil, err
		}
	}
	if d := t.dailyStat; d != nil {
		if err := t.writeDailyStat(ctx, d); err != nil {
			return nil, err
		}
	}
	if t.credit == nil {
		return nil, nil
	}
	return t.writeCredit(ctx)
}

// versioned writes: expected version 0 inserts, anything else must match the row
func (t *ledgerTx) writeContribution(ctx context.Context, c *model.SectContribution) error {
	if c.Version == 0 {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO sect_contributions (sect_id, user_id, total_energy, week_key, weekly_energy,
			   participation_week, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			t.sectID, t.userID, c.TotalEnergy, c.Weekly.WeekKey, c.Weekly.Energy,
			c.ParticipationWeek, toMillis(c.UpdatedOn),
		)
		return conflictOnDuplicate(err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sect_contributions
		 SET total_energy = ?, week_key = ?, weekly_energy = ?, participation_week = ?,
		     updated_at = ?, version = version + 1
		 WHERE sect_id = ? AND user_id = ? AND version = ?`,
		c.TotalEnergy, c.Weekly.WeekKey, c.Weekly.Energy, c.ParticipationWeek,
		toMillis(c.UpdatedOn), t.sectID, t.userID, c.Version,
	)
	return requireOneRow(res, err)
}

func (t *ledgerTx) writeDailyStat(ctx context.Context, d *model.SectDailyStat) error {
	if d.Version == 0 {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO sect_daily_stats (sect_id, user_id, date_key, posts, comments, upvotes_received,
			   checkin_done, last_comment_hash, last_comment_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			t.sectID, t.userID, d.DateKey, d.Posts, d.Comments, d.UpvotesReceived,
			boolInt(d.CheckinDone), d.LastCommentHash, nullMillis(d.LastCommentAt),
		)
		return conflictOnDuplicate(err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sect_daily_stats
		 SET posts = ?, comments = ?, upvotes_received = ?, checkin_done = ?, last_comment_hash = ?,
		     last_comment_at = ?, version = version + 1
		 WHERE sect_id = ? AND user_id = ? AND date_key = ? AND version = ?`,
		d.Posts, d.Comments, d.UpvotesReceived, boolInt(d.CheckinDone), d.LastCommentHash,
		nullMillis(d.LastCommentAt), t.sectID, t.userID, d.DateKey, d.Version,
	)
	return requireOneRow(res, err)
}

func (t *ledgerTx) writeCredit(ctx context.Context) (*model.SectCredit, error) {
	credit := &model.SectCredit{SectID: t.sectID}
	err := t.tx.QueryRowContext(ctx,
		`SELECT level FROM sects WHERE id = ?`, t.sectID,
	).Scan(&credit.PreviousLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}

	err = t.tx.QueryRowContext(ctx,
		`UPDATE sects
		 SET spirit_energy = spirit_energy + ?, total_energy_earned = total_energy_earned + ?, updated_at = ?
		 WHERE id = ?
		 RETURNING spirit_energy, total_energy_earned`,
		t.credit.delta, t.credit.delta, toMillis(time.Now()), t.sectID,
	).Scan(&credit.SpiritEnergy, &credit.TotalEnergyEarned)
	if err != nil {
		return nil, classify(err)
	}

	credit.Level = max(credit.PreviousLevel, service.ResolveLevel(credit.TotalEnergyEarned, t.credit.tiers))
	if credit.Level > credit.PreviousLevel {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE sects SET level = ? WHERE id = ? AND level < ?`,
			credit.Level, t.sectID, credit.Level,
		); err != nil {
			return nil, classify(err)
		}
	}
	return credit, nil
}

func conflictOnDuplicate(err error) error {
	if err == nil {
		return nil
	}
	err = classify(err)
	if errors.Is(err, database.ErrDuplicate) {
		return fmt.Errorf("%w: record created concurrently", database.ErrConflict)
	}
	return err
}

func requireOneRow(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n != 1 {
		return fmt.Errorf("%w: version changed", database.ErrConflict)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Raids
// ---------------------------------------------------------------------------

// SummonRaid installs a raid unless an undefeated raid of the same week is active
func (s *Store) SummonRaid(ctx context.Context, sectID string, raid *model.RaidInstance) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sects
		 SET raid_boss_id = ?, raid_health_remaining = ?, raid_health_max = ?, raid_week_key = ?,
		     raid_weekly_attempts = 0, raid_summoned_at = ?, raid_defeated_at = NULL, updated_at = ?
		 WHERE id = ?
		   AND NOT (raid_boss_id IS NOT NULL AND raid_week_key = ? AND raid_health_remaining > 0)`,
		raid.BossID, raid.HealthRemaining, raid.HealthMax, raid.WeekKey,
		toMillis(raid.SummonedAt), toMillis(time.Now()), sectID, raid.WeekKey,
	)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		sect, err := s.GetSect(ctx, sectID)
		if err != nil {
			return err
		}
		if sect == nil {
			return database.ErrNotFound
		}
		return database.ErrDuplicate
	}
	return nil
}

// GetRaidLog returns the member's raid log for a week, nil when none
func (s *Store) GetRaidLog(ctx context.Context, sectID, weekKey, userID string) (*model.RaidLog, error) {
	return getRaidLog(ctx, s.sqlDB, sectID, weekKey, userID)
}

func getRaidLog(ctx context.Context, q queryer, sectID, weekKey, userID string) (*model.RaidLog, error) {
	l := model.RaidLog{SectID: sectID, WeekKey: weekKey, UserID: userID}
	var lastAttack, rewards string
	err := q.QueryRowContext(ctx,
		`SELECT total_damage, attacks, last_attack_at, reward_claimed
		 FROM raid_logs WHERE sect_id = ? AND week_key = ? AND user_id = ?`,
		sectID, weekKey, userID,
	).Scan(&l.TotalDamage, &l.Attacks, &lastAttack, &rewards)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := decodeRaidLogMaps(&l, lastAttack, rewards); err != nil {
		return nil, err
	}
	return &l, nil
}

// ListRaidLogs returns every raid log of a sect for a week
func (s *Store) ListRaidLogs(ctx context.Context, sectID, weekKey string) ([]*model.RaidLog, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, total_damage, attacks, last_attack_at, reward_claimed
		 FROM raid_logs WHERE sect_id = ? AND week_key = ? ORDER BY user_id`,
		sectID, weekKey,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	logs := make([]*model.RaidLog, 0)
	for rows.Next() {
		l := &model.RaidLog{SectID: sectID, WeekKey: weekKey}
		var lastAttack, rewards string
		if err := rows.Scan(&l.UserID, &l.TotalDamage, &l.Attacks, &lastAttack, &rewards); err != nil {
			return nil, classify(err)
		}
		if err := decodeRaidLogMaps(l, lastAttack, rewards); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// RecordAttack applies damage to the boss and the member's raid log in one transaction
func (s *Store) RecordAttack(ctx context.Context, rec model.RaidAttackRecord) (*model.RaidAttackOutcome, error) {
	var outcome *model.RaidAttackOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		out := &model.RaidAttackOutcome{Applied: true}
		err := tx.QueryRowContext(ctx,
			`UPDATE sects
			 SET raid_health_remaining = MAX(0, raid_health_remaining - ?),
			     raid_weekly_attempts = raid_weekly_attempts + 1,
			     raid_defeated_at = CASE WHEN raid_health_remaining - ? <= 0 THEN ? ELSE raid_defeated_at END
			 WHERE id = ? AND raid_boss_id IS NOT NULL AND raid_week_key = ? AND raid_health_remaining > 0
			 RETURNING raid_health_remaining`,
			rec.Damage, rec.Damage, toMillis(rec.At), rec.SectID, rec.WeekKey,
		).Scan(&out.HealthRemaining)
		if errors.Is(err, sql.ErrNoRows) {
			sect, err := getSect(ctx, tx, rec.SectID)
			if err != nil {
				return err
			}
			if sect == nil || sect.Raid == nil || sect.Raid.WeekKey != rec.WeekKey {
				return database.ErrNotFound
			}
			outcome = &model.RaidAttackOutcome{Defeated: true}
			return nil
		}
		if err != nil {
			return classify(err)
		}
		out.Defeated = out.HealthRemaining == 0

		log, err := getRaidLog(ctx, tx, rec.SectID, rec.WeekKey, rec.UserID)
		if err != nil {
			return err
		}
		if log == nil {
			log = &model.RaidLog{SectID: rec.SectID, WeekKey: rec.WeekKey, UserID: rec.UserID}
		}
		if log.LastAttackAt == nil {
			log.LastAttackAt = make(map[model.AttackType]time.Time)
		}
		log.LastAttackAt[rec.AttackType] = rec.At.UTC()
		lastAttack, err := json.Marshal(log.LastAttackAt)
		if err != nil {
			return fmt.Errorf("encode last attacks: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO raid_logs (sect_id, week_key, user_id, total_damage, attacks, last_attack_at)
			 VALUES (?, ?, ?, ?, 1, ?)
			 ON CONFLICT (sect_id, week_key, user_id) DO UPDATE
			 SET total_damage = total_damage + excluded.total_damage,
			     attacks = attacks + 1,
			     last_attack_at = excluded.last_attack_at
			 RETURNING total_damage`,
			rec.SectID, rec.WeekKey, rec.UserID, rec.Damage, string(lastAttack),
		).Scan(&out.TotalDamage)
		if err != nil {
			return classify(err)
		}
		outcome = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func decodeRaidLogMaps(l *model.RaidLog, lastAttack, rewards string) error {
	l.LastAttackAt = make(map[model.AttackType]time.Time)
	if lastAttack != "" {
		if err := json.Unmarshal([]byte(lastAttack), &l.LastAttackAt); err != nil {
			return fmt.Errorf("decode last attacks: %w", err)
		}
	}
	if rewards != "" && rewards != "{}" {
		if err := json.Unmarshal([]byte(rewards), &l.RewardClaimed); err != nil {
			return fmt.Errorf("decode rewards: %w", err)
		}
	}
	return nil
}

var (
	_ service.LedgerStore    = (*Store)(nil)
	_ service.SectRepository = (*Store)(nil)
	_ service.RaidRepository = (*Store)(nil)
)
