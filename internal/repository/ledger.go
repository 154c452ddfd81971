package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

// LedgerRepository persists contribution ledger state in SurrealDB.
// Reads happen before the commit; the commit re-checks each record's version
// inside one transaction and fails with database.ErrConflict if it moved.
type LedgerRepository struct {
	*SectRepository
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db database.Database) *LedgerRepository {
	return &LedgerRepository{SectRepository: NewSectRepository(db)}
}

func dailyStatID(sectID, userID, dateKey string) string {
	return compositeID("sect_daily_stat", sectID, userID, dateKey)
}

// RunInTx runs fn against one member's ledger records and commits its writes
func (r *LedgerRepository) RunInTx(ctx context.Context, sectID, userID string, fn func(tx service.LedgerTx) error) (*model.SectCredit, error) {
	tx := &ledgerTx{repo: r, sectID: sectID, userID: userID}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if tx.contribution == nil && tx.stat == nil && tx.delta == 0 {
		return nil, nil
	}
	return r.commit(ctx, tx)
}

func (r *LedgerRepository) commit(ctx context.Context, tx *ledgerTx) (*model.SectCredit, error) {
	tb := database.NewTxBuilder()

	if c := tx.contribution; c != nil {
		id := contributionID(tx.sectID, tx.userID)
		tb.AddVersionGuard(id, c.Version)
		tb.Add(`UPSERT type::record($id) CONTENT {
				sect: type::record($sect_id),
				user: $user_id,
				total_energy: $total_energy,
				weekly: { week_key: $week_key, energy: $weekly_energy },
				participation_week: $participation_week,
				updated_on: <datetime>$updated_on,
				version: $version
			}`, map[string]interface{}{
			"id":            id,
			"sect_id":       tx.sectID,
			"user_id":       tx.userID,
			"total_energy":  c.TotalEnergy,
			"week_key":      c.Weekly.WeekKey,
			"weekly_energy": c.Weekly.Energy,
			"updated_on":    surrealTime(c.UpdatedOn),
			"version":       c.Version + 1,

			"participation_week": c.ParticipationWeek,
		})
	}

	if d := tx.stat; d != nil {
		id := dailyStatID(tx.sectID, tx.userID, d.DateKey)
		tb.AddVersionGuard(id, d.Version)
		tb.Add(`UPSERT type::record($id) CONTENT {
				sect: type::record($sect_id),
				user: $user_id,
				date_key: $date_key,
				posts: $posts,
				comments: $comments,
				upvotes_received: $upvotes_received,
				checkin_done: $checkin_done,
				last_comment_hash: $last_comment_hash,
				last_comment_at: IF $last_comment_at THEN <datetime>$last_comment_at ELSE NONE END,
				version: $version
			}`, map[string]interface{}{
			"id":                id,
			"sect_id":           tx.sectID,
			"user_id":           tx.userID,
			"date_key":          d.DateKey,
			"posts":             d.Posts,
			"comments":          d.Comments,
			"upvotes_received":  d.UpvotesReceived,
			"checkin_done":      d.CheckinDone,
			"last_comment_hash": d.LastCommentHash,
			"last_comment_at":   timeOrNone(d.LastCommentAt),
			"version":           d.Version + 1,
		})
	}

	if tx.delta > 0 {
		tb.Add(`LET $before = (SELECT VALUE level FROM type::record($sect_id))[0] ?? 1;
			LET $after = (UPDATE type::record($sect_id) SET
				spirit_energy += $delta,
				total_energy_earned += $delta,
				updated_on = time::now()
				RETURN AFTER)[0];
			LET $reached = math::max($tiers[WHERE required_energy <= $after.total_energy_earned].level) ?? 1;
			LET $final = (UPDATE type::record($sect_id) SET level = math::max([level, $reached]) RETURN AFTER)[0];
			RETURN {
				previous_level: $before,
				level: $final.level,
				spirit_energy: $final.spirit_energy,
				total_energy_earned: $final.total_energy_earned
			}`, map[string]interface{}{
			"sect_id": tx.sectID,
			"delta":   tx.delta,
			"tiers":   tierRows(tx.tiers),
		})
	}

	results, err := database.ExecuteTransaction(ctx, r.db, tb)
	if err != nil {
		return nil, err
	}
	if tx.delta == 0 {
		return nil, nil
	}

	out := lastObjectWith(results, "previous_level")
	if out == nil {
		return nil, errUnexpectedResult
	}
	return &model.SectCredit{
		SectID:            tx.sectID,
		SpiritEnergy:      getInt64(out, "spirit_energy"),
		TotalEnergyEarned: getInt64(out, "total_energy_earned"),
		PreviousLevel:     getInt(out, "previous_level"),
		Level:             getInt(out, "level"),
	}, nil
}

// GetDailyStat returns a member's counters for one day, nil when none
func (r *LedgerRepository) GetDailyStat(ctx context.Context, sectID, userID, dateKey string) (*model.SectDailyStat, error) {
	query := `SELECT * FROM type::record($id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{
		"id": dailyStatID(sectID, userID, dateKey),
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	return &model.SectDailyStat{
		SectID:          sectID,
		UserID:          userID,
		DateKey:         dateKey,
		Posts:           getInt(data, "posts"),
		Comments:        getInt(data, "comments"),
		UpvotesReceived: getInt(data, "upvotes_received"),
		CheckinDone:     getBool(data, "checkin_done"),
		LastCommentHash: getString(data, "last_comment_hash"),
		LastCommentAt:   getTime(data, "last_comment_at"),
		Version:         getInt64(data, "version"),
	}, nil
}

// DeleteDailyStatsBefore removes daily counters older than dateKey
func (r *LedgerRepository) DeleteDailyStatsBefore(ctx context.Context, dateKey string) (int, error) {
	query := `DELETE sect_daily_stat WHERE date_key < $date_key RETURN BEFORE`
	results, err := r.db.Query(ctx, query, map[string]interface{}{"date_key": dateKey})
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily stats: %w", err)
	}
	deleted, _ := extractQueryResults(results)
	return len(deleted), nil
}

func tierRows(tiers []model.LevelTier) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(tiers))
	for _, t := range tiers {
		rows = append(rows, map[string]interface{}{
			"level":           t.Level,
			"required_energy": t.RequiredEnergy,
		})
	}
	return rows
}

type ledgerTx struct {
	repo   *LedgerRepository
	sectID string
	userID string

	contribution *model.SectContribution
	stat         *model.SectDailyStat
	delta        int64
	tiers        []model.LevelTier
}

func (t *ledgerTx) Contribution(ctx context.Context) (*model.SectContribution, error) {
	c, err := t.repo.GetContribution(ctx, t.sectID, t.userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &model.SectContribution{SectID: t.sectID, UserID: t.userID}
	}
	return c, nil
}

func (t *ledgerTx) DailyStat(ctx context.Context, dateKey string) (*model.SectDailyStat, error) {
	stat, err := t.repo.GetDailyStat(ctx, t.sectID, t.userID, dateKey)
	if err != nil {
		return nil, err
	}
	if stat == nil {
		stat = &model.SectDailyStat{SectID: t.sectID, UserID: t.userID, DateKey: dateKey}
	}
	return stat, nil
}

func (t *ledgerTx) SaveContribution(c *model.SectContribution) { t.contribution = c }

func (t *ledgerTx) SaveDailyStat(d *model.SectDailyStat) { t.stat = d }

func (t *ledgerTx) CreditSect(delta int64, tiers []model.LevelTier) {
	t.delta += delta
	t.tiers = tiers
}

var (
	_ service.LedgerStore    = (*LedgerRepository)(nil)
	_ service.SectRepository = (*SectRepository)(nil)
)
