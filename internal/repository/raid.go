package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

// RaidRepository handles raid bosses and per-member raid logs
type RaidRepository struct {
	*SectRepository
}

// NewRaidRepository creates a new raid repository
func NewRaidRepository(db database.Database) *RaidRepository {
	return &RaidRepository{SectRepository: NewSectRepository(db)}
}

func raidLogID(sectID, weekKey, userID string) string {
	return compositeID("raid_log", sectID, weekKey, userID)
}

// SummonRaid installs a raid unless an undefeated raid of the same week is active
func (r *RaidRepository) SummonRaid(ctx context.Context, sectID string, raid *model.RaidInstance) error {
	tb := database.NewTxBuilder()
	tb.Add(`LET $current = (SELECT VALUE raid FROM type::record($sect_id))[0];
		IF $current AND $current.week_key = $week_key AND $current.defeated_at = NONE {
			THROW "`+database.ThrowDuplicate+`"
		};
		UPDATE type::record($sect_id) SET
			raid = {
				boss_id: $boss_id,
				health_remaining: $health_max,
				health_max: $health_max,
				week_key: $week_key,
				weekly_attempts: 0,
				summoned_at: <datetime>$summoned_at,
				defeated_at: NONE
			},
			updated_on = time::now()`,
		map[string]interface{}{
			"sect_id":     sectID,
			"week_key":    raid.WeekKey,
			"boss_id":     raid.BossID,
			"health_max":  raid.HealthMax,
			"summoned_at": surrealTime(raid.SummonedAt),
		})

	_, err := database.ExecuteTransaction(ctx, r.db, tb)
	return err
}

// RecordAttack applies damage to the boss and the member's raid log in one
// transaction. The boss update only matches while health remains, so two
// final blows cannot both land.
func (r *RaidRepository) RecordAttack(ctx context.Context, rec model.RaidAttackRecord) (*model.RaidAttackOutcome, error) {
	// attack type names a field, so it must be one of the known constants
	switch rec.AttackType {
	case model.AttackBasic, model.AttackArtifact, model.AttackUltimate:
	default:
		return nil, fmt.Errorf("%w: unknown attack type %q", database.ErrQuery, rec.AttackType)
	}
	cooldownField := "last_attack_at." + string(rec.AttackType)

	tb := database.NewTxBuilder()
	tb.Add(`LET $current = (SELECT VALUE raid FROM type::record($sect_id))[0];
		IF !$current OR $current.week_key != $week_key {
			THROW "`+database.ThrowNotFound+`"
		};
		LET $hit = (UPDATE type::record($sect_id) SET
			raid.defeated_at = IF raid.health_remaining <= $damage THEN <datetime>$attacked_at ELSE raid.defeated_at END,
			raid.health_remaining = math::max([0, raid.health_remaining - $damage]),
			raid.weekly_attempts += 1
			WHERE raid.health_remaining > 0
			RETURN AFTER)[0];
		IF $hit {
			UPSERT type::record($log_id) SET
				sect = type::record($sect_id),
				week_key = $week_key,
				user = $user_id,
				total_damage = (total_damage ?? 0) + $damage,
				attacks = (attacks ?? 0) + 1,
				`+cooldownField+` = <datetime>$attacked_at
		};
		RETURN {
			applied: $hit != NONE,
			health_remaining: $hit.raid.health_remaining ?? 0,
			defeated: $hit = NONE OR $hit.raid.defeated_at != NONE,
			total_damage: (SELECT VALUE total_damage FROM type::record($log_id))[0] ?? 0
		}`,
		map[string]interface{}{
			"sect_id":     rec.SectID,
			"week_key":    rec.WeekKey,
			"damage":      rec.Damage,
			"attacked_at": surrealTime(rec.At),
			"log_id":      raidLogID(rec.SectID, rec.WeekKey, rec.UserID),
			"user_id":     rec.UserID,
		})

	results, err := database.ExecuteTransaction(ctx, r.db, tb)
	if err != nil {
		return nil, err
	}

	out := lastObjectWith(results, "applied")
	if out == nil {
		return nil, errUnexpectedResult
	}
	return &model.RaidAttackOutcome{
		Applied:         getBool(out, "applied"),
		HealthRemaining: getInt64(out, "health_remaining"),
		Defeated:        getBool(out, "defeated"),
		TotalDamage:     getInt64(out, "total_damage"),
	}, nil
}

// GetRaidLog returns the member's raid log for a week, nil when none
func (r *RaidRepository) GetRaidLog(ctx context.Context, sectID, weekKey, userID string) (*model.RaidLog, error) {
	query := `SELECT * FROM type::record($id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"id": raidLogID(sectID, weekKey, userID)})
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
	log := parseRaidLog(data)
	log.SectID = sectID
	return log, nil
}

// ListRaidLogs returns every raid log of a sect for a week
func (r *RaidRepository) ListRaidLogs(ctx context.Context, sectID, weekKey string) ([]*model.RaidLog, error) {
	query := `SELECT * FROM raid_log WHERE sect = type::record($sect_id) AND week_key = $week_key`
	results, err := r.db.Query(ctx, query, map[string]interface{}{
		"sect_id":  sectID,
		"week_key": weekKey,
	})
	if err != nil {
		return nil, err
	}

	logs := make([]*model.RaidLog, 0)
	records, ok := extractQueryResults(results)
	if !ok {
		return logs, nil
	}
	for _, rec := range records {
		if data, ok := rec.(map[string]interface{}); ok {
			log := parseRaidLog(data)
			log.SectID = sectID
			logs = append(logs, log)
		}
	}
	return logs, nil
}

func parseRaidLog(data map[string]interface{}) *model.RaidLog {
	log := &model.RaidLog{
		WeekKey:       getString(data, "week_key"),
		UserID:        getString(data, "user"),
		TotalDamage:   getInt64(data, "total_damage"),
		Attacks:       getInt(data, "attacks"),
		LastAttackAt:  make(map[model.AttackType]time.Time),
		RewardClaimed: make(map[string]bool),
	}
	if last := getMap(data, "last_attack_at"); last != nil {
		for k := range last {
			if t := getTime(last, k); t != nil {
				log.LastAttackAt[model.AttackType(k)] = *t
			}
		}
	}
	if claimed := getMap(data, "reward_claimed"); claimed != nil {
		for k := range claimed {
			log.RewardClaimed[k] = getBool(claimed, k)
		}
	}
	return log
}

var _ service.RaidRepository = (*RaidRepository)(nil)
