package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
)

// SectRepository handles sect and membership data access
type SectRepository struct {
	db database.Database
}

// NewSectRepository creates a new sect repository
func NewSectRepository(db database.Database) *SectRepository {
	return &SectRepository{db: db}
}

func activeMemberID(userID string) string {
	return compositeID("sect_active_member", userID)
}

func contributionID(sectID, userID string) string {
	return compositeID("sect_contribution", sectID, userID)
}

// GetSect retrieves a sect by ID, nil when missing
func (r *SectRepository) GetSect(ctx context.Context, sectID string) (*model.Sect, error) {
	query := `SELECT * FROM type::record($id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"id": sectID})
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
	return parseSect(data), nil
}

// GetActiveMembership retrieves the user's active membership, nil when none
func (r *SectRepository) GetActiveMembership(ctx context.Context, userID string) (*model.SectMembership, error) {
	query := `SELECT * FROM sect_membership WHERE user = $user_id AND active = true LIMIT 1`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"user_id": userID})
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
	return parseMembership(data), nil
}

// CountActiveMembers counts the active members of a sect
func (r *SectRepository) CountActiveMembers(ctx context.Context, sectID string) (int, error) {
	query := `SELECT count() AS count FROM sect_membership WHERE sect = type::record($sect_id) AND active = true GROUP ALL`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"sect_id": sectID})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if data, ok := result.(map[string]interface{}); ok {
		return getInt(data, "count"), nil
	}
	return 0, nil
}

// CreateSect creates a sect and its leader's membership in one transaction.
// The sect_active_member record keyed by user makes a second active membership
// fail with ErrDuplicate.
func (r *SectRepository) CreateSect(ctx context.Context, sect *model.Sect, leader *model.SectMembership) error {
	sectID := newRecordID("sect")
	membershipID := newRecordID("sect_membership")

	batch := database.NewAtomicBatch()
	batch.Add(`CREATE type::record($marker) CONTENT {
			user: $user_id,
			sect: type::record($sect_id),
			membership: type::record($membership_id)
		}`, map[string]interface{}{
		"marker":        activeMemberID(leader.UserID),
		"user_id":       leader.UserID,
		"sect_id":       sectID,
		"membership_id": membershipID,
	})
	batch.Add(`CREATE type::record($id) CONTENT {
			name: $name,
			description: $description,
			active: true,
			level: $level,
			spirit_energy: 0,
			total_energy_earned: 0,
			buildings: [],
			raid: NONE,
			created_on: <datetime>$created_on,
			updated_on: <datetime>$created_on
		}`, map[string]interface{}{
		"id":          sectID,
		"name":        sect.Name,
		"description": sect.Description,
		"level":       sect.Level,
		"created_on":  surrealTime(sect.CreatedOn),
	})
	batch.Add(`CREATE type::record($id) CONTENT {
			sect: type::record($sect_id),
			user: $user_id,
			role: $role,
			active: true,
			joined_on: <datetime>$joined_on
		}`, map[string]interface{}{
		"id":        membershipID,
		"sect_id":   sectID,
		"user_id":   leader.UserID,
		"role":      string(leader.Role),
		"joined_on": surrealTime(leader.JoinedOn),
	})

	if err := batch.Execute(ctx, r.db); err != nil {
		return err
	}

	sect.ID = sectID
	leader.ID = membershipID
	leader.SectID = sectID
	return nil
}

// AddMembership adds an active membership if the user has none and the sect
// has fewer than capacity active members
func (r *SectRepository) AddMembership(ctx context.Context, membership *model.SectMembership, capacity int) error {
	membershipID := newRecordID("sect_membership")

	batch := database.NewAtomicBatch()
	batch.Add(`IF array::len((SELECT id FROM sect_membership WHERE sect = type::record($sect_id) AND active = true)) >= $capacity {
			THROW "`+database.ThrowLimitExceeded+`"
		}`, map[string]interface{}{
		"sect_id":  membership.SectID,
		"capacity": capacity,
	})
	batch.Add(`CREATE type::record($marker) CONTENT {
			user: $user_id,
			sect: type::record($sect_id),
			membership: type::record($membership_id)
		}`, map[string]interface{}{
		"marker":        activeMemberID(membership.UserID),
		"user_id":       membership.UserID,
		"sect_id":       membership.SectID,
		"membership_id": membershipID,
	})
	batch.Add(`CREATE type::record($id) CONTENT {
			sect: type::record($sect_id),
			user: $user_id,
			role: $role,
			active: true,
			joined_on: <datetime>$joined_on
		}`, map[string]interface{}{
		"id":        membershipID,
		"sect_id":   membership.SectID,
		"user_id":   membership.UserID,
		"role":      string(membership.Role),
		"joined_on": surrealTime(membership.JoinedOn),
	})

	if err := batch.Execute(ctx, r.db); err != nil {
		return err
	}
	membership.ID = membershipID
	return nil
}

// DeactivateMembership ends a user's membership, optionally closing the sect
func (r *SectRepository) DeactivateMembership(ctx context.Context, sectID, userID string, closeSect bool) error {
	current, err := r.GetActiveMembership(ctx, userID)
	if err != nil {
		return err
	}
	if current == nil || current.SectID != sectID {
		return database.ErrNotFound
	}

	batch := database.NewAtomicBatch()
	batch.Add(`UPDATE type::record($id) SET active = false, left_on = time::now()`,
		map[string]interface{}{"id": current.ID})
	batch.Add(`DELETE type::record($marker)`,
		map[string]interface{}{"marker": activeMemberID(userID)})
	if closeSect {
		batch.Add(`UPDATE type::record($id) SET active = false, updated_on = time::now()`,
			map[string]interface{}{"id": sectID})
	}
	return batch.Execute(ctx, r.db)
}

// SetBuildingLevel replaces a building entry on the sect
func (r *SectRepository) SetBuildingLevel(ctx context.Context, sectID string, kind model.BuildingKind, level int) error {
	query := `
		UPDATE type::record($id) SET
			buildings = array::append(buildings[WHERE kind != $kind] ?? [], { kind: $kind, level: $level }),
			updated_on = time::now()
	`
	return r.db.Execute(ctx, query, map[string]interface{}{
		"id":    sectID,
		"kind":  string(kind),
		"level": level,
	})
}

// GetContribution retrieves a member's contribution record, nil when none
func (r *SectRepository) GetContribution(ctx context.Context, sectID, userID string) (*model.SectContribution, error) {
	query := `SELECT * FROM type::record($id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"id": contributionID(sectID, userID)})
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
	c := parseContribution(data)
	c.SectID = sectID
	c.UserID = userID
	return c, nil
}

func parseSect(data map[string]interface{}) *model.Sect {
	sect := &model.Sect{
		ID:                extractRecordID(data["id"]),
		Name:              getString(data, "name"),
		Description:       getString(data, "description"),
		Active:            getBool(data, "active"),
		Level:             getInt(data, "level"),
		SpiritEnergy:      getInt64(data, "spirit_energy"),
		TotalEnergyEarned: getInt64(data, "total_energy_earned"),
		Buildings:         []model.SectBuilding{},
		CreatedOn:         parseTime(data["created_on"]),
		UpdatedOn:         parseTime(data["updated_on"]),
	}

	if items, ok := data["buildings"].([]interface{}); ok {
		for _, item := range items {
			if b, ok := item.(map[string]interface{}); ok {
				sect.Buildings = append(sect.Buildings, model.SectBuilding{
					Kind:  model.BuildingKind(getString(b, "kind")),
					Level: getInt(b, "level"),
				})
			}
		}
	}

	if raid := getMap(data, "raid"); raid != nil {
		sect.Raid = &model.RaidInstance{
			BossID:          getString(raid, "boss_id"),
			HealthRemaining: getInt64(raid, "health_remaining"),
			HealthMax:       getInt64(raid, "health_max"),
			WeekKey:         getString(raid, "week_key"),
			WeeklyAttempts:  getInt(raid, "weekly_attempts"),
			SummonedAt:      parseTime(raid["summoned_at"]),
			DefeatedAt:      getTime(raid, "defeated_at"),
		}
	}
	return sect
}

func parseMembership(data map[string]interface{}) *model.SectMembership {
	return &model.SectMembership{
		ID:       extractRecordID(data["id"]),
		SectID:   extractRecordID(data["sect"]),
		UserID:   getString(data, "user"),
		Role:     model.SectRole(getString(data, "role")),
		Active:   getBool(data, "active"),
		JoinedOn: parseTime(data["joined_on"]),
	}
}

func parseContribution(data map[string]interface{}) *model.SectContribution {
	c := &model.SectContribution{
		TotalEnergy:       getInt64(data, "total_energy"),
		ParticipationWeek: getString(data, "participation_week"),
		UpdatedOn:         parseTime(data["updated_on"]),
		Version:           getInt64(data, "version"),
	}
	if weekly := getMap(data, "weekly"); weekly != nil {
		c.Weekly = model.WeeklyEnergy{
			WeekKey: getString(weekly, "week_key"),
			Energy:  getInt64(weekly, "energy"),
		}
	}
	return c
}

func timeOrNone(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return surrealTime(*t)
}

var errUnexpectedResult = fmt.Errorf("%w: unexpected result shape", database.ErrQuery)
