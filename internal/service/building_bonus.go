package service

import (
	"context"
	"fmt"

	"github.com/forgo/sect/internal/model"
)

// SectReader is the read side shared by the ledger, the bonus resolver and raids
type SectReader interface {
	// GetSect returns nil, nil when the sect does not exist
	GetSect(ctx context.Context, sectID string) (*model.Sect, error)
	// GetActiveMembership returns nil, nil when the user belongs to no sect
	GetActiveMembership(ctx context.Context, userID string) (*model.SectMembership, error)
}

// BuildingBonusResolver derives passive bonuses from sect buildings
type BuildingBonusResolver struct {
	reader  SectReader
	balance *model.Balance
}

// BuildingBonusResolverConfig holds configuration for the bonus resolver
type BuildingBonusResolverConfig struct {
	Reader  SectReader
	Balance *model.Balance
}

// NewBuildingBonusResolver creates a bonus resolver
func NewBuildingBonusResolver(cfg BuildingBonusResolverConfig) *BuildingBonusResolver {
	if cfg.Balance == nil {
		b := model.DefaultBalance()
		cfg.Balance = &b
	}
	return &BuildingBonusResolver{
		reader:  cfg.Reader,
		balance: cfg.Balance,
	}
}

// GetBonuses returns the bonuses of the user's active sect.
// A user without an active membership gets zero bonuses.
func (r *BuildingBonusResolver) GetBonuses(ctx context.Context, userID string) (model.BuildingBonuses, error) {
	membership, err := r.reader.GetActiveMembership(ctx, userID)
	if err != nil {
		return model.BuildingBonuses{}, fmt.Errorf("get membership: %w", err)
	}
	if membership == nil {
		return model.BuildingBonuses{}, nil
	}

	sect, err := r.reader.GetSect(ctx, membership.SectID)
	if err != nil {
		return model.BuildingBonuses{}, fmt.Errorf("get sect: %w", err)
	}
	if sect == nil {
		return model.BuildingBonuses{}, nil
	}
	return r.ForSect(sect), nil
}

// ForSect computes bonuses from an already loaded sect
func (r *BuildingBonusResolver) ForSect(sect *model.Sect) model.BuildingBonuses {
	effects := r.balance.Buildings
	return model.BuildingBonuses{
		DailyBonusEnergy:    effectAt(effects.SpiritFieldDailyEnergy, sect.BuildingLevel(model.BuildingSpiritField)),
		TechniqueSlots:      effectAt(effects.LibraryTechniqueSlots, sect.BuildingLevel(model.BuildingLibrary)),
		ShopDiscountPercent: effectAt(effects.AlchemyShopDiscount, sect.BuildingLevel(model.BuildingAlchemyRoom)),
		ArenaBonusPercent:   effectAt(effects.TrainingArenaBonus, sect.BuildingLevel(model.BuildingTrainingGrounds)),
	}
}

// effectAt looks up a building effect, clamping the level into the table
func effectAt[T int | int64](table []T, level int) T {
	var zero T
	if len(table) == 0 || level <= 0 {
		return zero
	}
	level = min(level, model.MaxBuildingLevel, len(table)-1)
	return table[level]
}
