package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forgo/sect/internal/model"
)

// LoadBalance reads a YAML balance file over the default tables and validates
// the result. Keys absent from the file keep their defaults; lists present in
// the file replace the default list as a whole.
func LoadBalance(path string) (*model.Balance, error) {
	balance := model.DefaultBalance()
	if path == "" {
		return &balance, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read balance file: %w", err)
	}
	if err := yaml.Unmarshal(data, &balance); err != nil {
		return nil, fmt.Errorf("parse balance file %s: %w", path, err)
	}
	if err := ValidateBalance(&balance); err != nil {
		return nil, fmt.Errorf("invalid balance file %s: %w", path, err)
	}
	return &balance, nil
}

// ValidateBalance checks the economy tables for shapes the ledger and the
// combat resolver rely on
func ValidateBalance(b *model.Balance) error {
	var errs []error

	rates := map[string]int64{
		"rates.post":               b.Rates.Post,
		"rates.comment":            b.Rates.Comment,
		"rates.upvote_received":    b.Rates.UpvoteReceived,
		"rates.daily_checkin":      b.Rates.DailyCheckin,
		"rates.raid_participation": b.Rates.RaidParticipation,
	}
	for name, v := range rates {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if b.DailyCaps.Posts < 0 || b.DailyCaps.Comments < 0 || b.DailyCaps.UpvotesReceived < 0 {
		errs = append(errs, errors.New("daily_caps must not be negative"))
	}

	if b.Comment.MinLength < 0 {
		errs = append(errs, errors.New("comment.min_length must not be negative"))
	}
	if b.Comment.DuplicateWindow < 0 {
		errs = append(errs, errors.New("comment.duplicate_window must not be negative"))
	}
	next := 1
	for i, tier := range b.Comment.Tiers {
		if tier.From != next || tier.To < tier.From {
			errs = append(errs, fmt.Errorf("comment.tiers[%d] must start at %d and not end before it starts", i, next))
		}
		if tier.Multiplier < 0 {
			errs = append(errs, fmt.Errorf("comment.tiers[%d].multiplier must not be negative", i))
		}
		next = tier.To + 1
	}
	if len(b.Comment.Tiers) > 0 && next-1 < b.DailyCaps.Comments {
		errs = append(errs, fmt.Errorf("comment.tiers end at %d but daily_caps.comments is %d", next-1, b.DailyCaps.Comments))
	}

	errs = append(errs, validateLevelTiers(b.LevelTiers)...)
	errs = append(errs, validateBuildings(&b.Buildings)...)

	seen := make(map[model.AttackType]bool)
	for i, a := range b.Attacks {
		if seen[a.Type] {
			errs = append(errs, fmt.Errorf("attacks[%d]: duplicate type %q", i, a.Type))
		}
		seen[a.Type] = true
		if a.Multiplier <= 0 {
			errs = append(errs, fmt.Errorf("attacks[%d].multiplier must be positive", i))
		}
		if a.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("attacks[%d].cooldown must not be negative", i))
		}
	}
	for _, want := range []model.AttackType{model.AttackBasic, model.AttackArtifact, model.AttackUltimate} {
		if !seen[want] {
			errs = append(errs, fmt.Errorf("attacks: missing %q", want))
		}
	}

	if b.WeeklyBonus.Divisor <= 0 {
		errs = append(errs, errors.New("weekly_bonus.divisor must be positive"))
	}
	if b.WeeklyBonus.EnergyCap < 0 {
		errs = append(errs, errors.New("weekly_bonus.energy_cap must not be negative"))
	}
	if len(b.FlavorLabels) == 0 {
		errs = append(errs, errors.New("flavor_labels must not be empty"))
	}

	return errors.Join(errs...)
}

func validateLevelTiers(tiers []model.LevelTier) []error {
	if len(tiers) == 0 {
		return []error{errors.New("level_tiers must not be empty")}
	}

	var errs []error
	if tiers[0].Level != 1 || tiers[0].RequiredEnergy != 0 {
		errs = append(errs, errors.New("level_tiers must start at level 1 with required_energy 0"))
	}
	for i := 1; i < len(tiers); i++ {
		prev, cur := tiers[i-1], tiers[i]
		if cur.Level != prev.Level+1 {
			errs = append(errs, fmt.Errorf("level_tiers[%d]: levels must be consecutive", i))
		}
		if cur.RequiredEnergy <= prev.RequiredEnergy {
			errs = append(errs, fmt.Errorf("level_tiers[%d]: required_energy must ascend", i))
		}
		if cur.MemberCapacity < prev.MemberCapacity {
			errs = append(errs, fmt.Errorf("level_tiers[%d]: member_capacity must not shrink", i))
		}
	}
	return errs
}

func validateBuildings(b *model.BuildingEffects) []error {
	var errs []error
	check := func(name string, values []int64) {
		if len(values) != model.MaxBuildingLevel+1 {
			errs = append(errs, fmt.Errorf("buildings.%s needs %d entries, got %d", name, model.MaxBuildingLevel+1, len(values)))
			return
		}
		for i := 1; i < len(values); i++ {
			if values[i] < values[i-1] {
				errs = append(errs, fmt.Errorf("buildings.%s must not decrease with level", name))
				return
			}
		}
	}

	check("spirit_field_daily_energy", b.SpiritFieldDailyEnergy)
	check("library_technique_slots", widen(b.LibraryTechniqueSlots))
	check("alchemy_shop_discount", widen(b.AlchemyShopDiscount))
	check("training_arena_bonus", widen(b.TrainingArenaBonus))
	return errs
}

func widen(values []int) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}
