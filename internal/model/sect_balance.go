package model

import "time"

// Balance holds every tunable number of the contribution and raid economy.
// Defaults come from DefaultBalance; deployments may override them with a YAML file.
type Balance struct {
	Version string `yaml:"version" json:"version"`

	Rates        ContributionRates `yaml:"rates" json:"rates"`
	DailyCaps    DailyCaps         `yaml:"daily_caps" json:"daily_caps"`
	Comment      CommentRules      `yaml:"comment" json:"comment"`
	LevelTiers   []LevelTier       `yaml:"level_tiers" json:"level_tiers"`
	Buildings    BuildingEffects   `yaml:"buildings" json:"buildings"`
	Attacks      []AttackSpec      `yaml:"attacks" json:"attacks"`
	WeeklyBonus  WeeklyBonusRules  `yaml:"weekly_bonus" json:"weekly_bonus"`
	FlavorLabels []string          `yaml:"flavor_labels" json:"flavor_labels"`
}

// ContributionRates are the flat energy rates per contribution type
type ContributionRates struct {
	Post              int64 `yaml:"post" json:"post"`
	Comment           int64 `yaml:"comment" json:"comment"`
	UpvoteReceived    int64 `yaml:"upvote_received" json:"upvote_received"`
	DailyCheckin      int64 `yaml:"daily_checkin" json:"daily_checkin"`
	RaidParticipation int64 `yaml:"raid_participation" json:"raid_participation"`
}

// DailyCaps bound how many actions of a type earn energy per day
type DailyCaps struct {
	Posts           int `yaml:"posts" json:"posts"`
	Comments        int `yaml:"comments" json:"comments"`
	UpvotesReceived int `yaml:"upvotes_received" json:"upvotes_received"`
}

// CommentRules configure comment quality checks and diminishing returns
type CommentRules struct {
	MinLength       int           `yaml:"min_length" json:"min_length"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" json:"duplicate_window"`
	Tiers           []CommentTier `yaml:"tiers" json:"tiers"`
}

// CommentTier applies Multiplier to the comment rate for the 1-based
// positions From..To within a day
type CommentTier struct {
	From       int     `yaml:"from" json:"from"`
	To         int     `yaml:"to" json:"to"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// LevelTier is the energy needed to reach a sect level and the members it allows
type LevelTier struct {
	Level          int   `yaml:"level" json:"level"`
	RequiredEnergy int64 `yaml:"required_energy" json:"required_energy"`
	MemberCapacity int   `yaml:"member_capacity" json:"member_capacity"`
}

// BuildingEffects map building level (index 0..MaxBuildingLevel) to effect value
type BuildingEffects struct {
	SpiritFieldDailyEnergy []int64 `yaml:"spirit_field_daily_energy" json:"spirit_field_daily_energy"`
	LibraryTechniqueSlots  []int   `yaml:"library_technique_slots" json:"library_technique_slots"`
	AlchemyShopDiscount    []int   `yaml:"alchemy_shop_discount" json:"alchemy_shop_discount"`
	TrainingArenaBonus     []int   `yaml:"training_arena_bonus" json:"training_arena_bonus"`
}

// AttackSpec describes one raid attack
type AttackSpec struct {
	Type       AttackType    `yaml:"type" json:"type"`
	Label      string        `yaml:"label" json:"label"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	Cooldown   time.Duration `yaml:"cooldown" json:"cooldown"`
}

// WeeklyBonusRules convert weekly contribution energy into flat raid damage
type WeeklyBonusRules struct {
	EnergyCap int64 `yaml:"energy_cap" json:"energy_cap"`
	Divisor   int64 `yaml:"divisor" json:"divisor"`
}

// Attack returns the spec for an attack type
func (b *Balance) Attack(t AttackType) (AttackSpec, bool) {
	for _, a := range b.Attacks {
		if a.Type == t {
			return a, true
		}
	}
	return AttackSpec{}, false
}

// Tier returns the level tier for a level
func (b *Balance) Tier(level int) (LevelTier, bool) {
	for _, t := range b.LevelTiers {
		if t.Level == level {
			return t, true
		}
	}
	return LevelTier{}, false
}

// DefaultBalance returns the stock economy tables
func DefaultBalance() Balance {
	return Balance{
		Version: "2024.1",
		Rates: ContributionRates{
			Post:              50,
			Comment:           10,
			UpvoteReceived:    8,
			DailyCheckin:      20,
			RaidParticipation: 100,
		},
		DailyCaps: DailyCaps{
			Posts:           2,
			Comments:        10,
			UpvotesReceived: 20,
		},
		Comment: CommentRules{
			MinLength:       20,
			DuplicateWindow: 2 * time.Minute,
			Tiers: []CommentTier{
				{From: 1, To: 3, Multiplier: 1.0},
				{From: 4, To: 10, Multiplier: 0.4},
			},
		},
		LevelTiers: []LevelTier{
			{Level: 1, RequiredEnergy: 0, MemberCapacity: 20},
			{Level: 2, RequiredEnergy: 10_000, MemberCapacity: 30},
			{Level: 3, RequiredEnergy: 50_000, MemberCapacity: 40},
			{Level: 4, RequiredEnergy: 200_000, MemberCapacity: 50},
			{Level: 5, RequiredEnergy: 1_000_000, MemberCapacity: 60},
		},
		Buildings: BuildingEffects{
			SpiritFieldDailyEnergy: []int64{0, 5, 10, 20},
			LibraryTechniqueSlots:  []int{0, 1, 2, 3},
			AlchemyShopDiscount:    []int{0, 5, 10, 15},
			TrainingArenaBonus:     []int{0, 5, 10, 15},
		},
		Attacks: []AttackSpec{
			{Type: AttackBasic, Label: "Basic Strike", Multiplier: 0.5, Cooldown: time.Second},
			{Type: AttackArtifact, Label: "Artifact Burst", Multiplier: 1.5, Cooldown: 15 * time.Second},
			{Type: AttackUltimate, Label: "Ultimate Technique", Multiplier: 4.0, Cooldown: 6 * time.Hour},
		},
		WeeklyBonus: WeeklyBonusRules{
			EnergyCap: 500,
			Divisor:   50,
		},
		FlavorLabels: []string{
			"Sword Qi Surge",
			"Azure Dragon Strike",
			"Nine Heavens Thunder",
			"Lotus Blossom Palm",
			"Phoenix Flame Burst",
		},
	}
}
