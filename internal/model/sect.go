package model

import "time"

// SectRole is a member's rank inside a sect
type SectRole string

const (
	SectRoleLeader SectRole = "leader"
	SectRoleElder  SectRole = "elder"
	SectRoleMember SectRole = "member"
)

// BuildingKind identifies a sect building
type BuildingKind string

const (
	BuildingSpiritField     BuildingKind = "spirit_field"
	BuildingLibrary         BuildingKind = "library"
	BuildingAlchemyRoom     BuildingKind = "alchemy_room"
	BuildingTrainingGrounds BuildingKind = "training_grounds"
)

// Validation constants
const (
	MaxSectNameLength   = 64
	MaxBuildingLevel    = 3
	MaxCommentTextRunes = 10000
)

// Sect is a cultivation group with a shared spirit energy pool
type Sect struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Active            bool           `json:"active"`
	Level             int            `json:"level"`
	SpiritEnergy      int64          `json:"spirit_energy"`
	TotalEnergyEarned int64          `json:"total_energy_earned"`
	Buildings         []SectBuilding `json:"buildings"`
	Raid              *RaidInstance  `json:"raid,omitempty"`
	CreatedOn         time.Time      `json:"created_on"`
	UpdatedOn         time.Time      `json:"updated_on"`
}

// BuildingLevel returns the level of a building, 0 when the sect has not built it
func (s *Sect) BuildingLevel(kind BuildingKind) int {
	for _, b := range s.Buildings {
		if b.Kind == kind {
			return b.Level
		}
	}
	return 0
}

// SectBuilding is a constructed building and its level
type SectBuilding struct {
	Kind  BuildingKind `json:"kind"`
	Level int          `json:"level"`
}

// RaidInstance is the boss currently summoned by a sect.
// A raid is bound to the week it was summoned in.
type RaidInstance struct {
	BossID          string     `json:"boss_id"`
	HealthRemaining int64      `json:"health_remaining"`
	HealthMax       int64      `json:"health_max"`
	WeekKey         string     `json:"week_key"`
	WeeklyAttempts  int        `json:"weekly_attempts"`
	SummonedAt      time.Time  `json:"summoned_at"`
	DefeatedAt      *time.Time `json:"defeated_at,omitempty"`
}

// Defeated reports whether the boss has no health left
func (r *RaidInstance) Defeated() bool {
	return r.HealthRemaining <= 0
}

// SectMembership links a user to a sect
type SectMembership struct {
	ID       string    `json:"id"`
	SectID   string    `json:"sect_id"`
	UserID   string    `json:"user_id"`
	Role     SectRole  `json:"role"`
	Active   bool      `json:"active"`
	JoinedOn time.Time `json:"joined_on"`
}

// WeeklyEnergy is the energy a member earned during one week
type WeeklyEnergy struct {
	WeekKey string `json:"week_key"`
	Energy  int64  `json:"energy"`
}

// SectContribution is the running contribution total of one member of one sect
type SectContribution struct {
	SectID      string       `json:"sect_id"`
	UserID      string       `json:"user_id"`
	TotalEnergy int64        `json:"total_energy"`
	Weekly      WeeklyEnergy `json:"weekly"`
	// ParticipationWeek is the last week whose raid participation was credited
	ParticipationWeek string    `json:"participation_week,omitempty"`
	UpdatedOn         time.Time `json:"updated_on"`
	// Version is the optimistic concurrency token, 0 for a record not yet stored
	Version int64 `json:"-"`
}

// SectDailyStat holds a member's per-day counters used for caps and duplicate detection
type SectDailyStat struct {
	SectID          string     `json:"sect_id"`
	UserID          string     `json:"user_id"`
	DateKey         string     `json:"date_key"`
	Posts           int        `json:"posts"`
	Comments        int        `json:"comments"`
	UpvotesReceived int        `json:"upvotes_received"`
	CheckinDone     bool       `json:"checkin_done"`
	LastCommentHash string     `json:"last_comment_hash,omitempty"`
	LastCommentAt   *time.Time `json:"last_comment_at,omitempty"`
	Version         int64      `json:"-"`
}

// RaidLog is a member's raid activity for one week
type RaidLog struct {
	SectID        string                   `json:"sect_id"`
	WeekKey       string                   `json:"week_key"`
	UserID        string                   `json:"user_id"`
	TotalDamage   int64                    `json:"total_damage"`
	Attacks       int                      `json:"attacks"`
	LastAttackAt  map[AttackType]time.Time `json:"last_attack_at"`
	RewardClaimed map[string]bool          `json:"reward_claimed,omitempty"`
}

// LastAttack returns the last time the given attack was used, nil if never this week
func (l *RaidLog) LastAttack(t AttackType) *time.Time {
	if l == nil || l.LastAttackAt == nil {
		return nil
	}
	at, ok := l.LastAttackAt[t]
	if !ok {
		return nil
	}
	return &at
}

// ContributionType enumerates the social actions that earn spirit energy
type ContributionType string

const (
	ContributionPost              ContributionType = "post"
	ContributionComment           ContributionType = "comment"
	ContributionUpvoteReceived    ContributionType = "upvote_received"
	ContributionDailyCheckin      ContributionType = "daily_checkin"
	ContributionRaidParticipation ContributionType = "raid_participation"
)

// Reason codes reported on contribution results
const (
	ReasonOK                     = "OK"
	ReasonSectNotFound           = "SECT_NOT_FOUND"
	ReasonNotMember              = "NOT_MEMBER"
	ReasonUnknownType            = "UNKNOWN_TYPE"
	ReasonDailyCapPost           = "DAILY_CAP_POST"
	ReasonDailyCapComment        = "DAILY_CAP_COMMENT"
	ReasonDailyCapUpvoteReceived = "DAILY_CAP_UPVOTE_RECEIVED"
	ReasonCommentTooShort        = "COMMENT_TOO_SHORT"
	ReasonDuplicateComment       = "DUPLICATE_COMMENT"
	ReasonDiminishedToZero       = "DIMINISHED_TO_ZERO"
	ReasonSelfUpvoteReceived     = "SELF_UPVOTE_RECEIVED"
	ReasonAlreadyCheckedIn       = "ALREADY_CHECKED_IN"
	ReasonAlreadyCredited        = "ALREADY_CREDITED"
	ReasonMissingUpvoter         = "MISSING_UPVOTER"
)

// ContributionMetadata carries the action details some contribution types need
type ContributionMetadata struct {
	Content    string `json:"content,omitempty"`
	FromUserID string `json:"from_user_id,omitempty"`
}

// ContributionRequest is one social action to be credited to a sect
type ContributionRequest struct {
	UserID   string               `json:"user_id"`
	SectID   string               `json:"sect_id"`
	Type     ContributionType     `json:"type"`
	Metadata ContributionMetadata `json:"metadata"`
}

// ContributionResult reports whether a contribution was applied and why
type ContributionResult struct {
	Applied bool   `json:"applied"`
	Delta   int64  `json:"delta"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	DayKey  string `json:"day_key,omitempty"`
	WeekKey string `json:"week_key,omitempty"`
	Level   int    `json:"level,omitempty"`
	LevelUp bool   `json:"level_up,omitempty"`
}

// BuildingBonuses are the passive effects a member receives from their sect's buildings
type BuildingBonuses struct {
	DailyBonusEnergy    int64 `json:"daily_bonus_energy"`
	TechniqueSlots      int   `json:"technique_slots"`
	ShopDiscountPercent int   `json:"shop_discount_percent"`
	ArenaBonusPercent   int   `json:"arena_bonus_percent"`
}

// AttackType enumerates raid attacks
type AttackType string

const (
	AttackBasic    AttackType = "basic"
	AttackArtifact AttackType = "artifact"
	AttackUltimate AttackType = "ultimate"
)

// PlayerStats are the combat stats used for raid damage.
// CriticalRate and CriticalDamage are percentages (25 = 25%, 150 = x1.5).
type PlayerStats struct {
	Attack         int64 `json:"attack"`
	CriticalRate   int   `json:"critical_rate"`
	CriticalDamage int   `json:"critical_damage"`
}

// CombatResult is the outcome of one damage roll
type CombatResult struct {
	Damage      int64      `json:"damage"`
	IsCrit      bool       `json:"is_crit"`
	AttackType  AttackType `json:"attack_type"`
	AttackLabel string     `json:"attack_label"`
	Effect      string     `json:"effect"`
}

// SectOverview is the public view of a sect
type SectOverview struct {
	Sect            *Sect  `json:"sect"`
	MemberCount     int    `json:"member_count"`
	MemberCapacity  int    `json:"member_capacity"`
	NextLevelEnergy *int64 `json:"next_level_energy,omitempty"`
}

// CreateSectRequest is the payload for founding a sect
type CreateSectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ContributeRequest is the payload of the admin contribution trigger route.
// UserID names the member being credited.
type ContributeRequest struct {
	UserID     string           `json:"user_id"`
	Type       ContributionType `json:"type"`
	Content    string           `json:"content,omitempty"`
	FromUserID string           `json:"from_user_id,omitempty"`
}

// AttackRequest is a raid attack by a member
type AttackRequest struct {
	UserID     string      `json:"-"`
	SectID     string      `json:"-"`
	AttackType AttackType  `json:"attack_type"`
	Stats      PlayerStats `json:"stats"`
}

// AttackResult is the outcome of a persisted raid attack
type AttackResult struct {
	CombatResult
	BossHealthRemaining int64               `json:"boss_health_remaining"`
	BossDefeated        bool                `json:"boss_defeated"`
	TotalDamage         int64               `json:"total_damage"`
	Participation       *ContributionResult `json:"participation,omitempty"`
}

// RaidAttackRecord is what gets persisted for one attack
type RaidAttackRecord struct {
	SectID     string
	UserID     string
	WeekKey    string
	AttackType AttackType
	Damage     int64
	At         time.Time
}

// RaidAttackOutcome is the store's view after an attack was applied
type RaidAttackOutcome struct {
	// Applied is false when the boss was already defeated
	Applied         bool
	HealthRemaining int64
	Defeated        bool
	TotalDamage     int64
}

// SummonBossRequest is the admin payload for starting a raid
type SummonBossRequest struct {
	BossID    string `json:"boss_id"`
	MaxHealth int64  `json:"max_health"`
}

// CooldownStatus reports remaining cooldown per attack type
type CooldownStatus struct {
	AttackType  AttackType `json:"attack_type"`
	RemainingMs int64      `json:"remaining_ms"`
}

// SectCredit is the sect's state right after a ledger credit was committed
type SectCredit struct {
	SectID            string
	SpiritEnergy      int64
	TotalEnergyEarned int64
	PreviousLevel     int
	Level             int
}

// LevelUp reports whether the credit moved the sect to a higher level
func (c *SectCredit) LevelUp() bool {
	return c != nil && c.Level > c.PreviousLevel
}
