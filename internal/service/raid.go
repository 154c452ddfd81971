package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
)

// RaidRepository defines the interface for raid storage
type RaidRepository interface {
	SectReader
	// SummonRaid installs raid on the sect. Returns database.ErrDuplicate when an
	// undefeated raid of the same week is already active.
	SummonRaid(ctx context.Context, sectID string, raid *model.RaidInstance) error
	// GetRaidLog returns nil, nil when the member has not attacked this week
	GetRaidLog(ctx context.Context, sectID, weekKey, userID string) (*model.RaidLog, error)
	ListRaidLogs(ctx context.Context, sectID, weekKey string) ([]*model.RaidLog, error)
	GetContribution(ctx context.Context, sectID, userID string) (*model.SectContribution, error)
	// RecordAttack decrements boss health (floored at zero) and updates the member's
	// raid log in one atomic step. Returns database.ErrNotFound when the sect has
	// no raid for the record's week.
	RecordAttack(ctx context.Context, rec model.RaidAttackRecord) (*model.RaidAttackOutcome, error)
}

// Contributor credits contributions; satisfied by *ContributionLedger
type Contributor interface {
	ApplyContribution(ctx context.Context, req model.ContributionRequest) (*model.ContributionResult, error)
}

// RaidObserver receives raid events for metrics
type RaidObserver interface {
	AttackResolved(attackType model.AttackType, damage int64, crit bool)
	BossDefeated()
}

type noopRaidObserver struct{}

func (noopRaidObserver) AttackResolved(model.AttackType, int64, bool) {}
func (noopRaidObserver) BossDefeated()                                {}

// RaidService handles raid summoning and attacks
type RaidService struct {
	repo     RaidRepository
	combat   *RaidCombatResolver
	ledger   Contributor
	balance  *model.Balance
	now      func() time.Time
	logger   *slog.Logger
	observer RaidObserver
}

// RaidServiceConfig holds configuration for the raid service
type RaidServiceConfig struct {
	Repo     RaidRepository
	Combat   *RaidCombatResolver
	Ledger   Contributor
	Balance  *model.Balance
	Clock    func() time.Time
	Logger   *slog.Logger
	Observer RaidObserver
}

// NewRaidService creates a new raid service
func NewRaidService(cfg RaidServiceConfig) *RaidService {
	if cfg.Balance == nil {
		b := model.DefaultBalance()
		cfg.Balance = &b
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Combat == nil {
		cfg.Combat = NewRaidCombatResolver(RaidCombatResolverConfig{
			Balance: cfg.Balance,
			Clock:   cfg.Clock,
		})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopRaidObserver{}
	}
	return &RaidService{
		repo:     cfg.Repo,
		combat:   cfg.Combat,
		ledger:   cfg.Ledger,
		balance:  cfg.Balance,
		now:      cfg.Clock,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// SummonBoss starts this week's raid for a sect
func (s *RaidService) SummonBoss(ctx context.Context, sectID string, req *model.SummonBossRequest) (*model.RaidInstance, error) {
	if req.BossID == "" || req.MaxHealth <= 0 {
		return nil, ErrInvalidBoss
	}

	sect, err := s.repo.GetSect(ctx, sectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sect: %w", err)
	}
	if sect == nil {
		return nil, ErrSectNotFound
	}
	if !sect.Active {
		return nil, ErrSectInactive
	}

	now := s.now().UTC()
	weekKey := WeekKey(now)
	if active := sect.Raid; active != nil && active.WeekKey == weekKey && !active.Defeated() {
		return nil, ErrRaidAlreadyActive
	}

	raid := &model.RaidInstance{
		BossID:          req.BossID,
		HealthRemaining: req.MaxHealth,
		HealthMax:       req.MaxHealth,
		WeekKey:         weekKey,
		SummonedAt:      now,
	}
	if err := s.repo.SummonRaid(ctx, sectID, raid); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrRaidAlreadyActive
		}
		return nil, fmt.Errorf("failed to summon boss: %w", err)
	}

	s.logger.InfoContext(ctx, "raid boss summoned",
		"sect_id", sectID,
		"boss_id", req.BossID,
		"max_health", req.MaxHealth,
		"week_key", weekKey,
	)
	return raid, nil
}

// Attack resolves and persists one raid attack by a member
func (s *RaidService) Attack(ctx context.Context, req *model.AttackRequest) (*model.AttackResult, error) {
	if _, ok := s.balance.Attack(req.AttackType); !ok {
		return nil, ErrInvalidAttackType
	}

	if err := s.requireMember(ctx, req.UserID, req.SectID); err != nil {
		return nil, err
	}

	sect, err := s.repo.GetSect(ctx, req.SectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sect: %w", err)
	}
	if sect == nil {
		return nil, ErrSectNotFound
	}

	now := s.now().UTC()
	weekKey := WeekKey(now)
	if sect.Raid == nil || sect.Raid.WeekKey != weekKey {
		return nil, ErrNoActiveRaid
	}

	log, err := s.repo.GetRaidLog(ctx, req.SectID, weekKey, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raid log: %w", err)
	}
	contribution, err := s.repo.GetContribution(ctx, req.SectID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}

	var participation *model.ContributionResult
	pending := s.ledger != nil && (contribution == nil || contribution.ParticipationWeek != weekKey)
	if pending && log != nil && log.Attacks > 0 {
		// an earlier attack this week landed without its participation credit
		participation, err = s.creditParticipation(ctx, req.SectID, req.UserID)
		if err != nil {
			return nil, err
		}
		pending = false
		if contribution, err = s.repo.GetContribution(ctx, req.SectID, req.UserID); err != nil {
			return nil, fmt.Errorf("failed to get contribution: %w", err)
		}
	}

	if sect.Raid.Defeated() {
		return nil, ErrRaidDefeated
	}
	if remaining := s.combat.GetCooldownRemaining(log.LastAttack(req.AttackType), req.AttackType); remaining > 0 {
		return nil, &CooldownError{AttackType: string(req.AttackType), RemainingMs: remaining.Milliseconds()}
	}

	combat, err := s.combat.ComputeDamage(req.AttackType, req.Stats, weeklyEnergy(contribution, weekKey))
	if err != nil {
		return nil, err
	}

	outcome, err := s.repo.RecordAttack(ctx, model.RaidAttackRecord{
		SectID:     req.SectID,
		UserID:     req.UserID,
		WeekKey:    weekKey,
		AttackType: req.AttackType,
		Damage:     combat.Damage,
		At:         now,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNoActiveRaid
		}
		return nil, fmt.Errorf("failed to record attack: %w", err)
	}
	if !outcome.Applied {
		return nil, ErrRaidDefeated
	}

	s.observer.AttackResolved(req.AttackType, combat.Damage, combat.IsCrit)
	result := &model.AttackResult{
		CombatResult:        *combat,
		BossHealthRemaining: outcome.HealthRemaining,
		BossDefeated:        outcome.Defeated,
		TotalDamage:         outcome.TotalDamage,
		Participation:       participation,
	}

	if outcome.Defeated {
		s.observer.BossDefeated()
		s.logger.InfoContext(ctx, "raid boss defeated",
			"sect_id", req.SectID,
			"boss_id", sect.Raid.BossID,
			"final_blow_by", req.UserID,
		)
	}

	if pending {
		participation, err := s.creditParticipation(ctx, req.SectID, req.UserID)
		if err != nil {
			// the attack is already committed; the next attack this week settles the credit
			s.logger.ErrorContext(ctx, "failed to credit raid participation",
				"sect_id", req.SectID,
				"user_id", req.UserID,
				"error", err,
			)
		} else {
			result.Participation = participation
		}
	}

	return result, nil
}

// creditParticipation pays this week's participation credit; the ledger
// records the week on the contribution so a repeat call is rejected
func (s *RaidService) creditParticipation(ctx context.Context, sectID, userID string) (*model.ContributionResult, error) {
	result, err := s.ledger.ApplyContribution(ctx, model.ContributionRequest{
		UserID: userID,
		SectID: sectID,
		Type:   model.ContributionRaidParticipation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit raid participation: %w", err)
	}
	if !result.Applied {
		return nil, nil
	}
	return result, nil
}

// Cooldowns returns the member's remaining cooldown per attack type
func (s *RaidService) Cooldowns(ctx context.Context, userID, sectID string) ([]model.CooldownStatus, error) {
	if err := s.requireMember(ctx, userID, sectID); err != nil {
		return nil, err
	}
	log, err := s.repo.GetRaidLog(ctx, sectID, WeekKey(s.now()), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raid log: %w", err)
	}
	return s.combat.Cooldowns(log), nil
}

// Leaderboard returns this week's raid logs ordered by damage dealt
func (s *RaidService) Leaderboard(ctx context.Context, sectID string) ([]*model.RaidLog, error) {
	logs, err := s.repo.ListRaidLogs(ctx, sectID, WeekKey(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to list raid logs: %w", err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].TotalDamage != logs[j].TotalDamage {
			return logs[i].TotalDamage > logs[j].TotalDamage
		}
		return logs[i].UserID < logs[j].UserID
	})
	return logs, nil
}

func (s *RaidService) requireMember(ctx context.Context, userID, sectID string) error {
	membership, err := s.repo.GetActiveMembership(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if membership == nil || membership.SectID != sectID {
		return ErrNotSectMember
	}
	return nil
}

func weeklyEnergy(contribution *model.SectContribution, weekKey string) int64 {
	if contribution == nil || IsNewWeek(contribution.Weekly.WeekKey, weekKey) {
		return 0
	}
	return contribution.Weekly.Energy
}
