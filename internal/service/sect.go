package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
)

// SectRepository defines the interface for sect and membership storage
type SectRepository interface {
	SectReader
	// CreateSect stores the sect and the leader's membership together, filling in IDs.
	// Returns database.ErrDuplicate when the leader already has an active membership.
	CreateSect(ctx context.Context, sect *model.Sect, leader *model.SectMembership) error
	// AddMembership returns database.ErrDuplicate when the user already has an active
	// membership and database.ErrLimitExceeded when the sect holds capacity members
	AddMembership(ctx context.Context, membership *model.SectMembership, capacity int) error
	// DeactivateMembership ends a membership; closeSect also marks the sect inactive
	DeactivateMembership(ctx context.Context, sectID, userID string, closeSect bool) error
	CountActiveMembers(ctx context.Context, sectID string) (int, error)
	// GetContribution returns nil, nil when the member never contributed
	GetContribution(ctx context.Context, sectID, userID string) (*model.SectContribution, error)
	SetBuildingLevel(ctx context.Context, sectID string, kind model.BuildingKind, level int) error
}

// SectService handles sect membership business logic
type SectService struct {
	repo    SectRepository
	balance *model.Balance
	now     func() time.Time
	logger  *slog.Logger
}

// SectServiceConfig holds configuration for the sect service
type SectServiceConfig struct {
	Repo    SectRepository
	Balance *model.Balance
	Clock   func() time.Time
	Logger  *slog.Logger
}

// NewSectService creates a new sect service
func NewSectService(cfg SectServiceConfig) *SectService {
	if cfg.Balance == nil {
		b := model.DefaultBalance()
		cfg.Balance = &b
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SectService{
		repo:    cfg.Repo,
		balance: cfg.Balance,
		now:     cfg.Clock,
		logger:  cfg.Logger,
	}
}

// CreateSect founds a sect with the caller as leader
func (s *SectService) CreateSect(ctx context.Context, leaderID string, req *model.CreateSectRequest) (*model.Sect, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrSectNameRequired
	}
	if utf8.RuneCountInString(name) > model.MaxSectNameLength {
		return nil, ErrSectNameTooLong
	}

	now := s.now().UTC()
	sect := &model.Sect{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		Level:       ResolveLevel(0, s.balance.LevelTiers),
		Buildings:   []model.SectBuilding{},
		CreatedOn:   now,
		UpdatedOn:   now,
	}
	leader := &model.SectMembership{
		UserID:   leaderID,
		Role:     model.SectRoleLeader,
		Active:   true,
		JoinedOn: now,
	}

	if err := s.repo.CreateSect(ctx, sect, leader); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrAlreadySectMember
		}
		return nil, fmt.Errorf("failed to create sect: %w", err)
	}

	s.logger.InfoContext(ctx, "sect created", "sect_id", sect.ID, "leader_id", leaderID)
	return sect, nil
}

// GetSect returns the public overview of a sect
func (s *SectService) GetSect(ctx context.Context, sectID string) (*model.SectOverview, error) {
	sect, err := s.repo.GetSect(ctx, sectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sect: %w", err)
	}
	if sect == nil {
		return nil, ErrSectNotFound
	}

	count, err := s.repo.CountActiveMembers(ctx, sectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}

	return &model.SectOverview{
		Sect:            sect,
		MemberCount:     count,
		MemberCapacity:  MemberCapacity(sect.Level, s.balance.LevelTiers),
		NextLevelEnergy: NextLevelEnergy(sect.Level, s.balance.LevelTiers),
	}, nil
}

// JoinSect adds the user to a sect if they hold no other active membership
// and the sect has room at its current level
func (s *SectService) JoinSect(ctx context.Context, userID, sectID string) (*model.SectMembership, error) {
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

	membership := &model.SectMembership{
		SectID:   sectID,
		UserID:   userID,
		Role:     model.SectRoleMember,
		Active:   true,
		JoinedOn: s.now().UTC(),
	}

	capacity := MemberCapacity(sect.Level, s.balance.LevelTiers)
	if err := s.repo.AddMembership(ctx, membership, capacity); err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicate):
			return nil, ErrAlreadySectMember
		case errors.Is(err, database.ErrLimitExceeded):
			return nil, ErrSectFull
		}
		return nil, fmt.Errorf("failed to join sect: %w", err)
	}

	s.logger.InfoContext(ctx, "member joined sect", "sect_id", sectID, "user_id", userID)
	return membership, nil
}

// LeaveSect ends the user's membership. A leader may only leave as the last member,
// which closes the sect.
func (s *SectService) LeaveSect(ctx context.Context, userID, sectID string) error {
	membership, err := s.repo.GetActiveMembership(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get membership: %w", err)
	}
	if membership == nil || membership.SectID != sectID {
		return ErrNotSectMember
	}

	closeSect := false
	if membership.Role == model.SectRoleLeader {
		count, err := s.repo.CountActiveMembers(ctx, sectID)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if count > 1 {
			return ErrLeaderCannotLeave
		}
		closeSect = true
	}

	if err := s.repo.DeactivateMembership(ctx, sectID, userID, closeSect); err != nil {
		return fmt.Errorf("failed to leave sect: %w", err)
	}

	s.logger.InfoContext(ctx, "member left sect", "sect_id", sectID, "user_id", userID, "closed", closeSect)
	return nil
}

// GetMyContribution returns the member's contribution record. Weekly energy from
// a past week is reported as zero without writing the rollover.
func (s *SectService) GetMyContribution(ctx context.Context, userID, sectID string) (*model.SectContribution, error) {
	ok, err := s.IsMember(ctx, userID, sectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotSectMember
	}

	weekKey := WeekKey(s.now())
	contribution, err := s.repo.GetContribution(ctx, sectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	if contribution == nil {
		return &model.SectContribution{
			SectID: sectID,
			UserID: userID,
			Weekly: model.WeeklyEnergy{WeekKey: weekKey},
		}, nil
	}
	if IsNewWeek(contribution.Weekly.WeekKey, weekKey) {
		contribution.Weekly = model.WeeklyEnergy{WeekKey: weekKey}
	}
	return contribution, nil
}

// IsMember reports whether the user's active membership is in this sect
func (s *SectService) IsMember(ctx context.Context, userID, sectID string) (bool, error) {
	membership, err := s.repo.GetActiveMembership(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return membership != nil && membership.SectID == sectID, nil
}

// SetBuildingLevel is an operator action that sets a building's level directly
func (s *SectService) SetBuildingLevel(ctx context.Context, sectID string, kind model.BuildingKind, level int) error {
	switch kind {
	case model.BuildingSpiritField, model.BuildingLibrary, model.BuildingAlchemyRoom, model.BuildingTrainingGrounds:
	default:
		return ErrInvalidBuilding
	}
	if level < 0 || level > model.MaxBuildingLevel {
		return ErrInvalidBuildingLvl
	}

	sect, err := s.repo.GetSect(ctx, sectID)
	if err != nil {
		return fmt.Errorf("failed to get sect: %w", err)
	}
	if sect == nil {
		return ErrSectNotFound
	}

	if err := s.repo.SetBuildingLevel(ctx, sectID, kind, level); err != nil {
		return fmt.Errorf("failed to set building level: %w", err)
	}
	s.logger.InfoContext(ctx, "building level set", "sect_id", sectID, "building", kind, "level", level)
	return nil
}
