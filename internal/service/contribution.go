package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/model"
)

// LedgerStore persists contribution state. RunInTx runs fn against a view of one
// member's contribution records and commits everything fn staged atomically.
// A store returns database.ErrConflict when a concurrent writer got there first;
// nothing is written in that case.
type LedgerStore interface {
	SectReader
	// RunInTx returns the sect state after commit when fn staged a credit, nil otherwise
	RunInTx(ctx context.Context, sectID, userID string, fn func(tx LedgerTx) error) (*model.SectCredit, error)
}

// LedgerTx is the unit of work handed to LedgerStore.RunInTx.
// Reads return fresh zero-valued records (Version 0) when nothing is stored yet.
// Writes are staged and only applied when fn returns nil.
type LedgerTx interface {
	Contribution(ctx context.Context) (*model.SectContribution, error)
	DailyStat(ctx context.Context, dateKey string) (*model.SectDailyStat, error)
	SaveContribution(c *model.SectContribution)
	SaveDailyStat(d *model.SectDailyStat)
	// CreditSect adds delta to spirit energy and total earned, raising the level to
	// the tier the new total reaches
	CreditSect(delta int64, tiers []model.LevelTier)
}

// LedgerObserver receives ledger events for metrics
type LedgerObserver interface {
	ContributionEvaluated(contributionType model.ContributionType, reason string, delta int64)
	SectLeveledUp(level int)
	LedgerConflict()
}

type noopObserver struct{}

func (noopObserver) ContributionEvaluated(model.ContributionType, string, int64) {}
func (noopObserver) SectLeveledUp(int)                                           {}
func (noopObserver) LedgerConflict()                                             {}

// ContributionLedger converts social actions into sect spirit energy under
// daily caps, comment quality rules and diminishing returns
type ContributionLedger struct {
	store      LedgerStore
	bonuses    *BuildingBonusResolver
	balance    *model.Balance
	now        func() time.Time
	logger     *slog.Logger
	observer   LedgerObserver
	maxRetries uint
}

// ContributionLedgerConfig holds configuration for the ledger
type ContributionLedgerConfig struct {
	Store    LedgerStore
	Bonuses  *BuildingBonusResolver
	Balance  *model.Balance
	Clock    func() time.Time
	Logger   *slog.Logger
	Observer LedgerObserver
	// MaxRetries bounds how often a conflicting commit is retried (default 5)
	MaxRetries int
}

// NewContributionLedger creates a contribution ledger
func NewContributionLedger(cfg ContributionLedgerConfig) *ContributionLedger {
	if cfg.Balance == nil {
		b := model.DefaultBalance()
		cfg.Balance = &b
	}
	if cfg.Bonuses == nil {
		cfg.Bonuses = NewBuildingBonusResolver(BuildingBonusResolverConfig{
			Reader:  cfg.Store,
			Balance: cfg.Balance,
		})
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &ContributionLedger{
		store:      cfg.Store,
		bonuses:    cfg.Bonuses,
		balance:    cfg.Balance,
		now:        cfg.Clock,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		maxRetries: uint(cfg.MaxRetries),
	}
}

// ApplyContribution evaluates one social action and, when accepted, credits the
// member's contribution record and the sect in one atomic commit.
// Policy rejections come back as results with Applied=false. Errors are
// reserved for malformed requests and storage failures.
func (l *ContributionLedger) ApplyContribution(ctx context.Context, req model.ContributionRequest) (*model.ContributionResult, error) {
	if req.UserID == "" || req.SectID == "" {
		return nil, ErrInvalidContribution
	}

	sect, err := l.store.GetSect(ctx, req.SectID)
	if err != nil {
		return nil, fmt.Errorf("load sect: %w", err)
	}
	if sect == nil || !sect.Active {
		return l.reject(req.Type, model.ReasonSectNotFound, ""), nil
	}

	membership, err := l.store.GetActiveMembership(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	if membership == nil || membership.SectID != req.SectID {
		return l.reject(req.Type, model.ReasonNotMember, ""), nil
	}

	if !l.knownType(req.Type) {
		return l.reject(req.Type, model.ReasonUnknownType, ""), nil
	}

	now := l.now().UTC()
	dayKey := DayKey(now)
	weekKey := WeekKey(now)

	operation := func() (*model.ContributionResult, error) {
		result, err := l.attempt(ctx, req, sect, now, dayKey, weekKey)
		if errors.Is(err, database.ErrConflict) {
			l.observer.LedgerConflict()
			l.logger.DebugContext(ctx, "ledger conflict, retrying",
				"sect_id", req.SectID,
				"user_id", req.UserID,
				"type", req.Type,
			)
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return result, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(l.maxRetries+1),
	)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			err = fmt.Errorf("%w: %w", ErrLedgerContention, err)
		}
		l.logger.ErrorContext(ctx, "contribution failed",
			"sect_id", req.SectID,
			"user_id", req.UserID,
			"type", req.Type,
			"error", err,
		)
		return nil, err
	}

	l.observer.ContributionEvaluated(req.Type, result.Reason, result.Delta)
	if result.Applied {
		l.logger.DebugContext(ctx, "contribution applied",
			"sect_id", req.SectID,
			"user_id", req.UserID,
			"type", req.Type,
			"delta", result.Delta,
		)
	}
	return result, nil
}

// attempt runs one evaluation inside a store transaction
func (l *ContributionLedger) attempt(ctx context.Context, req model.ContributionRequest, sect *model.Sect, now time.Time, dayKey, weekKey string) (*model.ContributionResult, error) {
	var result *model.ContributionResult

	credit, err := l.store.RunInTx(ctx, req.SectID, req.UserID, func(tx LedgerTx) error {
		contribution, err := tx.Contribution(ctx)
		if err != nil {
			return err
		}
		if IsNewWeek(contribution.Weekly.WeekKey, weekKey) {
			contribution.Weekly = model.WeeklyEnergy{WeekKey: weekKey}
		}

		var stat *model.SectDailyStat
		if req.Type != model.ContributionRaidParticipation {
			stat, err = tx.DailyStat(ctx, dayKey)
			if err != nil {
				return err
			}
		}

		var (
			delta           int64
			reason, message string
		)
		if req.Type == model.ContributionRaidParticipation {
			delta, reason = l.evaluateParticipation(contribution, weekKey)
		} else {
			delta, reason, message = l.evaluate(req, sect, stat, now)
		}
		if reason != model.ReasonOK {
			result = &model.ContributionResult{Reason: reason, Message: message}
			return nil
		}

		contribution.TotalEnergy += delta
		contribution.Weekly.Energy += delta
		contribution.UpdatedOn = now
		tx.SaveContribution(contribution)
		if stat != nil {
			tx.SaveDailyStat(stat)
		}
		tx.CreditSect(delta, l.balance.LevelTiers)

		result = &model.ContributionResult{
			Applied: true,
			Delta:   delta,
			Reason:  model.ReasonOK,
			DayKey:  dayKey,
			WeekKey: weekKey,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied && credit != nil {
		result.Level = credit.Level
		result.LevelUp = credit.LevelUp()
		if result.LevelUp {
			l.observer.SectLeveledUp(credit.Level)
			l.logger.InfoContext(ctx, "sect leveled up",
				"sect_id", req.SectID,
				"level", credit.Level,
				"total_energy_earned", credit.TotalEnergyEarned,
			)
		}
	}
	return result, nil
}

// evaluateParticipation credits raid participation once per member and week.
// The week is stamped on the contribution in the same commit as the energy, so
// a retry after a failed commit is still owed the credit.
func (l *ContributionLedger) evaluateParticipation(contribution *model.SectContribution, weekKey string) (int64, string) {
	if contribution.ParticipationWeek == weekKey {
		return 0, model.ReasonAlreadyCredited
	}
	contribution.ParticipationWeek = weekKey
	return l.balance.Rates.RaidParticipation, model.ReasonOK
}

// evaluate applies the per-type rules, mutating stat for accepted actions
func (l *ContributionLedger) evaluate(req model.ContributionRequest, sect *model.Sect, stat *model.SectDailyStat, now time.Time) (int64, string, string) {
	rates := l.balance.Rates
	caps := l.balance.DailyCaps

	switch req.Type {
	case model.ContributionPost:
		if stat.Posts >= caps.Posts {
			return 0, model.ReasonDailyCapPost, ""
		}
		stat.Posts++
		return rates.Post, model.ReasonOK, ""

	case model.ContributionComment:
		return l.evaluateComment(req.Metadata.Content, stat, now)

	case model.ContributionUpvoteReceived:
		if req.Metadata.FromUserID == "" {
			return 0, model.ReasonMissingUpvoter, "from_user_id is required"
		}
		if req.Metadata.FromUserID == req.UserID {
			return 0, model.ReasonSelfUpvoteReceived, ""
		}
		if stat.UpvotesReceived >= caps.UpvotesReceived {
			return 0, model.ReasonDailyCapUpvoteReceived, ""
		}
		stat.UpvotesReceived++
		return rates.UpvoteReceived, model.ReasonOK, ""

	case model.ContributionDailyCheckin:
		if stat.CheckinDone {
			return 0, model.ReasonAlreadyCheckedIn, "already checked in today"
		}
		stat.CheckinDone = true
		return rates.DailyCheckin + l.bonuses.ForSect(sect).DailyBonusEnergy, model.ReasonOK, ""
	}

	return 0, model.ReasonUnknownType, ""
}

func (l *ContributionLedger) evaluateComment(content string, stat *model.SectDailyStat, now time.Time) (int64, string, string) {
	rules := l.balance.Comment

	normalized := NormalizeComment(content)
	if utf8.RuneCountInString(normalized) < rules.MinLength {
		return 0, model.ReasonCommentTooShort, ""
	}

	hash := HashComment(normalized)
	if stat.LastCommentHash == hash && stat.LastCommentAt != nil && now.Sub(*stat.LastCommentAt) < rules.DuplicateWindow {
		return 0, model.ReasonDuplicateComment, ""
	}

	if stat.Comments >= l.balance.DailyCaps.Comments {
		return 0, model.ReasonDailyCapComment, ""
	}

	multiplier := commentMultiplier(rules.Tiers, stat.Comments+1)
	// epsilon keeps products like 10*0.4 from flooring to 3
	delta := int64(math.Floor(float64(l.balance.Rates.Comment)*multiplier + 1e-9))
	if delta <= 0 {
		return 0, model.ReasonDiminishedToZero, ""
	}

	stat.Comments++
	stat.LastCommentHash = hash
	at := now
	stat.LastCommentAt = &at
	return delta, model.ReasonOK, ""
}

func commentMultiplier(tiers []model.CommentTier, position int) float64 {
	for _, t := range tiers {
		if position >= t.From && position <= t.To {
			return t.Multiplier
		}
	}
	return 0
}

func (l *ContributionLedger) knownType(t model.ContributionType) bool {
	switch t {
	case model.ContributionPost,
		model.ContributionComment,
		model.ContributionUpvoteReceived,
		model.ContributionDailyCheckin,
		model.ContributionRaidParticipation:
		return true
	}
	return false
}

func (l *ContributionLedger) reject(t model.ContributionType, reason, message string) *model.ContributionResult {
	l.observer.ContributionEvaluated(t, reason, 0)
	return &model.ContributionResult{Reason: reason, Message: message}
}

// NormalizeComment trims a comment and collapses internal whitespace runs to one space
func NormalizeComment(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// HashComment returns the hex BLAKE2b-256 digest of normalized comment text
func HashComment(normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
