package service

import "errors"

// Centralized service layer errors.
// All errors returned by service methods are defined here for consistency
// and to make error handling in handlers predictable.

// ===== Sect Errors =====
var (
	ErrSectNotFound       = errors.New("sect not found")
	ErrSectInactive       = errors.New("sect is not active")
	ErrSectNameRequired   = errors.New("sect name is required")
	ErrSectNameTooLong    = errors.New("sect name exceeds maximum length")
	ErrNotSectMember      = errors.New("not a member of this sect")
	ErrAlreadySectMember  = errors.New("already a member of a sect")
	ErrSectFull           = errors.New("sect has reached its member capacity")
	ErrLeaderCannotLeave  = errors.New("leader cannot leave while other members remain")
	ErrInvalidBuilding    = errors.New("invalid building kind")
	ErrInvalidBuildingLvl = errors.New("building level out of range")
)

// ===== Contribution Errors =====
var (
	ErrInvalidContribution = errors.New("invalid contribution request")
	ErrLedgerContention    = errors.New("contribution could not be committed after retries")
)

// ===== Raid Errors =====
var (
	ErrInvalidAttackType = errors.New("INVALID_ATTACK_TYPE")
	ErrInvalidStats      = errors.New("invalid player stats")
	ErrAttackOnCooldown  = errors.New("attack is on cooldown")
	ErrNoActiveRaid      = errors.New("no active raid for this sect")
	ErrRaidDefeated      = errors.New("raid boss already defeated")
	ErrRaidAlreadyActive = errors.New("an undefeated raid boss is already active")
	ErrInvalidBoss       = errors.New("invalid boss definition")
)

// CooldownError carries the remaining wait alongside ErrAttackOnCooldown
type CooldownError struct {
	AttackType  string
	RemainingMs int64
}

func (e *CooldownError) Error() string {
	return ErrAttackOnCooldown.Error()
}

// Unwrap makes errors.Is(err, ErrAttackOnCooldown) hold
func (e *CooldownError) Unwrap() error {
	return ErrAttackOnCooldown
}
