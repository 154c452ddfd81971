// Package service implements the sect contribution ledger and the raid
// combat engine.
//
// Services take a config struct, declare the storage interfaces they need
// and return sentinel errors (errors.go) that handlers map to HTTP problems.
//
//   - SectService: create, join and leave sects, building levels
//   - ContributionLedger: daily caps, building multipliers, level-ups
//   - RaidService: boss summoning, attacks, cooldowns and leaderboards
//   - RaidCombatResolver: damage rolls and cooldown math
//   - BuildingBonusResolver: effects granted by a member's sect buildings
//
// Time is read from a Clock so tests can pin day and week boundaries:
//
//	ledger := NewContributionLedger(ContributionLedgerConfig{
//	    Store:   store,
//	    Bonuses: bonuses,
//	    Balance: balance,
//	    Clock:   clock,
//	})
//	result, err := ledger.ApplyContribution(ctx, &model.ContributionRequest{
//	    UserID: userID,
//	    SectID: sectID,
//	    Type:   model.ContributionPost,
//	})
package service
