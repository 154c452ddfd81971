// Package model defines the entities and request/response types of the sect
// ledger and raid engine.
//
// # Domain Entities
//
//   - Sect: a cultivation group with a level, spirit energy and buildings
//   - SectMembership: links a user to at most one active sect
//   - SectContribution: lifetime and weekly spirit energy per member
//   - SectDailyStat: per-day contribution counters used for daily caps
//   - RaidInstance: the weekly boss embedded in its sect
//   - RaidLog: per-member damage and last attack times for one raid week
//
// # Balance
//
// Contribution rates, daily caps, level tiers, building effects and attack
// tables live in Balance (sect_balance.go). DefaultBalance returns the
// shipped values; config.LoadBalance overlays a YAML file on top of them.
//
// # Error Types
//
// RFC 9457 Problem Details errors are defined in errors.go:
//
//	type ProblemDetails struct {
//	    Type    string    `json:"type"`
//	    Title   string    `json:"title"`
//	    Status  int       `json:"status"`
//	    Detail  string    `json:"detail"`
//	}
package model
