// Package handler provides the HTTP request handlers for the Sect API.
//
// Handlers are grouped by feature area: sects and their buildings, the
// contribution ledger, and the weekly raid. Each handler depends on a small
// interface rather than a concrete service so tests can swap in func-field
// mocks.
//
// # Response Format
//
//   - WriteData: single resource with optional HATEOAS links
//   - WriteCollection: list of resources with its size
//   - WriteError: RFC 9457 Problem Details error response
//
// Service errors go through MapServiceError so a given error always yields
// the same status code. Raid cooldowns surface as 429 with retry_after_ms.
//
// # Authentication
//
// Routes are mounted behind the auth middleware, which puts the caller's user
// ID in the request context (middleware.GetUserID). Member-only routes are
// additionally wrapped in middleware.SectAccess and admin routes in
// middleware.RequireAdmin.
//
// # Example Usage
//
//	raids := handler.NewRaidHandler(raidService, logger)
//	mux.Handle("POST /v1/sects/{sectId}/raid/attack", member(raids.Attack))
package handler
