// Package middleware provides HTTP middleware for the sect API.
//
// # Available Middleware
//
//   - Auth: bearer token validation, sets the user and claims in context
//   - RequireAdmin: restricts a route to admin tokens
//   - SectAccess: verifies the caller is an active member of the path's sect
//   - RateLimit: per-user request budget, in memory or shared through Redis
//   - Idempotency: replays responses for repeated Idempotency-Key requests
//
// Redis-backed stores run behind a circuit breaker. While Redis is failing the
// rate limiter falls back to its local limiter and idempotency is skipped.
//
// # Context Values
//
//   - GetUserID(ctx): authenticated user ID
//   - GetClaims(ctx): validated token claims
//   - GetSectID(ctx): sect ID taken from the path
//   - GetRequestID(ctx): unique request identifier
package middleware
