package handler

import (
	"net/http"

	"github.com/forgo/sect/internal/middleware"
)

// RouterConfig holds everything needed to mount the API routes
type RouterConfig struct {
	Tokens      middleware.TokenValidator
	Membership  middleware.SectMembershipChecker
	Idempotency middleware.IdempotencyStore // nil disables idempotency keys

	Sects         *SectHandler
	Contributions *ContributionHandler
	Raids         *RaidHandler

	Health  http.Handler
	Metrics http.Handler // nil leaves /metrics unmounted
}

// NewRouter mounts the API routes on a new ServeMux.
// Global middleware (recovery, logging, rate limiting) is applied by the caller.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	authed := middleware.Auth(cfg.Tokens)
	member := middleware.SectAccess(cfg.Membership)
	idempotent := func(next http.Handler) http.Handler { return next }
	if cfg.Idempotency != nil {
		idempotent = middleware.Idempotency(cfg.Idempotency)
	}

	// auth only
	user := func(h http.HandlerFunc) http.Handler {
		return authed(h)
	}
	userWrite := func(h http.HandlerFunc) http.Handler {
		return authed(idempotent(h))
	}
	// auth plus active membership of the sect in the path
	memberRead := func(h http.HandlerFunc) http.Handler {
		return authed(member(h))
	}
	memberWrite := func(h http.HandlerFunc) http.Handler {
		return authed(member(idempotent(h)))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authed(middleware.RequireAdmin(idempotent(h)))
	}

	if cfg.Health != nil {
		mux.Handle("GET /health", cfg.Health)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Sects
	mux.Handle("POST /v1/sects", userWrite(cfg.Sects.Create))
	mux.Handle("GET /v1/sects/{sectId}", user(cfg.Sects.Get))
	mux.Handle("POST /v1/sects/{sectId}/join", userWrite(cfg.Sects.Join))
	mux.Handle("POST /v1/sects/{sectId}/leave", memberWrite(cfg.Sects.Leave))
	mux.Handle("GET /v1/sects/{sectId}/contribution", memberRead(cfg.Sects.MyContribution))
	mux.Handle("GET /v1/profile/sect-bonuses", user(cfg.Sects.Bonuses))

	// Contribution ledger
	mux.Handle("POST /v1/sects/{sectId}/checkin", memberWrite(cfg.Contributions.Checkin))

	// Raids
	mux.Handle("POST /v1/sects/{sectId}/raid/attack", memberWrite(cfg.Raids.Attack))
	mux.Handle("GET /v1/sects/{sectId}/raid/cooldowns", memberRead(cfg.Raids.Cooldowns))
	mux.Handle("GET /v1/sects/{sectId}/raid/leaderboard", memberRead(cfg.Raids.Leaderboard))

	// Admin
	mux.Handle("POST /v1/admin/sects/{sectId}/raid", admin(cfg.Raids.Summon))
	mux.Handle("PUT /v1/admin/sects/{sectId}/buildings/{kind}", admin(cfg.Sects.SetBuilding))
	mux.Handle("POST /v1/admin/sects/{sectId}/contributions", admin(cfg.Contributions.Contribute))

	return mux
}
