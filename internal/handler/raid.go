package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/forgo/sect/internal/middleware"
	"github.com/forgo/sect/internal/model"
)

// RaidEngine runs the weekly sect raid
type RaidEngine interface {
	SummonBoss(ctx context.Context, sectID string, req *model.SummonBossRequest) (*model.RaidInstance, error)
	Attack(ctx context.Context, req *model.AttackRequest) (*model.AttackResult, error)
	Cooldowns(ctx context.Context, userID, sectID string) ([]model.CooldownStatus, error)
	Leaderboard(ctx context.Context, sectID string) ([]*model.RaidLog, error)
}

// RaidHandler handles raid HTTP requests
type RaidHandler struct {
	raids  RaidEngine
	logger *slog.Logger
}

// NewRaidHandler creates a new raid handler
func NewRaidHandler(raids RaidEngine, logger *slog.Logger) *RaidHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RaidHandler{raids: raids, logger: logger}
}

// Attack handles POST /v1/sects/{sectId}/raid/attack
func (h *RaidHandler) Attack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	var req model.AttackRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	req.UserID = userID
	req.SectID = r.PathValue("sectId")

	result, err := h.raids.Attack(ctx, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "raid attack")
		return
	}

	WriteData(w, http.StatusOK, result, map[string]string{
		"leaderboard": "/v1/sects/" + req.SectID + "/raid/leaderboard",
		"cooldowns":   "/v1/sects/" + req.SectID + "/raid/cooldowns",
	})
}

// Cooldowns handles GET /v1/sects/{sectId}/raid/cooldowns
func (h *RaidHandler) Cooldowns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	cooldowns, err := h.raids.Cooldowns(ctx, userID, r.PathValue("sectId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "raid cooldowns")
		return
	}

	WriteCollection(w, http.StatusOK, cooldowns, len(cooldowns), nil)
}

// Leaderboard handles GET /v1/sects/{sectId}/raid/leaderboard
func (h *RaidHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	logs, err := h.raids.Leaderboard(r.Context(), r.PathValue("sectId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "raid leaderboard")
		return
	}

	WriteCollection(w, http.StatusOK, logs, len(logs), nil)
}

// Summon handles POST /v1/admin/sects/{sectId}/raid
func (h *RaidHandler) Summon(w http.ResponseWriter, r *http.Request) {
	var req model.SummonBossRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	sectID := r.PathValue("sectId")
	raid, err := h.raids.SummonBoss(r.Context(), sectID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "summon boss")
		return
	}

	h.logger.InfoContext(r.Context(), "raid boss summoned",
		"sect_id", sectID,
		"boss_id", raid.BossID,
		"week_key", raid.WeekKey,
		"admin_id", middleware.GetUserID(r.Context()),
	)
	WriteData(w, http.StatusCreated, raid, nil)
}
