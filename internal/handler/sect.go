package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/forgo/sect/internal/middleware"
	"github.com/forgo/sect/internal/model"
)

// SectManager is the sect lifecycle surface the handler needs
type SectManager interface {
	CreateSect(ctx context.Context, leaderID string, req *model.CreateSectRequest) (*model.Sect, error)
	GetSect(ctx context.Context, sectID string) (*model.SectOverview, error)
	JoinSect(ctx context.Context, userID, sectID string) (*model.SectMembership, error)
	LeaveSect(ctx context.Context, userID, sectID string) error
	GetMyContribution(ctx context.Context, userID, sectID string) (*model.SectContribution, error)
	SetBuildingLevel(ctx context.Context, sectID string, kind model.BuildingKind, level int) error
}

// BonusResolver returns the building bonuses a user currently receives
type BonusResolver interface {
	GetBonuses(ctx context.Context, userID string) (model.BuildingBonuses, error)
}

// SectHandler handles sect HTTP requests
type SectHandler struct {
	sects   SectManager
	bonuses BonusResolver
	logger  *slog.Logger
}

// SectHandlerConfig holds dependencies for the sect handler
type SectHandlerConfig struct {
	Sects   SectManager
	Bonuses BonusResolver
	Logger  *slog.Logger
}

// NewSectHandler creates a new sect handler
func NewSectHandler(cfg SectHandlerConfig) *SectHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SectHandler{
		sects:   cfg.Sects,
		bonuses: cfg.Bonuses,
		logger:  cfg.Logger,
	}
}

// SetBuildingRequest is the admin payload for changing a building level
type SetBuildingRequest struct {
	Level int `json:"level"`
}

// Create handles POST /v1/sects - found a sect with the caller as leader
func (h *SectHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	var req model.CreateSectRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	sect, err := h.sects.CreateSect(ctx, userID, &req)
	if err != nil {
		h.handleError(w, r, err, "create sect")
		return
	}

	WriteData(w, http.StatusCreated, sect, map[string]string{
		"self": "/v1/sects/" + sect.ID,
	})
}

// Get handles GET /v1/sects/{sectId} - sect overview
func (h *SectHandler) Get(w http.ResponseWriter, r *http.Request) {
	sectID := r.PathValue("sectId")
	if sectID == "" {
		WriteError(w, model.NewBadRequestError("sect ID required"))
		return
	}

	overview, err := h.sects.GetSect(r.Context(), sectID)
	if err != nil {
		h.handleError(w, r, err, "get sect")
		return
	}

	WriteData(w, http.StatusOK, overview, nil)
}

// Join handles POST /v1/sects/{sectId}/join
func (h *SectHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	sectID := r.PathValue("sectId")
	if sectID == "" {
		WriteError(w, model.NewBadRequestError("sect ID required"))
		return
	}

	membership, err := h.sects.JoinSect(ctx, userID, sectID)
	if err != nil {
		h.handleError(w, r, err, "join sect")
		return
	}

	WriteData(w, http.StatusCreated, membership, nil)
}

// Leave handles POST /v1/sects/{sectId}/leave
func (h *SectHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	if err := h.sects.LeaveSect(ctx, userID, r.PathValue("sectId")); err != nil {
		h.handleError(w, r, err, "leave sect")
		return
	}

	WriteNoContent(w)
}

// MyContribution handles GET /v1/sects/{sectId}/contribution
func (h *SectHandler) MyContribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	contribution, err := h.sects.GetMyContribution(ctx, userID, r.PathValue("sectId"))
	if err != nil {
		h.handleError(w, r, err, "get contribution")
		return
	}

	WriteData(w, http.StatusOK, contribution, nil)
}

// Bonuses handles GET /v1/profile/sect-bonuses
func (h *SectHandler) Bonuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	bonuses, err := h.bonuses.GetBonuses(ctx, userID)
	if err != nil {
		h.handleError(w, r, err, "get sect bonuses")
		return
	}

	WriteData(w, http.StatusOK, bonuses, nil)
}

// SetBuilding handles PUT /v1/admin/sects/{sectId}/buildings/{kind}
func (h *SectHandler) SetBuilding(w http.ResponseWriter, r *http.Request) {
	var req SetBuildingRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	sectID := r.PathValue("sectId")
	kind := model.BuildingKind(r.PathValue("kind"))
	if err := h.sects.SetBuildingLevel(r.Context(), sectID, kind, req.Level); err != nil {
		h.handleError(w, r, err, "set building level")
		return
	}

	h.logger.InfoContext(r.Context(), "building level set",
		"sect_id", sectID,
		"building", kind,
		"level", req.Level,
		"admin_id", middleware.GetUserID(r.Context()),
	)
	WriteNoContent(w)
}

func (h *SectHandler) handleError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	writeServiceError(w, r, h.logger, err, operation)
}
