package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/forgo/sect/internal/middleware"
	"github.com/forgo/sect/internal/model"
)

// ContributionApplier credits social actions to a sect
type ContributionApplier interface {
	ApplyContribution(ctx context.Context, req model.ContributionRequest) (*model.ContributionResult, error)
}

// ContributionHandler exposes the contribution ledger over HTTP.
// Policy rejections (caps, duplicates, short comments) are not errors: the
// ledger result is returned with applied=false and a reason code.
type ContributionHandler struct {
	ledger ContributionApplier
	logger *slog.Logger
}

// NewContributionHandler creates a new contribution handler
func NewContributionHandler(ledger ContributionApplier, logger *slog.Logger) *ContributionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContributionHandler{ledger: ledger, logger: logger}
}

// Contribute handles POST /v1/admin/sects/{sectId}/contributions, the trigger
// used by trusted callers to credit a member. Raid participation is credited
// by the raid service only.
func (h *ContributionHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	var req model.ContributeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	var fields []model.FieldError
	if req.UserID == "" {
		fields = append(fields, model.FieldError{Field: "user_id", Message: "member to credit is required"})
	}
	switch req.Type {
	case "":
		fields = append(fields, model.FieldError{Field: "type", Message: "contribution type is required"})
	case model.ContributionRaidParticipation:
		fields = append(fields, model.FieldError{Field: "type", Message: "raid participation is credited by raid attacks"})
	}
	if len(fields) > 0 {
		WriteError(w, model.NewValidationError(fields))
		return
	}

	h.apply(w, r, model.ContributionRequest{
		UserID: req.UserID,
		SectID: r.PathValue("sectId"),
		Type:   req.Type,
		Metadata: model.ContributionMetadata{
			Content:    req.Content,
			FromUserID: req.FromUserID,
		},
	})
}

// Checkin handles POST /v1/sects/{sectId}/checkin
func (h *ContributionHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	h.apply(w, r, model.ContributionRequest{
		UserID: userID,
		SectID: r.PathValue("sectId"),
		Type:   model.ContributionDailyCheckin,
	})
}

func (h *ContributionHandler) apply(w http.ResponseWriter, r *http.Request, req model.ContributionRequest) {
	result, err := h.ledger.ApplyContribution(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "apply contribution")
		return
	}

	status := http.StatusOK
	if result.Applied {
		status = http.StatusCreated
	}
	WriteData(w, status, result, nil)
}
