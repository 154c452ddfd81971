package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/forgo/sect/internal/middleware"
	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

// MapServiceError converts a service error to a ProblemDetails response.
// Every handler goes through here so a given service error always maps to the
// same status code and body.
func MapServiceError(err error) *model.ProblemDetails {
	if err == nil {
		return nil
	}

	var cooldown *service.CooldownError

	switch {
	// ===== Cooldowns → 429 =====
	case errors.As(err, &cooldown):
		return model.NewCooldownError(cooldown.AttackType+" attack is on cooldown", cooldown.RemainingMs)

	// ===== Authorization Errors → 403 =====
	case errors.Is(err, service.ErrNotSectMember):
		return model.NewNotMemberError(err.Error())

	// ===== Not Found Errors → 404 =====
	case errors.Is(err, service.ErrSectNotFound):
		return model.NewNotFoundError("sect")
	case errors.Is(err, service.ErrNoActiveRaid):
		return model.NewNotFoundError("active raid")

	// ===== Conflict Errors → 409 =====
	case errors.Is(err, service.ErrAlreadySectMember),
		errors.Is(err, service.ErrRaidAlreadyActive),
		errors.Is(err, service.ErrLedgerContention):
		return model.NewConflictError(err.Error())

	// ===== Validation Errors → 422 =====
	case errors.Is(err, service.ErrSectNameRequired),
		errors.Is(err, service.ErrSectNameTooLong):
		return model.NewValidationError([]model.FieldError{{Field: "name", Message: err.Error()}})
	case errors.Is(err, service.ErrInvalidAttackType):
		return model.NewValidationError([]model.FieldError{{Field: "attack_type", Message: err.Error()}})
	case errors.Is(err, service.ErrInvalidStats):
		return model.NewValidationError([]model.FieldError{{Field: "stats", Message: err.Error()}})
	case errors.Is(err, service.ErrInvalidBuilding):
		return model.NewValidationError([]model.FieldError{{Field: "kind", Message: err.Error()}})
	case errors.Is(err, service.ErrInvalidBuildingLvl):
		return model.NewValidationError([]model.FieldError{{Field: "level", Message: err.Error()}})
	case errors.Is(err, service.ErrInvalidBoss):
		return model.NewValidationError([]model.FieldError{{Field: "boss", Message: err.Error()}})

	// State rules → 422
	case errors.Is(err, service.ErrSectFull),
		errors.Is(err, service.ErrSectInactive),
		errors.Is(err, service.ErrLeaderCannotLeave),
		errors.Is(err, service.ErrRaidDefeated):
		return model.NewValidationError([]model.FieldError{{Field: "sect", Message: err.Error()}})

	// ===== Bad Requests → 400 =====
	case errors.Is(err, service.ErrInvalidContribution):
		return model.NewBadRequestError(err.Error())

	// ===== Default → 500 =====
	default:
		return model.NewInternalError("")
	}
}

// MapServiceErrorWithContext converts a service error to a ProblemDetails response
// with additional context about the operation that failed.
func MapServiceErrorWithContext(err error, operation string) *model.ProblemDetails {
	pd := MapServiceError(err)
	if pd != nil && pd.Status == http.StatusInternalServerError {
		pd.Detail = operation + ": an unexpected error occurred"
	}
	return pd
}

// writeServiceError maps err and writes it, logging anything that surfaces as a 5xx
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, operation string) {
	pd := MapServiceErrorWithContext(err, operation)
	if pd.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), operation+" failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	WriteError(w, pd)
}
