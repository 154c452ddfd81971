package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/forgo/sect/internal/model"
)

// SectMembershipChecker defines the interface for checking sect membership
type SectMembershipChecker interface {
	IsMember(ctx context.Context, userID, sectID string) (bool, error)
}

// SectIDKey is the context key for sect ID
const SectIDKey contextKey = "sectID"

// GetSectID extracts the sect ID from context
func GetSectID(ctx context.Context) string {
	if id, ok := ctx.Value(SectIDKey).(string); ok {
		return id
	}
	return ""
}

// SectAccess returns a middleware that only lets active members of the sect
// named in the URL path through
func SectAccess(checker SectMembershipChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID == "" {
				model.NewUnauthorizedError("authentication required").WriteJSON(w)
				return
			}

			sectID := extractSectID(r.URL.Path)
			if sectID == "" {
				model.NewBadRequestError("invalid sect ID").WriteJSON(w)
				return
			}

			isMember, err := checker.IsMember(r.Context(), userID, sectID)
			if err != nil {
				slog.ErrorContext(r.Context(), "sect membership check failed",
					slog.String("sect_id", sectID),
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("error", err),
				)
				model.NewNotFoundError("sect").WriteJSON(w)
				return
			}

			// 404 rather than 403 so non-members cannot probe sect ids
			if !isMember {
				model.NewNotFoundError("sect").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), SectIDKey, sectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractSectID returns the segment after "sects" in paths like
// /v1/sects/{sectId}/raid/attack
func extractSectID(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "sects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
