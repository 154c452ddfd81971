package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockSectMembershipChecker struct {
	isMemberFunc func(ctx context.Context, userID, sectID string) (bool, error)
}

func (m *mockSectMembershipChecker) IsMember(ctx context.Context, userID, sectID string) (bool, error) {
	return m.isMemberFunc(ctx, userID, sectID)
}

func memberOf(sectID string) *mockSectMembershipChecker {
	return &mockSectMembershipChecker{
		isMemberFunc: func(_ context.Context, _ string, id string) (bool, error) {
			return id == sectID, nil
		},
	}
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
}

func TestSectAccess_NoUserID_ReturnsUnauthorized(t *testing.T) {
	t.Parallel()
	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	SectAccess(memberOf("sect:1"))(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sects/sect:1", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if handler.called {
		t.Error("handler should not have been called")
	}
}

func TestSectAccess_NoSectInPath_ReturnsBadRequest(t *testing.T) {
	t.Parallel()
	handler := &captureHandler{}
	rr := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodGet, "/v1/profile/sect-bonuses", nil), "user-1")

	SectAccess(memberOf("sect:1"))(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestSectAccess_Member_SetsSectID(t *testing.T) {
	t.Parallel()
	handler := &captureHandler{}
	rr := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/sects/sect:1/raid/attack", nil), "user-1")

	SectAccess(memberOf("sect:1"))(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if got := GetSectID(handler.ctx); got != "sect:1" {
		t.Errorf("expected sect id sect:1, got %q", got)
	}
}

func TestSectAccess_NonMemberOrError_ReturnsNotFound(t *testing.T) {
	t.Parallel()
	checkers := map[string]*mockSectMembershipChecker{
		"other sect": memberOf("sect:2"),
		"lookup error": {
			isMemberFunc: func(context.Context, string, string) (bool, error) {
				return false, errors.New("db down")
			},
		},
	}
	for name, checker := range checkers {
		t.Run(name, func(t *testing.T) {
			handler := &captureHandler{}
			rr := httptest.NewRecorder()
			req := withUser(httptest.NewRequest(http.MethodGet, "/v1/sects/sect:1/contribution", nil), "user-1")

			SectAccess(checker)(handler).ServeHTTP(rr, req)

			if rr.Code != http.StatusNotFound {
				t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
			}
			if handler.called {
				t.Error("handler should not have been called")
			}
		})
	}
}

func TestExtractSectID(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"/v1/sects/sect:abc":                  "sect:abc",
		"/v1/sects/sect:abc/raid/leaderboard": "sect:abc",
		"/v1/admin/sects/sect:abc/raid":       "sect:abc",
		"/v1/sects":                           "",
		"/v1/profile/sect-bonuses":            "",
	}
	for path, want := range cases {
		if got := extractSectID(path); got != want {
			t.Errorf("extractSectID(%q) = %q, want %q", path, got, want)
		}
	}
}
