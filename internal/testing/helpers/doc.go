// Package helpers provides test utilities for the sect API handlers.
//
// # JWT Helpers
//
// Mint tokens against an in-memory key; hand Service to middleware.Auth:
//
//	jwtHelper := helpers.NewJWTHelper(t)
//	token := jwtHelper.GenerateToken(t, "user-1")
//	admin := jwtHelper.GenerateAdminToken(t, "ops")
//
// # Requests
//
//	rr := helpers.NewRequest(t, http.MethodPost, "/v1/sects").
//		WithToken(token).
//		WithBody(model.CreateSectRequest{Name: "Jade Peak"}).
//		Do(mux)
//
// # Assertions
//
//	helpers.AssertStatus(t, rr, http.StatusCreated)
//	helpers.AssertProblemDetails(t, rr, http.StatusNotFound, model.ErrCodeNotFound)
//	helpers.DecodeData(t, rr, &overview)
package helpers
