// Package jwt signs and validates the RS256 bearer tokens the sect API accepts.
//
// Tokens carry the acting user in user_id (mirrored into sub) and a role
// claim; admin routes require role "admin".
//
//	svc, err := jwt.NewService(jwt.Config{
//	    PrivateKeyPath: "keys/private.pem",
//	    Issuer:         "sect-api",
//	    ExpirationMins: 60,
//	})
//	token, err := svc.Sign(jwt.Claims{UserID: "user-1", Role: jwt.RoleMember})
//	claims, err := svc.Validate(token)
//
// Validation errors map onto ErrTokenExpired, ErrTokenNotYetValid,
// ErrInvalidSignature and ErrInvalidToken.
package jwt
