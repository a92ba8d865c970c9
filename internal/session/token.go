package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiresWithinLeeway peeks at the access token's exp claim without verifying
// the signature; verification is the backend's job, the console only wants to
// know whether dispatching is a waste of a round trip. Opaque tokens fail the
// parse and simply rely on the rejection status instead.
func expiresWithinLeeway(token string, leeway time.Duration, now time.Time) bool {
	if leeway <= 0 {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Add(leeway).Before(exp.Time)
}
