package submitter

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	serviceRole     = "voice_service"
	serviceTokenTTL = 5 * time.Minute
)

type serviceClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ServiceToken signs the short-lived bearer the record-keeping service expects
// from this gateway.
func ServiceToken(secret string, now time.Time) (string, error) {
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "yoocall",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
		},
		Role: serviceRole,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
