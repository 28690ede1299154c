package providers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceClaims identify the engine to an upstream provider.
type ServiceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenSource mints short-lived HS256 service tokens per audience.
type TokenSource struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenSource(signingKey, issuer string, ttl time.Duration) *TokenSource {
	return &TokenSource{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl, now: time.Now}
}

// Token returns a signed token, or "" when no signing key is configured.
func (s *TokenSource) Token(audience, scope string) (string, error) {
	if s == nil || len(s.signingKey) == 0 {
		return "", nil
	}
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return tok.SignedString(s.signingKey)
}
