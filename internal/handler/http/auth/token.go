package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the aud claim every service token must carry.
const Audience = "integration-hub"

// MinSecretLength is the shortest HS256 secret accepted at startup.
const MinSecretLength = 32

// leeway absorbs clock skew between the caller and this service.
const leeway = 30 * time.Second

var (
	ErrMissingSecret = errors.New("JWT_SECRET is required")
	ErrWeakSecret    = errors.New("JWT_SECRET must be at least 32 characters")
)

// ValidateSecret rejects empty or short signing secrets.
func ValidateSecret(secret string) error {
	switch {
	case secret == "":
		return ErrMissingSecret
	case len(secret) < MinSecretLength:
		return ErrWeakSecret
	}
	return nil
}

// IssueServiceToken signs a token for the calling service named by subject.
func IssueServiceToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}

// parseServiceToken verifies signature, expiry and audience and returns the
// subject. Only HS256 is accepted.
func parseServiceToken(tokenString string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(Audience),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("missing sub claim")
	}
	return claims.Subject, nil
}
