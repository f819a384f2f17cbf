package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HMAC secret length in bytes.
// Shorter secrets make brute-forcing the signing key practical.
const MinSecretLength = 32

// JWTService verifies bearer tokens presented to the API.
//
// Verification only: FileFerry never mints tokens for clients. GenerateToken
// exists for tests and for operators who want a quick token from the CLI.
type JWTService struct {
	secret []byte
	issuer string
}

// NewJWTService creates a token verifier for the given HMAC secret.
//
// Returns an error if the secret is empty or shorter than MinSecretLength.
func NewJWTService(secret, issuer string) (*JWTService, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters, got %d", MinSecretLength, len(secret))
	}

	return &JWTService{
		secret: []byte(secret),
		issuer: issuer,
	}, nil
}

// ValidateToken parses and verifies a token string, returning its claims.
//
// The token must be signed with HMAC using the configured secret, be
// unexpired, carry a non-empty subject, and (when the service was configured
// with an issuer) match the expected issuer.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("token issuer %q does not match expected %q", claims.Issuer, s.issuer)
	}

	return claims, nil
}

// GenerateToken mints a signed token for the given user. Used by tests and
// the CLI token helper.
func (s *JWTService) GenerateToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
