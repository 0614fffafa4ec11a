package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the session token payload. SessionID matches a server-side
// session row so tokens can be revoked before expiry.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// SessionConfig holds token signing settings.
type SessionConfig struct {
	SigningKey []byte
	TTL        time.Duration
	Issuer     string
}

// IssueToken signs a session token for the actor. Returns the token string,
// the session ID embedded in it, and its expiry.
func IssueToken(cfg SessionConfig, actor Actor, now time.Time) (token, sessionID string, expiresAt time.Time, err error) {
	if len(cfg.SigningKey) == 0 {
		return "", "", time.Time{}, fmt.Errorf("session signing key is empty")
	}

	sessionID = uuid.NewString()
	expiresAt = now.Add(cfg.TTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        sessionID,
		},
		SessionID: sessionID,
		Name:      actor.Name,
		Email:     actor.Email,
		Role:      actor.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return signed, sessionID, expiresAt, nil
}

// ParseToken verifies a session token and returns its claims. Expired,
// malformed, or badly-signed tokens return an error.
func ParseToken(cfg SessionConfig, token string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q in session token", claims.Role)
	}

	return claims, nil
}

// ActorFromClaims reconstructs the actor carried by a session token.
func ActorFromClaims(claims *Claims) Actor {
	return Actor{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}
}
