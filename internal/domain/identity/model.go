package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billerly/rcm/internal/platform/auth"
)

// User is a role-bound identity that can sign in. CredentialHash holds the
// HMAC-SHA256 of the credential under the server credential key; the raw
// credential is never stored.
type User struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           auth.Role `json:"role"`
	CredentialHash []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Actor returns the session-facing view of the user.
func (u *User) Actor() auth.Actor {
	return auth.Actor{
		ID:    u.ID.String(),
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// Session is a server-side session row backing an issued token. A session is
// live until it expires or RevokedAt is set by logout.
type Session struct {
	ID        string     `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session is usable at the given time.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AuthError is a typed authentication failure.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error %s: %s", e.Code, e.Message)
}

const authCodeInvalidCredential = "invalid_credential"

// ErrInvalidCredential rejects a login whose credential does not resolve to
// a known role-bound identity. The same error covers unknown emails and bad
// credentials so responses do not leak which accounts exist.
func ErrInvalidCredential() *AuthError {
	return &AuthError{Code: authCodeInvalidCredential, Message: "credential does not resolve to a known identity"}
}
