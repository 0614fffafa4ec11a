package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
	"github.com/billerly/rcm/internal/platform/metrics"
)

// Service implements login, session restore, and logout. It is the only
// component that touches credential material.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	session  auth.SessionConfig
	credKey  []byte
	metrics  *metrics.Collector
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users UserRepository, sessions SessionRepository, sessionCfg auth.SessionConfig, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		session:  sessionCfg,
		credKey:  sessionCfg.SigningKey,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetrics attaches an optional metrics collector.
func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

// HashCredential derives the stored hash for a credential. HMAC keyed with
// the server key so a leaked table cannot be brute-forced offline against
// plain SHA-256.
func (s *Service) HashCredential(credential string) []byte {
	mac := hmac.New(sha256.New, s.credKey)
	mac.Write([]byte(credential))
	return mac.Sum(nil)
}

func (s *Service) verifyCredential(u *User, credential string) bool {
	return hmac.Equal(u.CredentialHash, s.HashCredential(credential))
}

// LoginResult carries the actor and its session token.
type LoginResult struct {
	Actor     auth.Actor `json:"actor"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Login resolves a credential to an actor and opens a session. Unknown
// emails and bad credentials both fail with ErrInvalidCredential.
func (s *Service) Login(ctx context.Context, email, credential string) (*LoginResult, error) {
	var user *User
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}

	if user == nil || !s.verifyCredential(user, credential) {
		if s.metrics != nil {
			s.metrics.RecordLogin("failure")
		}
		s.logger.Warn().Str("email", email).Msg("login rejected")
		return nil, ErrInvalidCredential()
	}

	now := s.now()
	token, sessionID, expiresAt, err := auth.IssueToken(s.session, user.Actor(), now)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        sessionID,
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return s.sessions.Create(ctx, sess)
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordLogin("success")
	}
	s.logger.Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("login")

	return &LoginResult{Actor: user.Actor(), Token: token, ExpiresAt: expiresAt}, nil
}

// RestoreSession resolves a previously issued token back to its actor.
// Invalid, expired, or revoked tokens yield (nil, nil): an absent session is
// a normal state, not an error.
func (s *Service) RestoreSession(ctx context.Context, token string) (*auth.Actor, error) {
	claims, err := auth.ParseToken(s.session, token)
	if err != nil {
		return nil, nil
	}

	var sess *Session
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.GetByID(ctx, claims.SessionID)
		return err
	}); err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active(s.now()) {
		return nil, nil
	}

	actor := auth.ActorFromClaims(claims)
	return &actor, nil
}

// Logout revokes the session behind a token. Idempotent: revoking an
// already-revoked or unknown session is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(s.session, token)
	if err != nil {
		return nil
	}
	return db.WithRetry(ctx, func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, claims.SessionID)
	})
}

// SessionActive implements auth.SessionChecker for the session middleware.
func (s *Service) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	var sess *Session
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.GetByID(ctx, sessionID)
		return err
	}); err != nil {
		return false, err
	}
	return sess != nil && sess.Active(s.now()), nil
}

// Register creates a new role-bound user with the given credential. Used by
// the seed command and admin user management.
func (s *Service) Register(ctx context.Context, name, email string, role auth.Role, credential string) (*User, error) {
	if !role.Valid() {
		return nil, &AuthError{Code: "invalid_role", Message: "unknown role " + string(role)}
	}
	user := &User{
		ID:             uuid.New(),
		Name:           name,
		Email:          email,
		Role:           role,
		CredentialHash: s.HashCredential(credential),
	}
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns users for the admin roster view.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var (
		users []*User
		total int
	)
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		users, total, err = s.users.List(ctx, limit, offset)
		return err
	})
	return users, total, err
}
