package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
)

type mockUserRepo struct {
	mu       sync.Mutex
	byEmail  map[string]*User
	failNext int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{byEmail: map[string]*User{}}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.byEmail[u.Email] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return nil, db.NewPersistenceError("get user by email", errors.New("connection reset"))
	}
	return m.byEmail[email], nil
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []*User
	for _, u := range m.byEmail {
		users = append(users, u)
	}
	return users, len(users), nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: map[string]*Session{}}
}

func (m *mockSessionRepo) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *mockUserRepo, *mockSessionRepo) {
	t.Helper()
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	cfg := auth.SessionConfig{
		SigningKey: []byte("test-signing-key"),
		TTL:        time.Hour,
		Issuer:     "rcm-test",
	}
	svc := NewService(users, sessions, cfg, zerolog.Nop())
	return svc, users, sessions
}

func seedUser(t *testing.T, svc *Service, email string, role auth.Role, credential string) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), "Test User", email, role, credential)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestRegister_AssignsID(t *testing.T) {
	svc, _, _ := newTestService(t)

	u := seedUser(t, svc, "patient1@example.com", auth.RolePatient, "patient-pass")
	if u.ID == uuid.Nil {
		t.Fatal("expected register to assign a user ID")
	}
	if u.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %s", u.Role)
	}
}

func TestLogin_Success(t *testing.T) {
	svc, _, sessions := newTestService(t)
	seedUser(t, svc, "admin@billerly.ai", auth.RoleAdmin, "admin123")

	result, err := svc.Login(context.Background(), "admin@billerly.ai", "admin123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Actor.Role != auth.RoleAdmin {
		t.Errorf("expected admin role, got %s", result.Actor.Role)
	}
	if result.Token == "" {
		t.Error("expected a session token")
	}
	if len(sessions.sessions) != 1 {
		t.Errorf("expected 1 session row, got %d", len(sessions.sessions))
	}
}

func TestLogin_InvalidCredential(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedUser(t, svc, "doctor@billerly.ai", auth.RoleDoctor, "doctor123")

	for _, tc := range []struct{ email, cred string }{
		{"doctor@billerly.ai", "wrong"},
		{"nobody@billerly.ai", "doctor123"},
	} {
		_, err := svc.Login(context.Background(), tc.email, tc.cred)
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("login %s: expected AuthError, got %v", tc.email, err)
		}
		if authErr.Code != authCodeInvalidCredential {
			t.Errorf("expected invalid_credential, got %s", authErr.Code)
		}
	}
}

func TestLogin_RetriesTransientFailure(t *testing.T) {
	svc, users, _ := newTestService(t)
	seedUser(t, svc, "patient@billerly.ai", auth.RolePatient, "patient123")
	users.failNext = 1

	result, err := svc.Login(context.Background(), "patient@billerly.ai", "patient123")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if result.Actor.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %s", result.Actor.Role)
	}
}

func TestLogin_SurfacesPersistentFailure(t *testing.T) {
	svc, users, _ := newTestService(t)
	seedUser(t, svc, "patient@billerly.ai", auth.RolePatient, "patient123")
	users.failNext = 2

	_, err := svc.Login(context.Background(), "patient@billerly.ai", "patient123")
	if !db.IsPersistenceError(err) {
		t.Fatalf("expected persistence error after retry, got %v", err)
	}
}

func TestRestoreSession_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc, "admin@billerly.ai", auth.RoleAdmin, "admin123")

	result, err := svc.Login(context.Background(), "admin@billerly.ai", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := svc.RestoreSession(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if actor == nil {
		t.Fatal("expected actor from valid token")
	}
	if actor.ID != user.ID.String() {
		t.Errorf("expected actor %s, got %s", user.ID, actor.ID)
	}
}

func TestRestoreSession_InvalidTokenIsNotAnError(t *testing.T) {
	svc, _, _ := newTestService(t)

	actor, err := svc.RestoreSession(context.Background(), "not-a-token")
	if err != nil {
		t.Fatalf("expected nil error for garbage token, got %v", err)
	}
	if actor != nil {
		t.Errorf("expected nil actor, got %+v", actor)
	}
}

func TestLogout_RevokesAndIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedUser(t, svc, "admin@billerly.ai", auth.RoleAdmin, "admin123")

	result, err := svc.Login(context.Background(), "admin@billerly.ai", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(context.Background(), result.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(context.Background(), result.Token); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}
	if err := svc.Logout(context.Background(), "garbage"); err != nil {
		t.Fatalf("logout with garbage token should be a no-op: %v", err)
	}

	actor, err := svc.RestoreSession(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("restore after logout: %v", err)
	}
	if actor != nil {
		t.Error("expected no actor after logout")
	}
}

func TestSessionActive(t *testing.T) {
	svc, _, sessions := newTestService(t)
	seedUser(t, svc, "admin@billerly.ai", auth.RoleAdmin, "admin123")

	result, err := svc.Login(context.Background(), "admin@billerly.ai", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var sessionID string
	for id := range sessions.sessions {
		sessionID = id
	}

	active, err := svc.SessionActive(context.Background(), sessionID)
	if err != nil || !active {
		t.Fatalf("expected active session, got active=%v err=%v", active, err)
	}

	if err := svc.Logout(context.Background(), result.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	active, err = svc.SessionActive(context.Background(), sessionID)
	if err != nil || active {
		t.Fatalf("expected revoked session, got active=%v err=%v", active, err)
	}

	active, err = svc.SessionActive(context.Background(), "unknown")
	if err != nil || active {
		t.Fatalf("unknown session should be inactive, got active=%v err=%v", active, err)
	}
}
