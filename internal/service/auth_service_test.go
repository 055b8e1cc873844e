package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/lockout"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/repository"
	"github.com/tu2l/identity-platform/internal/token"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]models.User // keyed by id
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]models.User)}
}

func copyUser(u models.User) models.User {
	out := u
	if u.Profile != nil {
		profile := *u.Profile
		out.Profile = &profile
	}
	if u.Status != nil {
		status := *u.Status
		out.Status = &status
	}
	return out
}

func (s *fakeUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *fakeUserStore) GetByID(_ context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok && u.DeletedAt == nil {
		return copyUser(u), nil
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.DeletedAt == nil {
			return copyUser(u), nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email && u.DeletedAt == nil {
			return copyUser(u), nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *fakeUserStore) ExistsByUsernameOrEmail(_ context.Context, username string, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID string, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) SaveProfile(_ context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[profile.UserID]
	if !ok {
		return repository.ErrUserNotFound
	}
	saved := profile
	u.Profile = &saved
	s.users[profile.UserID] = u
	return nil
}

func (s *fakeUserStore) SaveStatus(_ context.Context, status models.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[status.UserID]
	if !ok {
		return repository.ErrUserNotFound
	}
	saved := status
	u.Status = &saved
	s.users[status.UserID] = u
	return nil
}

func (s *fakeUserStore) SoftDelete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	s.users[userID] = u
	return nil
}

type fakeCredentialStore struct {
	mu    sync.Mutex
	creds []models.Credential
}

func (s *fakeCredentialStore) Attach(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, cred)
	return nil
}

func (s *fakeCredentialStore) FindByTypeAndToken(_ context.Context, userID string, tokenType models.TokenType, tokenStr string) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.UserID == userID && c.TokenType == tokenType && c.Token == tokenStr && c.Active && c.ExpiresAt.After(time.Now()) {
			return c, nil
		}
	}
	return models.Credential{}, repository.ErrCredentialNotFound
}

func (s *fakeCredentialStore) FindLatest(_ context.Context, userID string) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Credential
	for i := range s.creds {
		c := &s.creds[i]
		if c.UserID != userID {
			continue
		}
		if latest == nil || c.IssuedAt.After(latest.IssuedAt) {
			latest = c
		}
	}
	if latest == nil {
		return models.Credential{}, repository.ErrCredentialNotFound
	}
	return *latest, nil
}

func (s *fakeCredentialStore) Revoke(_ context.Context, userID string, tokenStr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.creds[:0]
	removed := false
	for _, c := range s.creds {
		if c.UserID == userID && c.Token == tokenStr {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	s.creds = kept
	return removed, nil
}

func (s *fakeCredentialStore) ClearSensitive(_ context.Context, userID string) ([]models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []models.Credential
	kept := s.creds[:0]
	for _, c := range s.creds {
		sensitive := c.TokenType == models.TokenTypeRefresh ||
			c.TokenType == models.TokenTypePasswordReset ||
			c.TokenType == models.TokenTypeEmailVerification
		if c.UserID == userID && sensitive {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.creds = kept
	return removed, nil
}

func (s *fakeCredentialStore) countByType(userID string, tokenType models.TokenType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.creds {
		if c.UserID == userID && c.TokenType == tokenType {
			n++
		}
	}
	return n
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: make(map[string]time.Duration)}
}

func (r *fakeRevoker) Revoke(_ context.Context, jti string, remaining time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jti != "" && remaining > 0 {
		r.revoked[jti] = remaining
	}
	return nil
}

func (r *fakeRevoker) isRevoked(jti string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[jti]
	return ok
}

type fakeMailer struct {
	mu           sync.Mutex
	resetTokens  []string
	verifyTokens []string
}

func (m *fakeMailer) SendPasswordReset(_ string, resetToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTokens = append(m.resetTokens, resetToken)
	return nil
}

func (m *fakeMailer) SendEmailVerification(_ string, verificationToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyTokens = append(m.verifyTokens, verificationToken)
	return nil
}

func (m *fakeMailer) lastResetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetTokens) == 0 {
		return ""
	}
	return m.resetTokens[len(m.resetTokens)-1]
}

func (m *fakeMailer) lastVerifyToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifyTokens) == 0 {
		return ""
	}
	return m.verifyTokens[len(m.verifyTokens)-1]
}

type testEnv struct {
	svc         *AuthService
	users       *fakeUserStore
	credentials *fakeCredentialStore
	revoker     *fakeRevoker
	mailer      *fakeMailer
	codec       *token.Codec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserStore()
	credentials := &fakeCredentialStore{}
	revoker := newFakeRevoker()
	mailer := &fakeMailer{}

	codec := token.NewCodec("service-test-secret", "internal-auth-service", token.TTLConfig{
		Access:            30 * time.Minute,
		Refresh:           720 * time.Hour,
		RememberMeRefresh: 1440 * time.Hour,
		PasswordReset:     time.Hour,
		EmailVerification: 24 * time.Hour,
	})
	policy := lockout.NewPolicy(3, 15*time.Minute)

	svc := NewAuthService(users, credentials, revoker, codec, policy, mailer, "internal-auth-service", zerolog.Nop())

	return &testEnv{
		svc:         svc,
		users:       users,
		credentials: credentials,
		revoker:     revoker,
		mailer:      mailer,
		codec:       codec,
	}
}

func registerAlice(t *testing.T, env *testEnv) AuthResult {
	t.Helper()
	result, err := env.svc.Register(context.Background(), RegisterInput{
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "s3cret-password",
		FirstName: "Alice",
		LastName:  "Doe",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return result
}

func TestRegisterIssuesSessionAndVerificationMail(t *testing.T) {
	env := newTestEnv(t)
	result := registerAlice(t, env)

	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("register returned empty tokens")
	}
	if result.User.Role != models.UserRoleUser {
		t.Errorf("role = %q, want USER", result.User.Role)
	}

	claims, err := env.codec.Verify(result.AccessToken)
	if err != nil {
		t.Fatalf("Verify access token: %v", err)
	}
	if claims.TokenType != models.TokenTypeAccess {
		t.Errorf("tokenType = %q, want access", claims.TokenType)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}

	if env.credentials.countByType(result.User.ID, models.TokenTypeRefresh) != 1 {
		t.Error("refresh credential not attached")
	}
	if env.credentials.countByType(result.User.ID, models.TokenTypeAccess) != 1 {
		t.Error("access credential not attached")
	}

	if env.mailer.lastVerifyToken() == "" {
		t.Error("no verification mail dispatched")
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username:  "alice",
		Email:     "other@example.com",
		Password:  "s3cret-password",
		FirstName: "Other",
		LastName:  "Person",
	})
	if !errors.Is(err, autherr.ErrAlreadyExists) {
		t.Errorf("Register = %v, want ErrAlreadyExists", err)
	}
}

func TestAuthenticateByUsernameAndEmail(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)
	ctx := context.Background()

	if _, err := env.svc.Authenticate(ctx, "alice", "s3cret-password", false); err != nil {
		t.Fatalf("Authenticate by username: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "alice@example.com", "s3cret-password", false); err != nil {
		t.Fatalf("Authenticate by email: %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Authenticate(context.Background(), "nobody", "whatever", false)
	if !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Errorf("Authenticate = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateLocksAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := env.svc.Authenticate(ctx, "alice", "wrong", false)
		if !errors.Is(err, autherr.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v, want ErrInvalidCredentials", i, err)
		}
	}

	// Third failure crosses the threshold.
	_, err := env.svc.Authenticate(ctx, "alice", "wrong", false)
	if !errors.Is(err, autherr.ErrAccountLocked) {
		t.Fatalf("locking attempt = %v, want ErrAccountLocked", err)
	}

	// The right password is refused while the window is open.
	_, err = env.svc.Authenticate(ctx, "alice", "s3cret-password", false)
	if !errors.Is(err, autherr.ErrAccountLocked) {
		t.Fatalf("during lock window = %v, want ErrAccountLocked", err)
	}
}

func TestAuthenticateAfterLockWindowElapsed(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = env.svc.Authenticate(ctx, "alice", "wrong", false)
	}

	env.svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	result, err := env.svc.Authenticate(ctx, "alice", "s3cret-password", false)
	if err != nil {
		t.Fatalf("Authenticate after window: %v", err)
	}
	if result.User.Status.FailedLoginAttempts != 0 {
		t.Errorf("failure counter = %d, want 0", result.User.Status.FailedLoginAttempts)
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	result := registerAlice(t, env)
	ctx := context.Background()

	status := *result.User.Status
	status.Enabled = false
	if err := env.users.SaveStatus(ctx, status); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}

	_, err := env.svc.Authenticate(ctx, "alice", "s3cret-password", false)
	if !errors.Is(err, autherr.ErrAccountDisabled) {
		t.Errorf("Authenticate = %v, want ErrAccountDisabled", err)
	}
}

func TestRefreshTokenIssuesNewAccess(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)
	ctx := context.Background()

	refreshed, err := env.svc.RefreshToken(ctx, session.RefreshToken, "alice")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if refreshed.RefreshToken != session.RefreshToken {
		t.Error("refresh token was rotated")
	}

	claims, err := env.codec.Verify(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("Verify new access token: %v", err)
	}
	if claims.TokenType != models.TokenTypeAccess {
		t.Errorf("tokenType = %q, want access", claims.TokenType)
	}
	if env.credentials.countByType(session.User.ID, models.TokenTypeAccess) != 2 {
		t.Error("new access credential not attached")
	}
}

func TestRefreshTokenRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)
	ctx := context.Background()

	// An access token is not in the refresh ledger.
	_, err := env.svc.RefreshToken(ctx, session.AccessToken, "alice")
	if !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("RefreshToken with access token = %v, want ErrInvalidToken", err)
	}

	_, err = env.svc.RefreshToken(ctx, session.RefreshToken, "nobody")
	if !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("RefreshToken for unknown user = %v, want ErrInvalidToken", err)
	}
}

func TestLogoutRevokesLedgerAndDenylistsJTI(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)
	ctx := context.Background()

	jti, err := token.ExtractClaim(env.codec, session.AccessToken, func(c *token.Claims) string { return c.ID })
	if err != nil {
		t.Fatalf("ExtractClaim: %v", err)
	}

	if err := env.svc.Logout(ctx, session.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if !env.revoker.isRevoked(jti) {
		t.Error("jti not denylisted")
	}
	if env.credentials.countByType(session.User.ID, models.TokenTypeAccess) != 0 {
		t.Error("access credential still in ledger")
	}

	// Logging out again is a no-op, not an error.
	if err := env.svc.Logout(ctx, session.AccessToken); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestLogoutRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.Logout(context.Background(), "not-a-token")
	if !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("Logout = %v, want ErrInvalidToken", err)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ForgotPassword(context.Background(), "nobody@example.com")
	if !errors.Is(err, autherr.ErrUserNotFound) {
		t.Errorf("ForgotPassword = %v, want ErrUserNotFound", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)
	ctx := context.Background()

	if err := env.svc.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	resetToken := env.mailer.lastResetToken()
	if resetToken == "" {
		t.Fatal("no reset mail dispatched")
	}

	if err := env.svc.ResetPassword(ctx, resetToken, "brand-new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := env.svc.Authenticate(ctx, "alice", "s3cret-password", false); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "alice", "brand-new-password", false); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// The session refresh credential was wiped and its jti denylisted.
	if env.credentials.countByType(session.User.ID, models.TokenTypeRefresh) != 0 {
		t.Error("refresh credential survived the reset")
	}
	refreshJTI, err := token.ExtractClaim(env.codec, session.RefreshToken, func(c *token.Claims) string { return c.ID })
	if err != nil {
		t.Fatalf("ExtractClaim: %v", err)
	}
	if !env.revoker.isRevoked(refreshJTI) {
		t.Error("cleared refresh jti not denylisted")
	}

	// The reset token is single-use.
	if err := env.svc.ResetPassword(ctx, resetToken, "another-password"); !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("reused reset token = %v, want ErrInvalidToken", err)
	}
}

func TestResetPasswordRejectsWrongTokenType(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)

	err := env.svc.ResetPassword(context.Background(), session.AccessToken, "new-password")
	if !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("ResetPassword with access token = %v, want ErrInvalidToken", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	session := registerAlice(t, env)
	ctx := context.Background()

	err := env.svc.ChangePassword(ctx, session.User.ID, "wrong-current", "brand-new-password")
	if !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Fatalf("ChangePassword with wrong current = %v, want ErrInvalidCredentials", err)
	}

	if err := env.svc.ChangePassword(ctx, session.User.ID, "s3cret-password", "brand-new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := env.svc.Authenticate(ctx, "alice", "s3cret-password", false); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "alice", "brand-new-password", false); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// Proving the current password keeps existing sessions alive.
	if env.credentials.countByType(session.User.ID, models.TokenTypeRefresh) != 1 {
		t.Error("refresh credential wiped by password change")
	}
}

func TestChangePasswordUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ChangePassword(context.Background(), "usr_missing", "old", "new-password")
	if !errors.Is(err, autherr.ErrUserNotFound) {
		t.Errorf("ChangePassword = %v, want ErrUserNotFound", err)
	}
}

func TestVerifyEmailFlow(t *testing.T) {
	env := newTestEnv(t)
	registerAlice(t, env)
	ctx := context.Background()

	verifyToken := env.mailer.lastVerifyToken()
	if verifyToken == "" {
		t.Fatal("no verification mail dispatched")
	}

	if err := env.svc.VerifyEmail(ctx, verifyToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	user, err := env.users.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if !user.Status.EmailVerified {
		t.Error("EmailVerified not set")
	}

	// The verification token is single-use.
	if err := env.svc.VerifyEmail(ctx, verifyToken); !errors.Is(err, autherr.ErrInvalidToken) {
		t.Errorf("reused verification token = %v, want ErrInvalidToken", err)
	}
}
