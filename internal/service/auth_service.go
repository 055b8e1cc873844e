package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/ids"
	"github.com/tu2l/identity-platform/internal/lockout"
	"github.com/tu2l/identity-platform/internal/mail"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/repository"
	"github.com/tu2l/identity-platform/internal/security"
	"github.com/tu2l/identity-platform/internal/token"
)

// UserStore is the persistence surface the auth service needs for the user
// aggregate. Absent users are reported with repository.ErrUserNotFound.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username string, email string) (bool, error)
	UpdatePassword(ctx context.Context, userID string, passwordHash []byte) error
	SaveProfile(ctx context.Context, profile models.Profile) error
	SaveStatus(ctx context.Context, status models.AccountStatus) error
	SoftDelete(ctx context.Context, userID string) error
}

// CredentialStore is the per-user token ledger. Absent or ledger-expired
// credentials are reported with repository.ErrCredentialNotFound.
type CredentialStore interface {
	Attach(ctx context.Context, cred models.Credential) error
	FindByTypeAndToken(ctx context.Context, userID string, tokenType models.TokenType, tokenStr string) (models.Credential, error)
	FindLatest(ctx context.Context, userID string) (models.Credential, error)
	Revoke(ctx context.Context, userID string, tokenStr string) (bool, error)
	ClearSensitive(ctx context.Context, userID string) ([]models.Credential, error)
}

// TokenRevoker propagates revocations to the gateway-visible denylist.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, remaining time.Duration) error
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// AuthService composes the token codec, credential ledger, lockout policy
// and user store into the user-facing authentication workflows.
type AuthService struct {
	users       UserStore
	credentials CredentialStore
	revoked     TokenRevoker
	codec       *token.Codec
	lock        lockout.Policy
	mailer      mail.Sender
	issuer      string
	log         zerolog.Logger
	now         func() time.Time
}

func NewAuthService(
	users UserStore,
	credentials CredentialStore,
	revoked TokenRevoker,
	codec *token.Codec,
	lock lockout.Policy,
	mailer mail.Sender,
	issuer string,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		credentials: credentials,
		revoked:     revoked,
		codec:       codec,
		lock:        lock,
		mailer:      mailer,
		issuer:      issuer,
		log:         log,
		now:         time.Now,
	}
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	MiddleName  string
	LastName    string
	PhoneNumber string
}

type AuthResult struct {
	User            models.User
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Register creates the user aggregate and issues its first session. The
// refresh credential is always attached before the access credential, so a
// failure mid-flow never leaves an access token without a session anchor.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, input.Username, input.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if exists {
		return AuthResult{}, autherr.ErrAlreadyExists
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		Role:         models.UserRoleUser,
		Profile: &models.Profile{
			FirstName:   input.FirstName,
			MiddleName:  input.MiddleName,
			LastName:    input.LastName,
			PhoneNumber: input.PhoneNumber,
		},
		Status: &models.AccountStatus{Enabled: true},
	}
	user.Profile.UserID = user.ID
	user.Status.UserID = user.ID

	if err := s.users.Create(ctx, user); err != nil {
		return AuthResult{}, err
	}

	result, err := s.issueLoginTokens(ctx, user, false)
	if err != nil {
		return AuthResult{}, err
	}

	s.dispatchEmailVerification(ctx, user)

	s.log.Info().Str("username", user.Username).Msg("user registered")
	return result, nil
}

// Authenticate resolves the user by email or username, enforces lockout
// before touching the password, and issues a fresh refresh+access pair on
// success. rememberMe only widens the refresh TTL.
func (s *AuthService) Authenticate(ctx context.Context, usernameOrEmail string, password string, rememberMe bool) (AuthResult, error) {
	user, err := s.resolveUser(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, autherr.ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	now := s.now()
	status := user.Status

	if s.lock.Locked(status, now) {
		return AuthResult{}, autherr.ErrAccountLocked
	}
	if !status.Enabled {
		return AuthResult{}, autherr.ErrAccountDisabled
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return AuthResult{}, err
	}
	if !ok {
		locked := s.lock.RecordFailure(status, now)
		if saveErr := s.users.SaveStatus(ctx, *status); saveErr != nil {
			s.log.Error().Err(saveErr).Str("username", user.Username).Msg("persist failed login attempt")
		}
		if locked {
			s.log.Warn().Str("username", user.Username).Msg("account locked after repeated failures")
			return AuthResult{}, autherr.ErrAccountLocked
		}
		return AuthResult{}, autherr.ErrInvalidCredentials
	}

	s.lock.RecordSuccess(status, now)
	if err := s.users.SaveStatus(ctx, *status); err != nil {
		return AuthResult{}, err
	}

	result, err := s.issueLoginTokens(ctx, user, rememberMe)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("username", user.Username).Msg("user authenticated")
	return result, nil
}

// RefreshToken issues a new access credential against an existing refresh
// credential. The refresh token itself is not rotated here; only an
// explicit re-login rotates it, which bounds the ledger write rate.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string, username string) (AuthResult, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, autherr.ErrInvalidToken
		}
		return AuthResult{}, err
	}

	cred, err := s.credentials.FindByTypeAndToken(ctx, user.ID, models.TokenTypeRefresh, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return AuthResult{}, autherr.ErrInvalidToken
		}
		return AuthResult{}, err
	}
	if cred.Expired(s.now()) {
		return AuthResult{}, autherr.ErrInvalidToken
	}

	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return AuthResult{}, autherr.ErrInvalidToken
	}
	if claims.TokenType != models.TokenTypeRefresh || claims.Subject != username {
		return AuthResult{}, autherr.ErrInvalidToken
	}

	accessToken, accessCred, err := s.issueCredential(ctx, user, models.TokenTypeAccess, false)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("username", username).Msg("access token refreshed")
	return AuthResult{
		User:            user,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessCred.ExpiresAt,
	}, nil
}

// Logout revokes the presented token's ledger entry and denylists its jti
// for the remainder of its lifetime. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, tokenStr string) error {
	claims, err := s.codec.Verify(tokenStr)
	if err != nil {
		return autherr.ErrInvalidToken
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return autherr.ErrInvalidToken
		}
		return err
	}

	removed, err := s.credentials.Revoke(ctx, user.ID, tokenStr)
	if err != nil {
		return err
	}

	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now())); err != nil {
		return err
	}

	s.log.Info().Str("username", user.Username).Bool("removed", removed).Msg("user logged out")
	return nil
}

// ForgotPassword issues a password-reset credential and hands the token to
// the mail transport. The returned error reflects dispatch, not signing.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return autherr.ErrUserNotFound
		}
		return err
	}

	resetToken, _, err := s.issueCredential(ctx, user, models.TokenTypePasswordReset, false)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(user.Email, resetToken); err != nil {
		return fmt.Errorf("dispatch password reset mail: %w", err)
	}

	s.log.Info().Str("username", user.Username).Msg("password reset mail sent")
	return nil
}

// ResetPassword replaces the password hash and wipes every outstanding
// recovery and session credential, so a leaked reset link cannot be reused
// after the owner has regained control.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken string, newPassword string) error {
	claims, err := s.codec.Verify(resetToken)
	if err != nil || claims.TokenType != models.TokenTypePasswordReset {
		return autherr.ErrInvalidToken
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return autherr.ErrInvalidToken
		}
		return err
	}

	if _, err := s.credentials.FindByTypeAndToken(ctx, user.ID, models.TokenTypePasswordReset, resetToken); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			s.log.Warn().Str("username", user.Username).Msg("password reset with unknown token")
			return autherr.ErrInvalidToken
		}
		return err
	}

	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return err
	}

	removed, err := s.credentials.ClearSensitive(ctx, user.ID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, cred := range removed {
		if err := s.revoked.Revoke(ctx, cred.JTI, cred.ExpiresAt.Sub(now)); err != nil {
			s.log.Error().Err(err).Str("username", user.Username).Msg("denylist cleared credential")
		}
	}

	s.log.Info().Str("username", user.Username).Msg("password reset completed")
	return nil
}

// ChangePassword replaces the password hash for a user who can prove the
// current password. Unlike ResetPassword it leaves the credential ledger
// alone; the owner never lost control of the account.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, currentPassword string, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return autherr.ErrUserNotFound
		}
		return err
	}

	ok, err := security.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.ErrInvalidCredentials
	}

	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return err
	}

	s.log.Info().Str("username", user.Username).Msg("password changed")
	return nil
}

// VerifyEmail consumes an email-verification credential and flips the
// emailVerified flag.
func (s *AuthService) VerifyEmail(ctx context.Context, tokenStr string) error {
	claims, err := s.codec.Verify(tokenStr)
	if err != nil || claims.TokenType != models.TokenTypeEmailVerification {
		return autherr.ErrInvalidToken
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return autherr.ErrInvalidToken
		}
		return err
	}

	if _, err := s.credentials.FindByTypeAndToken(ctx, user.ID, models.TokenTypeEmailVerification, tokenStr); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return autherr.ErrInvalidToken
		}
		return err
	}

	user.Status.EmailVerified = true
	if err := s.users.SaveStatus(ctx, *user.Status); err != nil {
		return err
	}

	// The credential is single-use.
	if _, err := s.credentials.Revoke(ctx, user.ID, tokenStr); err != nil {
		return err
	}

	s.log.Info().Str("username", user.Username).Msg("email verified")
	return nil
}

func (s *AuthService) resolveUser(ctx context.Context, usernameOrEmail string) (models.User, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if emailPattern.MatchString(usernameOrEmail) {
		return s.users.GetByEmail(ctx, strings.ToLower(usernameOrEmail))
	}
	return s.users.GetByUsername(ctx, usernameOrEmail)
}

// issueLoginTokens attaches a refresh credential, then an access
// credential. Order matters: refresh anchors the session.
func (s *AuthService) issueLoginTokens(ctx context.Context, user models.User, rememberMe bool) (AuthResult, error) {
	refreshToken, _, err := s.issueCredential(ctx, user, models.TokenTypeRefresh, rememberMe)
	if err != nil {
		return AuthResult{}, err
	}

	accessToken, accessCred, err := s.issueCredential(ctx, user, models.TokenTypeAccess, false)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		User:            user,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessCred.ExpiresAt,
	}, nil
}

// issueCredential signs a token of the given type and records it in the
// ledger with the timestamps taken from the signed claims.
func (s *AuthService) issueCredential(ctx context.Context, user models.User, tokenType models.TokenType, rememberMe bool) (string, models.Credential, error) {
	var (
		tokenStr string
		err      error
	)
	switch tokenType {
	case models.TokenTypeAccess:
		tokenStr, err = s.codec.IssueAccess(user)
	case models.TokenTypeRefresh:
		tokenStr, err = s.codec.IssueRefresh(user, rememberMe)
	case models.TokenTypePasswordReset:
		tokenStr, err = s.codec.IssuePasswordReset(user)
	case models.TokenTypeEmailVerification:
		tokenStr, err = s.codec.IssueEmailVerification(user)
	default:
		return "", models.Credential{}, fmt.Errorf("unsupported token type %q", tokenType)
	}
	if err != nil {
		return "", models.Credential{}, err
	}

	claims, err := s.codec.Verify(tokenStr)
	if err != nil {
		return "", models.Credential{}, fmt.Errorf("verify issued token: %w", err)
	}

	cred := models.Credential{
		ID:        ids.New(),
		UserID:    user.ID,
		Token:     tokenStr,
		TokenType: tokenType,
		JTI:       claims.ID,
		Issuer:    s.issuer,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Active:    true,
	}
	if err := s.credentials.Attach(ctx, cred); err != nil {
		return "", models.Credential{}, err
	}
	return tokenStr, cred, nil
}

func (s *AuthService) dispatchEmailVerification(ctx context.Context, user models.User) {
	verifyToken, _, err := s.issueCredential(ctx, user, models.TokenTypeEmailVerification, false)
	if err != nil {
		s.log.Error().Err(err).Str("username", user.Username).Msg("issue email verification token")
		return
	}
	if err := s.mailer.SendEmailVerification(user.Email, verifyToken); err != nil {
		s.log.Error().Err(err).Str("username", user.Username).Msg("send email verification mail")
	}
}
