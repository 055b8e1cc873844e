package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/lockout"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/repository"
)

// UserService covers the admin-facing user operations: lookup, the lockout
// escape hatch, and soft deletion.
type UserService struct {
	users       UserStore
	credentials CredentialStore
	log         zerolog.Logger
}

func NewUserService(users UserStore, credentials CredentialStore, log zerolog.Logger) *UserService {
	return &UserService{users: users, credentials: credentials, log: log}
}

func (s *UserService) GetByID(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, autherr.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, autherr.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// LatestCredential returns the user's most recently issued credential, or
// ok=false when the ledger holds none.
func (s *UserService) LatestCredential(ctx context.Context, username string) (models.Credential, bool, error) {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return models.Credential{}, false, err
	}

	cred, err := s.credentials.FindLatest(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, err
	}
	return cred, true, nil
}

// Unlock clears the failure counter and lock window unconditionally.
func (s *UserService) Unlock(ctx context.Context, username string) error {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	lockout.Unlock(user.Status)
	if err := s.users.SaveStatus(ctx, *user.Status); err != nil {
		return err
	}

	s.log.Info().Str("username", username).Msg("account unlocked by admin")
	return nil
}

// UpdateProfile replaces the user's profile fields and returns the
// refreshed aggregate.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, profile models.Profile) (models.User, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	profile.UserID = user.ID
	if err := s.users.SaveProfile(ctx, profile); err != nil {
		return models.User{}, err
	}
	user.Profile = &profile

	s.log.Info().Str("username", user.Username).Msg("profile updated")
	return user, nil
}

// Delete soft-deletes the user; the row and its credentials remain for
// audit but the account no longer resolves.
func (s *UserService) Delete(ctx context.Context, username string) error {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.deleteByID(ctx, user.ID, user.Username)
}

// DeleteByID is the self-service removal path; identity comes from the
// gateway headers, not a path parameter.
func (s *UserService) DeleteByID(ctx context.Context, userID string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.deleteByID(ctx, user.ID, user.Username)
}

func (s *UserService) deleteByID(ctx context.Context, userID string, username string) error {
	if err := s.users.SoftDelete(ctx, userID); err != nil {
		return err
	}

	s.log.Info().Str("username", username).Msg("account soft-deleted")
	return nil
}
