package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const uniqueViolation = "23505"

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create persists the user aggregate (user row, profile, account status) in
// one transaction. A unique-constraint race on username/email surfaces as a
// retryable WriteConflict, never a raw storage error.
func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const userQuery = `
		INSERT INTO users (id, username, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	if _, err := tx.Exec(ctx, userQuery,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
	); err != nil {
		return translateConflict(err)
	}

	if user.Profile != nil {
		const profileQuery = `
			INSERT INTO user_profiles (user_id, first_name, middle_name, last_name, phone_number)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.Exec(ctx, profileQuery,
			user.ID,
			user.Profile.FirstName,
			user.Profile.MiddleName,
			user.Profile.LastName,
			user.Profile.PhoneNumber,
		); err != nil {
			return translateConflict(err)
		}
	}

	status := user.Status
	if status == nil {
		status = &models.AccountStatus{UserID: user.ID, Enabled: true}
	}
	const statusQuery = `
		INSERT INTO user_account_status (
			user_id, enabled, email_verified, phone_verified,
			failed_login_attempts, account_locked_until, last_login_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, statusQuery,
		status.UserID,
		status.Enabled,
		status.EmailVerified,
		status.PhoneVerified,
		status.FailedLoginAttempts,
		status.AccountLockedUntil,
		status.LastLoginAt,
	); err != nil {
		return translateConflict(err)
	}

	return tx.Commit(ctx)
}

const userSelect = `
	SELECT u.id, u.username, u.email, u.password_hash, u.role,
	       u.deleted_at, u.created_at, u.updated_at,
	       s.enabled, s.email_verified, s.phone_verified,
	       s.failed_login_attempts, s.account_locked_until, s.last_login_at,
	       p.first_name, p.middle_name, p.last_name, p.phone_number
	FROM users u
	JOIN user_account_status s ON s.user_id = u.id
	LEFT JOIN user_profiles p ON p.user_id = u.id
`

func (r *UserRepository) GetByID(ctx context.Context, userID string) (models.User, error) {
	return r.getOne(ctx, userSelect+` WHERE u.id = $1 AND u.deleted_at IS NULL`, userID)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getOne(ctx, userSelect+` WHERE u.username = $1 AND u.deleted_at IS NULL`, username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getOne(ctx, userSelect+` WHERE u.email = $1 AND u.deleted_at IS NULL`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (models.User, error) {
	row := r.pool.QueryRow(ctx, query, arg)

	var (
		user                                         models.User
		status                                       models.AccountStatus
		firstName, middleName, lastName, phoneNumber *string
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.DeletedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&status.Enabled,
		&status.EmailVerified,
		&status.PhoneVerified,
		&status.FailedLoginAttempts,
		&status.AccountLockedUntil,
		&status.LastLoginAt,
		&firstName,
		&middleName,
		&lastName,
		&phoneNumber,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	status.UserID = user.ID
	user.Status = &status

	if firstName != nil {
		user.Profile = &models.Profile{
			UserID:      user.ID,
			FirstName:   *firstName,
			MiddleName:  deref(middleName),
			LastName:    deref(lastName),
			PhoneNumber: deref(phoneNumber),
		}
	}

	return user, nil
}

func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username string, email string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE (username = $1 OR email = $2) AND deleted_at IS NULL
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, username, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash []byte) error {
	const query = `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	cmd, err := r.pool.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SaveProfile upserts the profile row; registration may have created the
// user without one.
func (r *UserRepository) SaveProfile(ctx context.Context, profile models.Profile) error {
	const query = `
		INSERT INTO user_profiles (user_id, first_name, middle_name, last_name, phone_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = $2, middle_name = $3, last_name = $4, phone_number = $5
	`
	_, err := r.pool.Exec(ctx, query,
		profile.UserID,
		profile.FirstName,
		profile.MiddleName,
		profile.LastName,
		profile.PhoneNumber,
	)
	return err
}

// SaveStatus writes back the mutated lockout/verification state. The
// read-modify-write race on the failure counter is accepted; a lost
// increment only weakens lockout sensitivity, it never grants access.
func (r *UserRepository) SaveStatus(ctx context.Context, status models.AccountStatus) error {
	const query = `
		UPDATE user_account_status
		SET enabled = $2, email_verified = $3, phone_verified = $4,
		    failed_login_attempts = $5, account_locked_until = $6, last_login_at = $7
		WHERE user_id = $1
	`
	cmd, err := r.pool.Exec(ctx, query,
		status.UserID,
		status.Enabled,
		status.EmailVerified,
		status.PhoneVerified,
		status.FailedLoginAttempts,
		status.AccountLockedUntil,
		status.LastLoginAt,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SoftDelete marks the user removed; rows are never hard-deleted.
func (r *UserRepository) SoftDelete(ctx context.Context, userID string) error {
	const query = `
		UPDATE users SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	cmd, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", autherr.ErrWriteConflict, pgErr.ConstraintName)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
