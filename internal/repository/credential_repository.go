package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tu2l/identity-platform/internal/models"
)

var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRepository is the persisted credential ledger: one row per
// issued token, per user, used for revocation and session bookkeeping
// independent of cryptographic expiry.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) Attach(ctx context.Context, cred models.Credential) error {
	const query = `
		INSERT INTO user_credentials (
			id, user_id, token, token_type, jti, issuer, issued_at, expires_at, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.UserID,
		cred.Token,
		cred.TokenType,
		cred.JTI,
		cred.Issuer,
		cred.IssuedAt,
		cred.ExpiresAt,
		cred.Active,
	)
	return translateConflict(err)
}

const credentialSelect = `
	SELECT id, user_id, token, token_type, jti, issuer, issued_at, expires_at, active, created_at
	FROM user_credentials
`

// FindByTypeAndToken matches by exact token, not "most recent", so sibling
// sessions survive rotation. Ledger-expired and inactive rows are excluded
// here even when the token itself would still verify.
func (r *CredentialRepository) FindByTypeAndToken(ctx context.Context, userID string, tokenType models.TokenType, token string) (models.Credential, error) {
	const query = credentialSelect + `
		WHERE user_id = $1 AND token_type = $2 AND token = $3 AND active AND expires_at > NOW()
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, userID, tokenType, token))
}

// FindLatest returns the most recently issued credential, used to surface
// current-session metadata in responses.
func (r *CredentialRepository) FindLatest(ctx context.Context, userID string) (models.Credential, error) {
	const query = credentialSelect + `
		WHERE user_id = $1 AND active
		ORDER BY issued_at DESC
		LIMIT 1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, userID))
}

// Revoke removes the matching active credential. Returns false when nothing
// matched, which keeps logout idempotent.
func (r *CredentialRepository) Revoke(ctx context.Context, userID string, token string) (bool, error) {
	const query = `
		DELETE FROM user_credentials
		WHERE user_id = $1 AND token = $2 AND active
	`
	cmd, err := r.pool.Exec(ctx, query, userID, token)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ClearSensitive wipes every refresh / password-reset / email-verification
// credential for the user and returns the removed rows so their token ids
// can be denylisted. Called after a password reset; stale recovery tokens
// must not be replayable.
func (r *CredentialRepository) ClearSensitive(ctx context.Context, userID string) ([]models.Credential, error) {
	const query = `
		DELETE FROM user_credentials
		WHERE user_id = $1 AND token_type IN ($2, $3, $4)
		RETURNING id, user_id, token, token_type, jti, issuer, issued_at, expires_at, active, created_at
	`
	rows, err := r.pool.Query(ctx, query, userID,
		models.TokenTypeRefresh,
		models.TokenTypePasswordReset,
		models.TokenTypeEmailVerification,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		removed = append(removed, cred)
	}
	return removed, rows.Err()
}

// DeleteExpired sweeps ledger rows past their expiry. Run from the
// scheduler; the ledger only needs rows for tokens that could still be
// presented.
func (r *CredentialRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM user_credentials WHERE expires_at <= $1`
	cmd, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *CredentialRepository) scanOne(row pgx.Row) (models.Credential, error) {
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, ErrCredentialNotFound
		}
		return models.Credential{}, err
	}
	return cred, nil
}

func scanCredential(row pgx.Row) (models.Credential, error) {
	var cred models.Credential
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Token,
		&cred.TokenType,
		&cred.JTI,
		&cred.Issuer,
		&cred.IssuedAt,
		&cred.ExpiresAt,
		&cred.Active,
		&cred.CreatedAt,
	)
	return cred, err
}
