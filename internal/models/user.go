package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "USER"
	UserRoleAdmin UserRole = "ADMIN"
)

type TokenType string

const (
	TokenTypeAccess            TokenType = "access"
	TokenTypeRefresh           TokenType = "refresh"
	TokenTypePasswordReset     TokenType = "password_reset"
	TokenTypeEmailVerification TokenType = "email_verification"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	Role         UserRole
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Profile *Profile
	Status  *AccountStatus
}

type Profile struct {
	UserID      string
	FirstName   string
	MiddleName  string
	LastName    string
	PhoneNumber string
}

func (p *Profile) FullName() string {
	name := p.FirstName
	if p.MiddleName != "" {
		name += " " + p.MiddleName
	}
	if p.LastName != "" {
		name += " " + p.LastName
	}
	return name
}

// AccountStatus carries the per-user lockout and verification state.
// Mutated only by lockout.Policy and explicit admin/unlock actions.
type AccountStatus struct {
	UserID              string
	Enabled             bool
	EmailVerified       bool
	PhoneVerified       bool
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	LastLoginAt         *time.Time
}

// Locked reports whether the lock window is still open at the given instant.
func (s *AccountStatus) Locked(now time.Time) bool {
	return s.AccountLockedUntil != nil && s.AccountLockedUntil.After(now)
}

// Credential is one issued token recorded in the per-user ledger.
// IssuedAt/ExpiresAt are copied from the signed token, never recomputed.
type Credential struct {
	ID        string
	UserID    string
	Token     string
	TokenType TokenType
	JTI       string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Active    bool
	CreatedAt time.Time
}

// Expired is the ledger's own expiry check, independent of the token
// signature. Logout and rotation rely on it to stop honoring an issuance
// before its cryptographic expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
