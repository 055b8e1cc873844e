// Package token is the sole authority on claim semantics: every claim key,
// token-type value and TTL used anywhere in the platform is defined here,
// shared by issuance, verification and the gateway's extraction path.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tu2l/identity-platform/internal/models"
)

var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
)

// Claims is the signed payload of every token the platform issues.
// Email and Role are only present on the token types that carry them.
type Claims struct {
	UserID    string           `json:"userId,omitempty"`
	Email     string           `json:"email,omitempty"`
	Role      string           `json:"role,omitempty"`
	TokenType models.TokenType `json:"tokenType"`
	jwt.RegisteredClaims
}

// Username returns the token subject.
func (c *Claims) Username() string {
	return c.Subject
}

type TTLConfig struct {
	Access            time.Duration
	Refresh           time.Duration
	RememberMeRefresh time.Duration
	PasswordReset     time.Duration
	EmailVerification time.Duration
}

// Codec signs and verifies compact HMAC-SHA-256 tokens with a single
// symmetric secret.
type Codec struct {
	secret []byte
	issuer string
	ttl    TTLConfig
	now    func() time.Time
}

func NewCodec(secret string, issuer string, ttl TTLConfig) *Codec {
	return &Codec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueAccess signs an access token carrying the user's id, email and role.
func (c *Codec) IssueAccess(user models.User) (string, error) {
	return c.issue(user.Username, models.TokenTypeAccess, Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}, c.ttl.Access)
}

// IssueRefresh signs a refresh token carrying the subject only. rememberMe
// selects the extended TTL; it does not change any other claim.
func (c *Codec) IssueRefresh(user models.User, rememberMe bool) (string, error) {
	ttl := c.ttl.Refresh
	if rememberMe && c.ttl.RememberMeRefresh > ttl {
		ttl = c.ttl.RememberMeRefresh
	}
	return c.issue(user.Username, models.TokenTypeRefresh, Claims{UserID: user.ID}, ttl)
}

func (c *Codec) IssuePasswordReset(user models.User) (string, error) {
	return c.issue(user.Username, models.TokenTypePasswordReset, Claims{
		UserID: user.ID,
		Email:  user.Email,
	}, c.ttl.PasswordReset)
}

func (c *Codec) IssueEmailVerification(user models.User) (string, error) {
	return c.issue(user.Username, models.TokenTypeEmailVerification, Claims{
		UserID: user.ID,
		Email:  user.Email,
	}, c.ttl.EmailVerification)
}

// issue builds the full claim set. The jti is a fresh random uuid on every
// call so two tokens issued within the same second never collide.
func (c *Codec) issue(subject string, tokenType models.TokenType, extra Claims, ttl time.Duration) (string, error) {
	now := c.now()

	claims := extra
	claims.TokenType = tokenType
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks structure, signature and expiry in that order. No claim is
// trusted before the signature check succeeds.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// ExtractClaim verifies the token and applies a selector over its claims.
func ExtractClaim[T any](c *Codec, tokenStr string, selector func(*Claims) T) (T, error) {
	var zero T
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return zero, err
	}
	return selector(claims), nil
}

// IsExpired reports whether a structurally valid, correctly signed token
// has passed its expiry.
func (c *Codec) IsExpired(tokenStr string) (bool, error) {
	_, err := c.Verify(tokenStr)
	if errors.Is(err, ErrExpired) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// RemainingSeconds returns the seconds until expiry, zero if already expired.
func (c *Codec) RemainingSeconds(tokenStr string) (int64, error) {
	claims, err := c.Verify(tokenStr)
	if errors.Is(err, ErrExpired) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	remaining := claims.ExpiresAt.Time.Sub(c.now())
	if remaining < 0 {
		return 0, nil
	}
	return int64(remaining.Seconds()), nil
}

func (c *Codec) IssuedAt(tokenStr string) (time.Time, error) {
	return ExtractClaim(c, tokenStr, func(cl *Claims) time.Time { return cl.IssuedAt.Time })
}

func (c *Codec) ExpiresAt(tokenStr string) (time.Time, error) {
	return ExtractClaim(c, tokenStr, func(cl *Claims) time.Time { return cl.ExpiresAt.Time })
}
