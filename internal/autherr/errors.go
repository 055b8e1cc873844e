// Package autherr defines the error kinds shared by the identity service
// and the gateway. Handlers map them to HTTP statuses with errors.Is;
// components always fail with the most specific kind available.
package autherr

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAlreadyExists      = errors.New("user already exists with username or email")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidAuthHeader  = errors.New("missing or invalid authorization header")

	// ErrWriteConflict marks a lost race on a unique-constraint write.
	// The request is safe to retry; never surfaced as a 5xx.
	ErrWriteConflict = errors.New("request failed due to concurrent writes, retry")

	// ErrRequestTypeMisconfigured means the gateway's own filter chain is
	// broken: the classification stage never ran or produced garbage.
	// Fails closed as an internal error, never treated as public.
	ErrRequestTypeMisconfigured = errors.New("invalid request type configuration")
)
