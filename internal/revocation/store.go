// Package revocation is the shared denylist of token ids. The identity
// service writes to it on logout and credential wipes; the gateway consults
// it so a revoked token stops working before its cryptographic expiry.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked_jti:"

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Revoke denylists a token id for the remainder of its lifetime. Entries
// expire with the token itself, so the set never outgrows the live token
// population.
func (s *Store) Revoke(ctx context.Context, jti string, remaining time.Duration) error {
	if jti == "" {
		return nil
	}
	if remaining <= 0 {
		// Already past cryptographic expiry, nothing to denylist.
		return nil
	}
	if err := s.client.Set(ctx, keyPrefix+jti, 1, remaining).Err(); err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token id has been denylisted. Errors are
// returned to the caller, which fails closed.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check jti: %w", err)
	}
	return n > 0, nil
}
