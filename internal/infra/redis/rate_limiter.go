package redis

import (
	"context"
	"fmt"
	"time"

	"marketplace-billing/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a fixed-window counter: the first hit in a window sets the
// key's TTL.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// InitializeKey scopes the payment-initialize budget to one account and
// client address.
func InitializeKey(accountID, ip string) string {
	return fmt.Sprintf("rate_limit:initialize:%s:%s", accountID, ip)
}
