//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-billing/internal/domain"
)

// memClient is an in-process RedisClient. TTLs are recorded, not enforced.
type memClient struct {
	mu      sync.Mutex
	vals    map[string]string
	counts  map[string]int64
	ttls    map[string]time.Duration
	failure error
}

var _ RedisClient = (*memClient)(nil)

func newMemClient() *memClient {
	return &memClient{vals: map[string]string{}, counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *memClient) Ping(ctx context.Context) error { return m.failure }

func (m *memClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value.(string)
	m.ttls[key] = exp
	return m.failure
}

func (m *memClient) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return false, m.failure
	}
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value.(string)
	m.ttls[key] = exp
	return true, nil
}

func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], m.failure
}

func (m *memClient) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return 0, m.failure
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memClient) Expire(ctx context.Context, key string, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[key] = exp
	return m.failure
}

func (m *memClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
		delete(m.counts, k)
	}
	return m.failure
}

func (m *memClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals[key] != value {
		return false, m.failure
	}
	delete(m.vals, key)
	return true, m.failure
}

func (m *memClient) Close() error { return nil }

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	cli := newMemClient()
	rl := NewRateLimiter(cli)
	key := InitializeKey("acc-1", "10.0.0.1")
	assert.Equal(t, "rate_limit:initialize:acc-1:10.0.0.1", key)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, cli.ttls[key], "first hit opens the window")

	other, err := rl.Allow(ctx, InitializeKey("acc-2", "10.0.0.1"), 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other, "budgets are per account")

	cli.failure = errors.New("connection refused")
	_, err = rl.Allow(ctx, key, 3, time.Minute)
	assert.Error(t, err)
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	cli := newMemClient()
	l := NewLocker(cli)
	l.backoff = time.Millisecond
	key := JobLockKey("payment_expiry")

	tok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	_, err = l.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLocked)

	require.NoError(t, l.Unlock(ctx, key, "someone-else"))
	_, err = l.TryLock(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLocked, "a foreign token cannot release the lease")

	require.NoError(t, l.Unlock(ctx, key, tok))
	tok2, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)

	cli.failure = errors.New("down")
	_, err = l.TryLock(ctx, JobLockKey("other"), time.Minute)
	assert.EqualError(t, err, "down")
}
