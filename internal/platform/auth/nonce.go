package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope. The boolean indicates
	// whether the nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

var errNonceArgs = errors.New("auth: scope and nonce are required")

// InMemoryNonceStore offers an in-memory nonce registry for single instance and local runs.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errNonceArgs
	}

	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}

	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}

	s.nonces[key] = expiry
	return true, nil
}

const defaultNoncePrefix = "bookings:hmac-nonce"

// RedisNonceStore shares nonces across instances with SET NX and a TTL.
type RedisNonceStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisNonceStore constructs the store. An empty prefix uses the default.
func NewRedisNonceStore(client redis.Cmdable, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = defaultNoncePrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix, now: time.Now}
}

// UseNonce implements NonceStore.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errNonceArgs
	}
	if s == nil || s.client == nil {
		return false, errors.New("auth: redis nonce store not configured")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	key := fmt.Sprintf("%s:%s:%s", s.prefix, scope, nonce)
	stored, err := s.client.SetNX(ctx, key, "1", ttl.Round(time.Second)).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis nonce: %w", err)
	}
	return stored, nil
}
