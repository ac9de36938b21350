package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNonceStoreUsesSetNX(t *testing.T) {
	db, mock := redismock.NewClientMock()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	store := NewRedisNonceStore(db, "")
	store.now = func() time.Time { return now }

	mock.ExpectSetNX("bookings:hmac-nonce:internal:n-1", "1", 5*time.Minute).SetVal(true)
	mock.ExpectSetNX("bookings:hmac-nonce:internal:n-1", "1", 5*time.Minute).SetVal(false)

	stored, err := store.UseNonce(context.Background(), "internal", "n-1", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.UseNonce(context.Background(), "internal", "n-1", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, stored, "replayed nonce must not be stored twice")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisNonceStoreErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	store := NewRedisNonceStore(db, "test")
	store.now = func() time.Time { return now }

	_, err := store.UseNonce(context.Background(), "", "n", now.Add(time.Minute))
	assert.ErrorIs(t, err, errNonceArgs)

	_, err = store.UseNonce(context.Background(), "internal", "n", now.Add(-time.Second))
	assert.Error(t, err)

	mock.ExpectSetNX("test:internal:n-2", "1", time.Minute).SetErr(errors.New("connection refused"))
	_, err = store.UseNonce(context.Background(), "internal", "n-2", now.Add(time.Minute))
	assert.ErrorContains(t, err, "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryNonceStoreExpires(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	store := NewInMemoryNonceStore()
	store.now = func() time.Time { return now }

	stored, err := store.UseNonce(context.Background(), "internal", "n", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = store.UseNonce(context.Background(), "internal", "n", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, stored)

	now = now.Add(2 * time.Minute)
	stored, err = store.UseNonce(context.Background(), "internal", "n", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, stored, "expired nonces can be reused")
}
