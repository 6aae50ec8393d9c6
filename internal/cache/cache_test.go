package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetIfAbsent(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewMemoryWithClock(clock)
	ctx := context.Background()

	created, err := c.SetIfAbsent(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "first call should create the marker")

	created, err = c.SetIfAbsent(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "second call within TTL should see the marker")

	now = now.Add(5*time.Minute + time.Second)
	created, err = c.SetIfAbsent(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "marker should expire after TTL")
}

func TestMemoryIndependentKeys(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	created, err := c.SetIfAbsent(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.SetIfAbsent(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "different key must not be suppressed")
}

func TestRedisSetIfAbsent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db)
	ctx := context.Background()

	mock.ExpectSetNX("debounce:BTC", "1", 5*time.Minute).SetVal(true)
	created, err := c.SetIfAbsent(ctx, "debounce:BTC", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectSetNX("debounce:BTC", "1", 5*time.Minute).SetVal(false)
	created, err = c.SetIfAbsent(ctx, "debounce:BTC", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	mock.ExpectSetNX("debounce:BTC", "1", 5*time.Minute).SetErr(errors.New("connection refused"))
	_, err = c.SetIfAbsent(ctx, "debounce:BTC", 5*time.Minute)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
