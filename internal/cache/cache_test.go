package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/config"
)

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	m := NewMemory(30 * time.Second)
	m.now = func() time.Time { return clock }

	_, ok, err := m.Get(ctx, "events:week")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "events:week", []byte("payload")))
	val, ok, err := m.Get(ctx, "events:week")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), val)

	clock = clock.Add(30 * time.Second)
	_, ok, _ = m.Get(ctx, "events:week")
	assert.False(t, ok, "entries expire at the TTL")

	require.NoError(t, m.Set(ctx, "events:month", []byte("other")))
	assert.Len(t, m.entries, 1, "expired entries are swept on write")

	require.NoError(t, m.Purge(ctx))
	_, ok, _ = m.Get(ctx, "events:month")
	assert.False(t, ok)
	assert.NoError(t, m.Close())
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, time.Minute)

	mock.ExpectGet("calagg:events:week").RedisNil()
	mock.ExpectSet("calagg:events:week", "payload", time.Minute).SetVal("OK")
	mock.ExpectGet("calagg:events:week").SetVal("payload")
	mock.ExpectGet("calagg:events:day").SetErr(errors.New("connection reset"))

	_, ok, err := r.Get(ctx, "events:week")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "events:week", []byte("payload")))

	val, ok, err := r.Get(ctx, "events:week")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), val)

	_, _, err = r.Get(ctx, "events:day")
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Purge(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, time.Minute)

	mock.ExpectKeys("calagg:*").SetVal([]string{"calagg:events:week", "calagg:events:month"})
	mock.ExpectDel("calagg:events:week", "calagg:events:month").SetVal(2)
	require.NoError(t, r.Purge(ctx))

	mock.ExpectKeys("calagg:*").SetVal(nil)
	require.NoError(t, r.Purge(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew(t *testing.T) {
	s, err := New(config.CacheConfig{Backend: "memory", TTL: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.CacheConfig{Backend: "redis", RedisAddr: "127.0.0.1:1", TTL: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	assert.NoError(t, s.Close())

	_, err = New(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}
