package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct {
	calls int
}

func (b *brokenStore) Get(context.Context, string) (string, bool, error) {
	b.calls++
	return "", false, ErrUnavailable
}

func (b *brokenStore) Set(context.Context, string, string) error {
	b.calls++
	return ErrUnavailable
}

func (b *brokenStore) Remove(context.Context, string) error {
	b.calls++
	return ErrUnavailable
}

func (b *brokenStore) Type() string { return "broken" }

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	require.NoError(t, s.Set(ctx, "userId", "U1"))
	v, ok, err := s.Get(ctx, "userId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "U1", v)

	require.NoError(t, s.Remove(ctx, "userId"))
	_, ok, _ = s.Get(ctx, "userId")
	assert.False(t, ok)
	assert.Equal(t, TypeMemory, s.Type())
}

func TestFallbackSwitchesPermanentlyOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	primary := &brokenStore{}
	s := NewFallbackStore(ctx, primary, NewMemoryStore(time.Minute), nil, nil)
	assert.Equal(t, "broken", s.Type())

	require.NoError(t, s.Set(ctx, "orgId", "O1"))
	assert.True(t, s.Degraded())
	assert.Equal(t, TypeMemory, s.Type())

	v, ok, err := s.Get(ctx, "orgId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "O1", v)
	assert.Equal(t, 1, primary.calls)
}

func TestFallbackProbesRedisAtStart(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewFallbackStore(context.Background(), NewRedisStore(client, "test:", time.Minute), NewMemoryStore(0), nil, nil)
	assert.True(t, s.Degraded())
	assert.Equal(t, TypeMemory, s.Type())
}

func TestRedisStoreWrapsErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	err := NewRedisStore(client, "", 0).Set(context.Background(), "k", "v")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

// ctxStore behaves like a healthy remote store that honours cancellation.
type ctxStore struct {
	*MemoryStore
}

func (c ctxStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return c.MemoryStore.Get(ctx, key)
}

func (c ctxStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.Set(ctx, key, value)
}

func (c ctxStore) Type() string { return TypeRedis }

func TestFallbackIgnoresCallerCancellation(t *testing.T) {
	primary := ctxStore{NewMemoryStore(time.Minute)}
	s := NewFallbackStore(context.Background(), primary, NewMemoryStore(time.Minute), nil, nil)
	require.NoError(t, s.Set(context.Background(), "session:b:orgId", "O2"))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Get(cancelled, "session:a:orgId")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Set(cancelled, "session:a:orgId", "O1"), context.Canceled)

	expired, stop := context.WithTimeout(context.Background(), time.Nanosecond)
	defer stop()
	<-expired.Done()
	_, _, err = s.Get(expired, "session:a:orgId")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, s.Degraded())
	assert.Equal(t, TypeRedis, s.Type())
	v, ok, err := s.Get(context.Background(), "session:b:orgId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "O2", v)
}
