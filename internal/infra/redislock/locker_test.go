package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_UnreachableRedisReturnsError(t *testing.T) {
	rdb := NewClient("127.0.0.1:1")
	defer rdb.Close()
	l := New(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	unlock, ok, err := l.TryLock(ctx, "sweep", time.Second)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, unlock)
}

func TestTryLock_HeldElsewhere(t *testing.T) {
	held := map[string]string{}
	l := &Locker{
		set: func(_ context.Context, key, val string, _ time.Duration) (bool, error) {
			if _, ok := held[key]; ok {
				return false, nil
			}
			held[key] = val
			return true, nil
		},
	}

	unlock, ok, err := l.TryLock(context.Background(), "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, unlock)
	assert.Contains(t, held, keyPrefix+"sweep")

	_, ok, err = l.TryLock(context.Background(), "sweep", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
