package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(n *int32, value any) FetchFunc {
	return func(context.Context) (any, error) {
		atomic.AddInt32(n, 1)
		return value, nil
	}
}

func TestGetCachesUntilInvalidated(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")
	var fetches int32

	v, err := c.Get(context.Background(), key, counter(&fetches, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = c.Get(context.Background(), key, counter(&fetches, "b"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches)
	assert.False(t, c.Stale(key))

	c.Invalidate(key)
	assert.True(t, c.Stale(key))

	v, err = c.Get(context.Background(), key, counter(&fetches, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, int32(2), fetches)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")
	var fetches int32

	_, err := c.Get(context.Background(), key, counter(&fetches, 1))
	require.NoError(t, err)

	c.Invalidate(key)
	c.Invalidate(key)

	for i := 0; i < 3; i++ {
		_, err = c.Get(context.Background(), key, counter(&fetches, 2))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), fetches, "two invalidations cause exactly one refetch")
	assert.Equal(t, 2, c.Invalidations(key))
}

func TestInvalidateDoesNotTouchData(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")

	c.Invalidate(key)
	assert.Equal(t, uint64(0), c.Stats().Fetches, "invalidation is lazy")
	assert.Equal(t, uint64(1), c.Stats().Invalidations)
}

func TestConcurrentReadersShareOneFetch(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")

	var fetches int32
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), key, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestFetchErrorIsNotCached(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), key, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, c.Stale(key))

	var fetches int32
	v, err := c.Get(context.Background(), key, counter(&fetches, "ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestInvalidationDuringFetchForcesRefetch(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")

	_, err := c.Get(context.Background(), key, func(context.Context) (any, error) {
		c.Invalidate(key)
		return "old", nil
	})
	require.NoError(t, err)
	assert.True(t, c.Stale(key))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "messages:conv-1", MessagesKey("conv-1").String())
}

func TestReadAfterInvalidateDoesNotJoinEarlierFetch(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")

	started := make(chan struct{})
	release := make(chan struct{})
	first := make(chan any, 1)
	go func() {
		v, err := c.Get(context.Background(), key, func(context.Context) (any, error) {
			close(started)
			<-release
			return "old", nil
		})
		assert.NoError(t, err)
		first <- v
	}()
	<-started

	c.Invalidate(key)

	var fetches int32
	v, err := c.Get(context.Background(), key, counter(&fetches, "new"))
	require.NoError(t, err)
	assert.Equal(t, "new", v, "a read issued after Invalidate fetches again")
	assert.Equal(t, int32(1), fetches)

	close(release)
	assert.Equal(t, "old", <-first)

	v, err = c.Get(context.Background(), key, counter(&fetches, "newer"))
	require.NoError(t, err)
	assert.Equal(t, "new", v, "the overtaken fetch must not replace the newer entry")
	assert.Equal(t, int32(1), fetches)
}

func TestCancelledReaderDoesNotFailSharedFetch(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	key := MessagesKey("conv-1")

	started := make(chan struct{})
	release := make(chan struct{})
	var fetches int32
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&fetches, 1)
		close(started)
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, key, fetch)
		leaderErr <- err
	}()
	<-started

	follower := make(chan any, 1)
	go func() {
		v, err := c.Get(context.Background(), key, fetch)
		assert.NoError(t, err)
		follower <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	assert.Equal(t, "v", <-follower)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	assert.False(t, c.Stale(key))
}

func TestSharedFetchIsBounded(t *testing.T) {
	c := New(0, 0, 0)
	defer c.Close()
	c.SetFetchTimeout(20 * time.Millisecond)

	_, err := c.Get(context.Background(), MessagesKey("conv-1"), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
