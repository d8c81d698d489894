package nodescan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheReturnsSameEntryWithinTTL(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	cache := newTTLCache[float64]("total_stake", 10, 2*time.Minute, clk, nil)

	var loads int
	load := func(context.Context) (float64, bool, error) {
		loads++
		return 1234.5, true, nil
	}

	got, err := cache.GetOrLoad(context.Background(), "vote", load)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, got)
	first, ok := cache.Get("vote")
	require.True(t, ok)

	clk.Add(90 * time.Second)
	got, err = cache.GetOrLoad(context.Background(), "vote", load)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, got)
	second, ok := cache.Get("vote")
	require.True(t, ok)

	assert.Equal(t, 1, loads)
	assert.Equal(t, first.storedAt, second.storedAt)
}

func TestTTLCacheExpiresEntries(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	cache := newTTLCache[string]("info", 10, time.Minute, clk, nil)
	cache.Add("a", "alpha")

	clk.Add(time.Minute)
	_, ok := cache.Get("a")
	require.True(t, ok, "entry at exactly ttl is still fresh")

	clk.Add(time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTTLCacheSkipsUncacheableValues(t *testing.T) {
	t.Parallel()

	cache := newTTLCache[float64]("total_stake", 10, time.Minute, clock.NewMock(), nil)

	var loads int
	for i := 0; i < 2; i++ {
		_, err := cache.GetOrLoad(context.Background(), "vote", func(context.Context) (float64, bool, error) {
			loads++
			return 0, false, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, loads)
}

func TestTTLCacheDoesNotStoreErrors(t *testing.T) {
	t.Parallel()

	cache := newTTLCache[int]("epoch", 10, time.Minute, clock.NewMock(), nil)
	boom := errors.New("boom")

	_, err := cache.GetOrLoad(context.Background(), "k", func(context.Context) (int, bool, error) { return 0, true, boom })
	require.ErrorIs(t, err, boom)
	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheCollapsesConcurrentLoads(t *testing.T) {
	t.Parallel()

	cache := newTTLCache[int]("history", 10, time.Minute, clock.NewMock(), nil)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, bool, error) {
		loads.Add(1)
		<-release
		return 7, true, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.GetOrLoad(context.Background(), "vote", load)
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestTTLCachePurgeExpired(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	cache := newTTLCache[int]("epoch", 10, 25*time.Second, clk, nil)
	cache.Add("old", 1)
	clk.Add(20 * time.Second)
	cache.Add("new", 2)
	clk.Add(10 * time.Second)

	assert.Equal(t, 1, cache.PurgeExpired())
	_, ok := cache.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestTTLCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	cache := newTTLCache[int]("info", 2, time.Minute, clock.NewMock(), nil)
	cache.Add("a", 1)
	cache.Add("b", 2)
	_, _ = cache.Get("a")
	cache.Add("c", 3)

	_, ok := cache.Get("b")
	assert.False(t, ok)
	_, ok = cache.Get("a")
	assert.True(t, ok)
}

func TestTTLCacheSharedLoadOutlivesCanceledCaller(t *testing.T) {
	t.Parallel()

	cache := newTTLCache[int]("total_stake", 10, time.Minute, clock.NewMock(), nil)

	var loads atomic.Int32
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (int, bool, error) {
		loads.Add(1)
		once.Do(func() { close(started) })
		select {
		case <-release:
			return 9, true, nil
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrLoad(first, "vote", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		value int
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := cache.GetOrLoad(context.Background(), "vote", load)
		second <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 9, got.value)
	assert.Equal(t, int32(1), loads.Load())

	entry, ok := cache.Get("vote")
	require.True(t, ok)
	assert.Equal(t, 9, entry.value)
}
