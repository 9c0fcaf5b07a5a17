package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/chipquery/internal/metrics"
)

func TestQueryCache_GetPut(t *testing.T) {
	c := New[string]("test", 10, time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Put("k", 42)
	_, ok := c.Get("k")
	assert.True(t, ok)

	// Past TTL the entry is a miss even though it still occupies memory
	// until the lazy removal on access.
	clock = clock.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestQueryCache_CapacityEviction(t *testing.T) {
	c := New[int]("test", 2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "least-recently-used entry should be evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestQueryCache_LRUOrder(t *testing.T) {
	c := New[int]("test", 2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestGetOrCompute_Singleflight(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	var calls atomic.Int32
	compute := func(ctx context.Context) (int, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return 7, nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "k", compute)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one computation")
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestGetOrCompute_CountsEachAccessOnce(t *testing.T) {
	// Fresh cache name so the labeled counters start at zero.
	c := New[int]("metered_once", 10, time.Minute)
	miss := metrics.QueryCacheOpsTotal.WithLabelValues("metered_once", "miss")
	hit := metrics.QueryCacheOpsTotal.WithLabelValues("metered_once", "hit")

	v, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1.0, testutil.ToFloat64(miss), "cold access is one miss, not two")
	assert.Equal(t, 0.0, testutil.ToFloat64(hit))

	_, err = c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, errors.New("must not recompute")
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(miss))
	assert.Equal(t, 1.0, testutil.ToFloat64(hit), "warm access is one hit")
}

func TestGetOrCompute_FailureNotCached(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	boom := errors.New("upstream down")
	_, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(), "failed compute must not poison the cache")

	// Next caller retries and can succeed.
	v, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestGetOrCompute_AbandonedCallerStillPopulates(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()
		_, _ = c.GetOrCompute(ctx, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			// The compute context must survive the caller's cancellation.
			assert.NoError(t, ctx.Err())
			return 11, nil
		})
	}()

	<-started
	close(release)

	// The abandoned flight completes and the entry lands in the cache.
	assert.Eventually(t, func() bool {
		v, ok := c.Get("k")
		return ok && v == 11
	}, time.Second, 5*time.Millisecond)
}

func TestGetOrCompute_CanceledCallerGetsContextError(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
