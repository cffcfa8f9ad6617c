// ABOUTME: Tests for the claimed-key cache guarding in-flight registrations.
// ABOUTME: Validates claim/release, TTL lapse, size limits, sweeping and concurrency safety.

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(ttl, maxSize)
	c.now = clock.now
	return c, clock
}

// held reports whether key has a live claim.
func held(c *Cache, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.claims[key]
	return ok && c.now().Sub(cl.at) < c.ttl
}

// claimed claims key and reports only whether it succeeded.
func claimed(c *Cache, key string) bool {
	_, ok := c.Claim(key)
	return ok
}

func TestCache_ClaimAndRelease(t *testing.T) {
	cache, _ := newTestCache(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, held(cache, "app-1"))
	token, ok := cache.Claim("app-1")
	assert.True(t, ok)
	assert.True(t, held(cache, "app-1"))

	// Second claim while the first is in progress is refused
	assert.False(t, claimed(cache, "app-1"))

	cache.Release("app-1", token)
	assert.False(t, held(cache, "app-1"))
	assert.True(t, claimed(cache, "app-1"), "key should be claimable after release")
}

func TestCache_ReleaseUnknownKey(t *testing.T) {
	cache, _ := newTestCache(5*time.Minute, 100)
	defer cache.Close()

	cache.Release("never-claimed", 1)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ClaimLapses(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)
	defer cache.Close()

	assert.True(t, claimed(cache, "slow-app"))
	clock.advance(30 * time.Second)
	assert.False(t, claimed(cache, "slow-app"))

	clock.advance(31 * time.Second)
	assert.False(t, held(cache, "slow-app"))
	assert.True(t, claimed(cache, "slow-app"), "lapsed claim should be replaceable")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_StaleReleaseKeepsNewClaim(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)
	defer cache.Close()

	first, ok := cache.Claim("slow-app")
	assert.True(t, ok)
	clock.advance(2 * time.Minute)

	second, ok := cache.Claim("slow-app")
	assert.True(t, ok)
	assert.NotEqual(t, first, second)

	// The lapsed owner finishing late must not free the new owner's claim.
	cache.Release("slow-app", first)
	assert.True(t, held(cache, "slow-app"))
	assert.False(t, claimed(cache, "slow-app"))

	cache.Release("slow-app", second)
	assert.False(t, held(cache, "slow-app"))
}

func TestCache_FullRefusesWhileClaimsAreLive(t *testing.T) {
	cache, clock := newTestCache(5*time.Minute, 3)
	defer cache.Close()

	for _, k := range []string{"first", "second", "third"} {
		assert.True(t, claimed(cache, k))
		clock.advance(time.Millisecond)
	}

	assert.False(t, claimed(cache, "fourth"), "live claims must not be displaced")
	for _, k := range []string{"first", "second", "third"} {
		assert.True(t, held(cache, k), k)
	}
	assert.Equal(t, 3, cache.Len())
}

func TestCache_FullDropsLapsedClaims(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 2)
	defer cache.Close()

	assert.True(t, claimed(cache, "old"))
	clock.advance(50 * time.Second)
	assert.True(t, claimed(cache, "young"))
	clock.advance(20 * time.Second)

	assert.True(t, claimed(cache, "new"))
	assert.False(t, held(cache, "old"))
	assert.True(t, held(cache, "young"))
	assert.True(t, held(cache, "new"))
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Sweep(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)
	defer cache.Close()

	cache.Claim("old-1")
	cache.Claim("old-2")
	clock.advance(50 * time.Second)
	cache.Claim("young")
	clock.advance(20 * time.Second)

	cache.sweep()

	assert.Equal(t, 1, cache.Len(), "only the young claim should survive")
	assert.True(t, held(cache, "young"))
}

func TestCache_ClaimIsAtomic(t *testing.T) {
	cache, _ := newTestCache(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100
	var winners int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if claimed(cache, "contested-app") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners, "exactly one goroutine should win the claim")
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)
	assert.True(t, claimed(cache, "before-close"))

	cache.Close()
	cache.Close()
}
