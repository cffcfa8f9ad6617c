// ABOUTME: Thread-safe TTL set of claimed keys used to reject duplicate in-flight work
// ABOUTME: Holds ids of registrations waiting on user consent until they finish

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Token identifies one claim so that only its owner can release it.
type Token uint64

// claim stores when a key was claimed, by which token, and its position in
// the eviction list.
type claim struct {
	at      time.Time
	token   Token
	element *list.Element
}

// Cache is a size-limited set of claimed keys. Insertion order is kept in a
// linked list so lapsed claims can be dropped from the front when full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	next    Token
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache whose claims lapse after ttl. A background goroutine
// sweeps lapsed claims until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Claim marks key as in progress and returns the token needed to release it.
// It returns false if the key is already claimed and the claim has not
// lapsed, or if the cache is full of live claims; existing claims are never
// displaced.
func (c *Cache) Claim(key string) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.claims[key]; ok {
		if now.Sub(cl.at) < c.ttl {
			return 0, false
		}
		c.removeLocked(key, cl)
	}

	if c.maxSize > 0 && len(c.claims) >= c.maxSize {
		c.sweepLocked(now)
		if len(c.claims) >= c.maxSize {
			return 0, false
		}
	}

	c.next++
	c.claims[key] = &claim{at: now, token: c.next, element: c.order.PushBack(key)}
	return c.next, true
}

// Release drops the claim on key if it is still the one identified by token.
// Releasing an unclaimed key, or a claim that has since been replaced, is a
// no-op.
func (c *Cache) Release(key string, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.claims[key]; ok && cl.token == token {
		c.removeLocked(key, cl)
	}
}

// Len returns the number of claims, including lapsed ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// Must be called with mu held.
func (c *Cache) removeLocked(key string, cl *claim) {
	c.order.Remove(cl.element)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes lapsed claims.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())
}

// sweepLocked removes lapsed claims. Claims are ordered by age, so it stops
// at the first live one. Must be called with mu held.
func (c *Cache) sweepLocked(now time.Time) {
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		cl := c.claims[key]
		if cl == nil || now.Sub(cl.at) < c.ttl {
			return
		}
		next := e.Next()
		c.removeLocked(key, cl)
		e = next
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
