// ABOUTME: Tests for the per-key registration rate limiter
// ABOUTME: Covers burst exhaustion, refill, key isolation and idle eviction

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_NilAllowsEverything(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("127.0.0.1", time.Now()))
	}
	assert.Nil(t, New(0, 5, 0))
	assert.Nil(t, New(10, 0, 0))
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := New(60, 3, time.Minute) // one token per second
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client", now), "burst request %d", i)
	}
	assert.False(t, l.Allow("client", now))

	assert.True(t, l.Allow("client", now.Add(1100*time.Millisecond)))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(60, 1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))
}

func TestLimiter_EvictsIdleKeys(t *testing.T) {
	l := New(60, 1, time.Minute)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("idle-%d", i), start)
	}
	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("busy", later)
	}
	assert.Equal(t, 1, l.Len())
}
