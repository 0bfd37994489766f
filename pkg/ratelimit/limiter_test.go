package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLimiter(t *testing.T) *Limiter {

	l, err := New(0)
	require.NoError(t, err)

	return l
}

func TestAllowWithinWindow(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "101", Rule: "EBMLHeaderParsingFailed"}
	t1 := time.Unix(1700000000, 0)

	for _, w := range []time.Duration{time.Second, 300 * time.Second} {
		k := key
		k.Rule += w.String()
		assert.True(t, l.Allow(k, t1, w))
		assert.False(t, l.Allow(k, t1, w))
	}
}

func TestAllowBoundaryIsInclusive(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "101", Rule: "R"}
	t1 := time.Unix(1700000000, 0)
	w := 300 * time.Second

	assert.True(t, l.Allow(key, t1, w))
	assert.False(t, l.Allow(key, t1.Add(w-time.Nanosecond), w))
	assert.True(t, l.Allow(key, t1.Add(w), w))

	last, ok := l.LastTriggered(key)
	require.True(t, ok)
	assert.Equal(t, t1.Add(w), last)
}

func TestAllowZeroWindowDisablesThrottling(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "101", Rule: "R"}
	t1 := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(key, t1, 0))
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {

	l := createTestLimiter(t)
	t1 := time.Unix(1700000000, 0)

	assert.True(t, l.Allow(Key{Item: "1", Rule: "A"}, t1, time.Minute))
	assert.True(t, l.Allow(Key{Item: "1", Rule: "B"}, t1, time.Minute))
	assert.True(t, l.Allow(Key{Item: "2", Rule: "A"}, t1, time.Minute))
	assert.True(t, l.Allow(Key{Rule: "A"}, t1, time.Minute))
	assert.False(t, l.Allow(Key{Rule: "A"}, t1, time.Minute))
}

func TestLastTriggeredIsMonotonic(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "1", Rule: "A"}
	t1 := time.Unix(1700000000, 0)

	assert.True(t, l.Allow(key, t1, 0))
	assert.True(t, l.Allow(key, t1.Add(-time.Hour), 0))

	last, _ := l.LastTriggered(key)
	assert.Equal(t, t1, last)
}

func TestAllowIsAtomicUnderConcurrency(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "1", Rule: "A"}
	now := time.Now()

	var wg sync.WaitGroup
	var allowed int64

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(key, now, time.Minute) {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(1), allowed)
}

func TestReserveCancel(t *testing.T) {

	l := createTestLimiter(t)

	key := Key{Item: "101", Rule: "EBML"}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cancel, ok := l.Reserve(key, start, 300*time.Second)
	require.True(t, ok)
	cancel()

	_, ok = l.LastTriggered(key)
	assert.False(t, ok)
	assert.True(t, l.Allow(key, start, 300*time.Second))

	// Cancelling restores the previous trigger
	later := start.Add(301 * time.Second)
	cancel, ok = l.Reserve(key, later, 300*time.Second)
	require.True(t, ok)
	cancel()

	last, ok := l.LastTriggered(key)
	require.True(t, ok)
	assert.Equal(t, start, last)

	// A newer trigger is kept
	cancel, ok = l.Reserve(key, later, 300*time.Second)
	require.True(t, ok)
	l.entries.Add(key, later.Add(time.Second))
	cancel()

	last, _ = l.LastTriggered(key)
	assert.Equal(t, later.Add(time.Second), last)

	cancel, ok = l.Reserve(key, later, 300*time.Second)
	assert.False(t, ok)
	cancel()
}

func TestRemaining(t *testing.T) {

	l := createTestLimiter(t)
	key := Key{Item: "1", Rule: "A"}
	t1 := time.Unix(1700000000, 0)

	assert.Equal(t, time.Duration(0), l.Remaining(key, t1, time.Minute))

	l.Allow(key, t1, time.Minute)
	assert.Equal(t, 50*time.Second, l.Remaining(key, t1.Add(10*time.Second), time.Minute))
	assert.Equal(t, time.Duration(0), l.Remaining(key, t1.Add(2*time.Minute), time.Minute))
}

func TestSweep(t *testing.T) {

	l := createTestLimiter(t)
	t1 := time.Unix(1700000000, 0)

	l.Allow(Key{Item: "1", Rule: "short"}, t1, time.Second)
	l.Allow(Key{Item: "1", Rule: "long"}, t1, time.Hour)
	l.Allow(Key{Item: "1", Rule: "gone"}, t1, time.Hour)

	windows := map[string]time.Duration{
		"short": time.Second,
		"long":  time.Hour,
	}

	removed := l.Sweep(t1.Add(time.Minute), func(rule string) (time.Duration, bool) {
		w, ok := windows[rule]
		return w, ok
	})

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, l.Len())

	_, ok := l.LastTriggered(Key{Item: "1", Rule: "long"})
	assert.True(t, ok)
}

func TestCapacityIsBounded(t *testing.T) {

	l, err := New(2)
	require.NoError(t, err)

	now := time.Now()
	l.Allow(Key{Item: "1", Rule: "A"}, now, time.Hour)
	l.Allow(Key{Item: "2", Rule: "A"}, now, time.Hour)
	l.Allow(Key{Item: "3", Rule: "A"}, now, time.Hour)

	assert.Equal(t, 2, l.Len())
}
