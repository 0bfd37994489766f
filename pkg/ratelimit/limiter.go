// Package ratelimit throttles repeated triggers of the same (item, rule) pair.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxEntries = 10000

type Key struct {
	Item string
	Rule string
}

// Limiter records the last permitted trigger per key. Entries beyond the
// capacity are evicted least recently used first.
type Limiter struct {
	mu      sync.Mutex
	entries *lru.Cache[Key, time.Time]
}

func New(maxEntries int) (*Limiter, error) {

	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	entries, err := lru.New[Key, time.Time](maxEntries)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		entries: entries,
	}, nil
}

// Allow reports whether key may fire at now and, if so, records now as its
// last trigger. The check and the update happen atomically.
func (l *Limiter) Allow(key Key, now time.Time, window time.Duration) bool {
	_, ok := l.Reserve(key, now, window)
	return ok
}

// Reserve is Allow that can be taken back. Calling cancel restores the
// previous trigger of key unless a later one was recorded meanwhile.
func (l *Limiter) Reserve(key Key, now time.Time, window time.Duration) (cancel func(), ok bool) {

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries.Get(key)
	if ok && window > 0 && now.Sub(last) < window {
		return func() {}, false
	}

	// last trigger never moves backwards
	if ok && now.Before(last) {
		now = last
	}

	l.entries.Add(key, now)

	had := ok
	return func() {

		l.mu.Lock()
		defer l.mu.Unlock()

		current, ok := l.entries.Peek(key)
		if !ok || !current.Equal(now) {
			return
		}

		if had {
			l.entries.Add(key, last)
			return
		}

		l.entries.Remove(key)
	}, true
}

// Remaining returns how long key stays throttled.
func (l *Limiter) Remaining(key Key, now time.Time, window time.Duration) time.Duration {

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries.Peek(key)
	if !ok {
		return 0
	}

	left := window - now.Sub(last)
	if left < 0 {
		return 0
	}

	return left
}

// LastTriggered returns the recorded trigger time of key.
func (l *Limiter) LastTriggered(key Key) (time.Time, bool) {

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.entries.Peek(key)
}

// Sweep drops entries whose window has passed. ttl returns the window of a
// rule, or false when the rule no longer exists.
func (l *Limiter) Sweep(now time.Time, ttl func(rule string) (time.Duration, bool)) int {

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.entries.Keys() {

		last, ok := l.entries.Peek(key)
		if !ok {
			continue
		}

		window, exists := ttl(key.Rule)
		if exists && now.Sub(last) < window {
			continue
		}

		l.entries.Remove(key)
		removed++
	}

	return removed
}

func (l *Limiter) Len() int {
	return l.entries.Len()
}
