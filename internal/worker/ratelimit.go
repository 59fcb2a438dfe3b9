package worker

import (
	"sync"
	"time"
)

// slidingWindowLimiter bounds how many jobs a worker may start per
// window. It tracks the start timestamps of recent admissions, so the
// bound holds over any window-sized span, not just aligned buckets.
type slidingWindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	starts []time.Time

	now func() time.Time
}

// newSlidingWindowLimiter creates a limiter admitting at most max
// starts per window. max <= 0 or window <= 0 disables limiting.
func newSlidingWindowLimiter(max int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether one more job may start now, recording the start
// if admitted.
func (l *slidingWindowLimiter) Allow() bool {
	if l.max <= 0 || l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.starts) >= l.max {
		return false
	}
	l.starts = append(l.starts, now)
	return true
}

// NextAllowed returns how long until a start could be admitted. Zero
// means a start would be admitted now.
func (l *slidingWindowLimiter) NextAllowed() time.Duration {
	if l.max <= 0 || l.window <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.starts) < l.max {
		return 0
	}
	// The oldest tracked start is the next to age out.
	return l.starts[0].Add(l.window).Sub(now)
}

// evict drops starts older than the window. Callers hold the lock.
func (l *slidingWindowLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}
