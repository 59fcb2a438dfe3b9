package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowLimiter(t *testing.T) {
	t.Parallel()

	t.Run("admits up to max within the window", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := newSlidingWindowLimiter(3, time.Second)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow())
		assert.True(t, l.Allow())
		assert.True(t, l.Allow())
		assert.False(t, l.Allow())
	})

	t.Run("admissions age out of the window", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := newSlidingWindowLimiter(2, time.Second)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow())
		assert.True(t, l.Allow())
		assert.False(t, l.Allow())

		now = now.Add(1100 * time.Millisecond)
		assert.True(t, l.Allow())
	})

	t.Run("bound holds over a sliding span, not aligned buckets", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := newSlidingWindowLimiter(2, time.Second)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow())
		now = now.Add(900 * time.Millisecond)
		assert.True(t, l.Allow())

		// The first admission is still inside the window at +900ms.
		now = now.Add(50 * time.Millisecond)
		assert.False(t, l.Allow())
	})

	t.Run("next allowed reports the wait until the oldest start ages out", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := newSlidingWindowLimiter(1, time.Second)
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow())
		now = now.Add(400 * time.Millisecond)
		assert.Equal(t, 600*time.Millisecond, l.NextAllowed())

		now = now.Add(700 * time.Millisecond)
		assert.Equal(t, time.Duration(0), l.NextAllowed())
	})

	t.Run("zero max disables limiting", func(t *testing.T) {
		t.Parallel()
		l := newSlidingWindowLimiter(0, time.Second)

		for i := 0; i < 100; i++ {
			assert.True(t, l.Allow())
		}
		assert.Equal(t, time.Duration(0), l.NextAllowed())
	})
}
