package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	t.Parallel()

	t.Run("exponential doubles per attempt", func(t *testing.T) {
		t.Parallel()
		b := BackoffPolicy{Type: "exponential", Base: 2 * time.Second, Max: 5 * time.Minute}

		assert.Equal(t, 2*time.Second, b.Delay(1))
		assert.Equal(t, 4*time.Second, b.Delay(2))
		assert.Equal(t, 8*time.Second, b.Delay(3))
	})

	t.Run("exponential is capped at max", func(t *testing.T) {
		t.Parallel()
		b := BackoffPolicy{Type: "exponential", Base: time.Second, Max: time.Minute}

		assert.Equal(t, time.Minute, b.Delay(10))
	})

	t.Run("fixed ignores attempt number", func(t *testing.T) {
		t.Parallel()
		b := BackoffPolicy{Type: "fixed", Base: 5 * time.Second}

		assert.Equal(t, 5*time.Second, b.Delay(1))
		assert.Equal(t, 5*time.Second, b.Delay(7))
	})

	t.Run("attempt below one is treated as the first", func(t *testing.T) {
		t.Parallel()
		b := BackoffPolicy{Type: "exponential", Base: time.Second}

		assert.Equal(t, time.Second, b.Delay(0))
		assert.Equal(t, time.Second, b.Delay(-3))
	})
}

func TestJob_AttemptsExhausted(t *testing.T) {
	t.Parallel()

	job := &Job{MaxAttempts: 3}
	assert.False(t, job.AttemptsExhausted())

	job.AttemptsMade = 2
	assert.False(t, job.AttemptsExhausted())

	job.AttemptsMade = 3
	assert.True(t, job.AttemptsExhausted())
}

func TestPriority_Valid(t *testing.T) {
	t.Parallel()

	for _, p := range PriorityClasses() {
		assert.True(t, p.Valid(), "priority %q should be valid", p)
	}
	assert.False(t, Priority("urgent").Valid())
	assert.False(t, Priority("").Valid())
}
