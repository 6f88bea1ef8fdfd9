package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_DefaultStart(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), clock.Now())
}

func TestFakeClock_FrozenUntilAdvanced(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())

	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), clock.Now())
}

func TestFakeClock_Step(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	clock.SetStep(time.Second)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())
	assert.Equal(t, start.Add(2*time.Second), clock.Peek())

	clock.SetStep(0)
	assert.Equal(t, start.Add(2*time.Second), clock.Now())
	assert.Equal(t, start.Add(2*time.Second), clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	clock.SetStep(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Now()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, start.Add(1000*time.Millisecond), clock.Peek())
}
