package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock is a Clock that only moves when a test advances it.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestNewTokenBucketStartsFull verifies that a fresh bucket can satisfy
// exactly capacity single-token requests.
func TestNewTokenBucketStartsFull(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(5, 1, clock.Now)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, b.Tokens(), 1e-9)
	for i := 0; i < 5; i++ {
		assert.True(t, b.Consume(1), "consume %d should succeed", i+1)
	}
	assert.False(t, b.Consume(1))
}

// TestNewTokenBucketRejectsInvalidConfig verifies fail-fast validation.
func TestNewTokenBucketRejectsInvalidConfig(t *testing.T) {
	_, err := NewTokenBucket(0, 1, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewTokenBucket(3, 0, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewTokenBucket(3, -1, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

// TestConsumeIsAllOrNothing verifies that asking for more tokens than are
// available leaves the bucket unchanged.
func TestConsumeIsAllOrNothing(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(3, 1, clock.Now)
	require.NoError(t, err)

	assert.False(t, b.Consume(4))
	assert.InDelta(t, 3.0, b.Tokens(), 1e-9)

	require.True(t, b.Consume(2))
	assert.False(t, b.Consume(2))
	assert.InDelta(t, 1.0, b.Tokens(), 1e-9)
}

// TestRefillAfterWaiting verifies lazy refill from elapsed time.
func TestRefillAfterWaiting(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(4, 2, clock.Now)
	require.NoError(t, err)

	require.True(t, b.Consume(4))
	require.False(t, b.Consume(1))

	clock.Advance(500 * time.Millisecond)
	assert.True(t, b.Consume(1))
	assert.False(t, b.Consume(1))

	// capacity/rate seconds refill an empty bucket completely
	clock.Advance(2 * time.Second)
	assert.True(t, b.Consume(4))
}

// TestRefillIsCappedAtCapacity verifies tokens never exceed capacity.
func TestRefillIsCappedAtCapacity(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(3, 1, clock.Now)
	require.NoError(t, err)

	require.True(t, b.Consume(1))
	clock.Advance(time.Hour)
	assert.InDelta(t, 3.0, b.Tokens(), 1e-9)
	assert.False(t, b.Consume(4))
}

// TestTimeUntilAvailable verifies the wait estimate for exhausted and
// partially filled buckets.
func TestTimeUntilAvailable(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(2, 1, clock.Now)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), b.TimeUntilAvailable(1))
	assert.Equal(t, time.Duration(0), b.TimeUntilAvailable(2))

	require.True(t, b.Consume(2))
	assert.InDelta(t, float64(time.Second), float64(b.TimeUntilAvailable(1)), float64(time.Millisecond))
	assert.InDelta(t, float64(2*time.Second), float64(b.TimeUntilAvailable(2)), float64(time.Millisecond))

	clock.Advance(250 * time.Millisecond)
	assert.InDelta(t, float64(750*time.Millisecond), float64(b.TimeUntilAvailable(1)), float64(time.Millisecond))

	// TimeUntilAvailable does not consume
	clock.Advance(750 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.TimeUntilAvailable(1))
	assert.True(t, b.Consume(1))
}

// TestConcurrentConsume verifies that concurrent consumers never take more
// tokens than the bucket holds.
func TestConcurrentConsume(t *testing.T) {
	clock := newManualClock()
	b, err := NewTokenBucket(10, 1, clock.Now)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Consume(1) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.InDelta(t, 0.0, b.Tokens(), 1e-9)
}
