package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *manualClock) {
	t.Helper()
	clock := newManualClock()
	l, err := NewLimiter(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

// TestDefaultConfig verifies the stock limits.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 60, cfg.HTTPRequestsPerMinute)
	assert.Equal(t, 10, cfg.HTTPBurstLimit)
	assert.Equal(t, 30, cfg.WSMessagesPerMinute)
	assert.Equal(t, 5, cfg.WSBurstLimit)
	assert.NoError(t, cfg.Validate())
}

// TestNewLimiterRejectsInvalidConfig verifies each limit is validated.
func TestNewLimiterRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"http rate":  func(c *Config) { c.HTTPRequestsPerMinute = 0 },
		"http burst": func(c *Config) { c.HTTPBurstLimit = -1 },
		"ws rate":    func(c *Config) { c.WSMessagesPerMinute = 0 },
		"ws burst":   func(c *Config) { c.WSBurstLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := NewLimiter(cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

// TestCheckHTTPBurstThenDeny verifies that a client gets exactly the burst
// before being told when to retry.
func TestCheckHTTPBurstThenDeny(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPBurstLimit = 3
	l, clock := newTestLimiter(t, cfg)

	for i := 0; i < 3; i++ {
		allowed, retry := l.CheckHTTP("10.0.0.1")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, time.Duration(0), retry)
	}

	allowed, retry := l.CheckHTTP("10.0.0.1")
	assert.False(t, allowed)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Second)

	clock.Advance(retry)
	allowed, _ = l.CheckHTTP("10.0.0.1")
	assert.True(t, allowed)
}

// TestCheckWSBurstThenDeny verifies the WebSocket pool uses its own limits.
func TestCheckWSBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		allowed, _ := l.CheckWS("session-a")
		require.True(t, allowed, "message %d", i+1)
	}

	allowed, retry := l.CheckWS("session-a")
	assert.False(t, allowed)
	// 30 per minute refills one token every two seconds
	assert.InDelta(t, float64(2*time.Second), float64(retry), float64(time.Millisecond))
}

// TestKeysAreIndependent verifies that exhausting one key leaves others alone.
func TestKeysAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPBurstLimit = 1
	l, _ := newTestLimiter(t, cfg)

	allowed, _ := l.CheckHTTP("10.0.0.1")
	require.True(t, allowed)
	allowed, _ = l.CheckHTTP("10.0.0.1")
	require.False(t, allowed)

	allowed, _ = l.CheckHTTP("10.0.0.2")
	assert.True(t, allowed)
}

// TestPoolsAreIndependent verifies that the same key in the HTTP and
// WebSocket pools maps to different buckets.
func TestPoolsAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPBurstLimit = 1
	cfg.WSBurstLimit = 1
	l, _ := newTestLimiter(t, cfg)

	allowed, _ := l.CheckHTTP("shared")
	require.True(t, allowed)
	allowed, _ = l.CheckHTTP("shared")
	require.False(t, allowed)

	allowed, _ = l.CheckWS("shared")
	assert.True(t, allowed)
}

// TestDisabledLimiterAllowsEverything verifies that a disabled limiter never
// denies and never allocates buckets.
func TestDisabledLimiterAllowsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.HTTPBurstLimit = 1
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 50; i++ {
		allowed, retry := l.CheckHTTP("10.0.0.1")
		assert.True(t, allowed)
		assert.Equal(t, time.Duration(0), retry)

		allowed, retry = l.CheckWS("session")
		assert.True(t, allowed)
		assert.Equal(t, time.Duration(0), retry)
	}
	assert.Equal(t, 0, l.Len(PoolHTTP))
	assert.Equal(t, 0, l.Len(PoolWS))
}

// TestResetKey verifies that Reset restores a full bucket for one key only.
func TestResetKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPBurstLimit = 1
	cfg.WSBurstLimit = 1
	l, _ := newTestLimiter(t, cfg)

	l.CheckHTTP("a")
	l.CheckHTTP("b")
	l.CheckWS("a")
	require.Equal(t, 2, l.Len(PoolHTTP))
	require.Equal(t, 1, l.Len(PoolWS))

	l.Reset("a")
	assert.Equal(t, 1, l.Len(PoolHTTP))
	assert.Equal(t, 0, l.Len(PoolWS))

	allowed, _ := l.CheckHTTP("a")
	assert.True(t, allowed)
	allowed, _ = l.CheckWS("a")
	assert.True(t, allowed)
	allowed, _ = l.CheckHTTP("b")
	assert.False(t, allowed)

	// unknown keys are a no-op
	l.Reset("missing")
}

// TestResetAll verifies that every key in both pools is forgotten.
func TestResetAll(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())
	for i := 0; i < 20; i++ {
		l.CheckHTTP(fmt.Sprintf("10.0.0.%d", i))
		l.CheckWS(fmt.Sprintf("session-%d", i))
	}
	require.Equal(t, 20, l.Len(PoolHTTP))
	require.Equal(t, 20, l.Len(PoolWS))

	l.ResetAll()
	assert.Equal(t, 0, l.Len(PoolHTTP))
	assert.Equal(t, 0, l.Len(PoolWS))
	assert.Equal(t, 0, l.Len(Pool("unknown")))
}

// TestConcurrentFirstRequestsShareBucket verifies that racing first requests
// for one key are charged against a single bucket.
func TestConcurrentFirstRequestsShareBucket(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := l.CheckHTTP("203.0.113.9"); ok {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(10), granted.Load())
	assert.Equal(t, 1, l.Len(PoolHTTP))
}
