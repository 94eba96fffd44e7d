package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Pool names one of the limiter's independent bucket pools.
type Pool string

const (
	// PoolHTTP throttles HTTP requests keyed by client IP.
	PoolHTTP Pool = "http"
	// PoolWS throttles WebSocket messages keyed by session id.
	PoolWS Pool = "ws"
)

const shardCount = 64

// Config defines the per-pool limits. Rates are expressed per minute and
// converted to a per-second refill rate internally.
type Config struct {
	Enabled               bool `yaml:"enabled"`
	HTTPRequestsPerMinute int  `yaml:"http_requests_per_minute"`
	HTTPBurstLimit        int  `yaml:"http_burst_limit"`
	WSMessagesPerMinute   int  `yaml:"ws_messages_per_minute"`
	WSBurstLimit          int  `yaml:"ws_burst_limit"`
}

// DefaultConfig returns the stock limits: 60 requests per minute with a burst
// of 10 for HTTP and 30 messages per minute with a burst of 5 for WebSocket.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		HTTPRequestsPerMinute: 60,
		HTTPBurstLimit:        10,
		WSMessagesPerMinute:   30,
		WSBurstLimit:          5,
	}
}

// Validate reports an error wrapping ErrInvalidConfig if any rate or burst is
// not positive.
func (c Config) Validate() error {
	switch {
	case c.HTTPRequestsPerMinute <= 0:
		return fmt.Errorf("%w: http_requests_per_minute must be positive, got %d", ErrInvalidConfig, c.HTTPRequestsPerMinute)
	case c.HTTPBurstLimit <= 0:
		return fmt.Errorf("%w: http_burst_limit must be positive, got %d", ErrInvalidConfig, c.HTTPBurstLimit)
	case c.WSMessagesPerMinute <= 0:
		return fmt.Errorf("%w: ws_messages_per_minute must be positive, got %d", ErrInvalidConfig, c.WSMessagesPerMinute)
	case c.WSBurstLimit <= 0:
		return fmt.Errorf("%w: ws_burst_limit must be positive, got %d", ErrInvalidConfig, c.WSBurstLimit)
	}
	return nil
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock makes every bucket read time from now instead of time.Now.
func WithClock(now Clock) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter keeps one token bucket per key in two independent pools, one for
// HTTP clients and one for WebSocket sessions. Buckets are created on first
// use and live until Reset.
type Limiter struct {
	cfg  Config
	now  Clock
	http *pool
	ws   *pool
}

// NewLimiter validates cfg and returns a ready Limiter.
func NewLimiter(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.now == nil {
		l.now = time.Now
	}

	l.http = newPool(cfg.HTTPBurstLimit, cfg.HTTPRequestsPerMinute, l.now)
	l.ws = newPool(cfg.WSBurstLimit, cfg.WSMessagesPerMinute, l.now)
	return l, nil
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Enabled reports whether checks are enforced.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled
}

// CheckHTTP consumes one token from the HTTP bucket for clientIP. When the
// request is denied, retryAfter is the time until a token is available.
func (l *Limiter) CheckHTTP(clientIP string) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled {
		return true, 0
	}
	return l.http.check(clientIP)
}

// CheckWS consumes one token from the WebSocket bucket for sessionID.
func (l *Limiter) CheckWS(sessionID string) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled {
		return true, 0
	}
	return l.ws.check(sessionID)
}

// Reset forgets key in both pools so its next check starts with a full bucket.
func (l *Limiter) Reset(key string) {
	l.http.remove(key)
	l.ws.remove(key)
}

// ResetAll forgets every key in both pools.
func (l *Limiter) ResetAll() {
	l.http.clear()
	l.ws.clear()
}

// Len returns the number of tracked keys in the given pool.
func (l *Limiter) Len(p Pool) int {
	switch p {
	case PoolHTTP:
		return l.http.len()
	case PoolWS:
		return l.ws.len()
	default:
		return 0
	}
}

// pool is a key to bucket map split across shards so that checks for
// unrelated keys do not serialize on one mutex.
type pool struct {
	capacity  int
	perSecond float64
	now       Clock
	shards    [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func newPool(capacity, perMinute int, now Clock) *pool {
	p := &pool{
		capacity:  capacity,
		perSecond: float64(perMinute) / 60.0,
		now:       now,
	}
	for i := range p.shards {
		p.shards[i].buckets = make(map[string]*TokenBucket)
	}
	return p
}

func (p *pool) shardFor(key string) *shard {
	return &p.shards[xxhash.Sum64String(key)%shardCount]
}

// bucket returns the bucket for key, creating it under the shard lock so that
// concurrent first requests share a single bucket.
func (p *pool) bucket(key string) *TokenBucket {
	s := p.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = newTokenBucket(p.capacity, p.perSecond, p.now)
		s.buckets[key] = b
	}
	return b
}

func (p *pool) check(key string) (bool, time.Duration) {
	b := p.bucket(key)
	if b.Consume(1) {
		return true, 0
	}
	return false, b.TimeUntilAvailable(1)
}

func (p *pool) remove(key string) {
	s := p.shardFor(key)
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
}

func (p *pool) clear() {
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		s.buckets = make(map[string]*TokenBucket)
		s.mu.Unlock()
	}
}

func (p *pool) len() int {
	n := 0
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}
