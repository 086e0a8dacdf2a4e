package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a token bucket: capacity tokens, refilled continuously so a
// full bucket is restored every interval.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	return newRateLimiterAt(capacity, interval, time.Now)
}

func newRateLimiterAt(capacity int, interval time.Duration, now func() time.Time) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now(),
		now:       now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastCheck).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.capacity)
	}
	rl.lastCheck = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// idle reports whether the bucket has been untouched for at least d.
func (rl *rateLimiter) idle(d time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.now().Sub(rl.lastCheck) >= d
}

// clientLimiters keeps one bucket per client address for the HTTP post
// endpoint. Buckets idle for longer than a few refill intervals are swept.
type clientLimiters struct {
	mu       sync.Mutex
	buckets  map[string]*rateLimiter
	burst    int
	interval time.Duration
	now      func() time.Time
	lastGC   time.Time
}

func newClientLimiters(burst int, interval time.Duration) *clientLimiters {
	if interval <= 0 {
		interval = time.Second
	}
	return &clientLimiters{
		buckets:  make(map[string]*rateLimiter),
		burst:    burst,
		interval: interval,
		now:      time.Now,
		lastGC:   time.Now(),
	}
}

func (c *clientLimiters) allow(key string) bool {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastGC) > 10*c.interval {
		for k, b := range c.buckets {
			if b.idle(10 * c.interval) {
				delete(c.buckets, k)
			}
		}
		c.lastGC = now
	}
	bucket, ok := c.buckets[key]
	if !ok {
		bucket = newRateLimiterAt(c.burst, c.interval, c.now)
		c.buckets[key] = bucket
	}
	c.mu.Unlock()

	return bucket.allow()
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// clientKey is the remote host without its port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
