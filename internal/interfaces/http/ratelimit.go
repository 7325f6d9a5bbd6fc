package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter applies a token-bucket limit per remote client. The
// bucket allows max requests per window with burst capacity equal to
// the window size, which matches a fixed-window quota closely enough
// for abuse control.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	limit  rate.Limit
	burst  int
	window time.Duration

	now func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter allows maxRequests per window for each client key.
func NewClientLimiter(maxRequests int, window time.Duration) *ClientLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ClientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether client may proceed, consuming one token when
// it can.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= 10000 {
			l.evictIdle(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Window reports the configured window, for Retry-After hints.
func (l *ClientLimiter) Window() time.Duration {
	return l.window
}

// Clients reports how many client buckets are live.
func (l *ClientLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// evictIdle drops buckets idle for three windows. Called with the lock
// held, only when the map has grown suspiciously large.
func (l *ClientLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-3 * l.window)
	for key, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}
