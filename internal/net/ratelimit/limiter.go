// Package ratelimit throttles API clients with one token bucket per client.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a client may stay silent before Sweep forgets it.
const DefaultIdleTTL = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// Limiter keeps a token bucket per client key.
type Limiter struct {
	mu      sync.RWMutex
	clients map[string]*client
	rps     float64
	burst   int
	now     func() time.Time
}

// NewLimiter creates a limiter allowing rps requests per second per client
// with the given burst. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		clients: make(map[string]*client),
		rps:     rps,
		burst:   burst,
		now:     time.Now,
	}
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	now := l.now().UnixNano()
	l.mu.RLock()
	c, exists := l.clients[key]
	l.mu.RUnlock()
	if exists {
		c.lastSeen.Store(now)
		return c.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, exists := l.clients[key]; exists {
		c.lastSeen.Store(now)
		return c.limiter
	}
	c = &client{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
	c.lastSeen.Store(now)
	l.clients[key] = c
	return c.limiter
}

// Enabled reports whether requests are limited at all.
func (l *Limiter) Enabled() bool { return l.rps > 0 }

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	if !l.Enabled() {
		return true
	}
	return l.getLimiter(client).Allow()
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// Reset forgets every client.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string]*client)
}

// Sweep forgets clients not seen for longer than idle and returns how many
// were removed. A forgotten client starts again with a full bucket.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Load() < cutoff {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}

// Middleware rejects over-limit requests with 429, keyed by remote IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			http.Error(w, `{"error":"Too Many Requests","code":"rate_limited"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) retryAfter() int {
	if l.rps >= 1 {
		return 1
	}
	return int(1/l.rps + 0.5)
}

// ClientKey identifies the caller by remote IP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
