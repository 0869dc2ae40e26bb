package explorerd

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("gesture rate limit exceeded")

// gestureLimiter keeps one token bucket per session. A nil limiter or a
// zero rate allows everything.
type gestureLimiter struct {
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	mu      sync.RWMutex
}

func newGestureLimiter(perSecond float64, burst int) *gestureLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &gestureLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (g *gestureLimiter) Allow(sessionID string) bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	bucket, ok := g.buckets[sessionID]
	g.mu.RUnlock()

	if !ok {
		g.mu.Lock()
		if bucket, ok = g.buckets[sessionID]; !ok {
			bucket = rate.NewLimiter(g.limit, g.burst)
			g.buckets[sessionID] = bucket
		}
		g.mu.Unlock()
	}
	return bucket.Allow()
}

func (g *gestureLimiter) Forget(sessionID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.buckets, sessionID)
	g.mu.Unlock()
}

func (g *gestureLimiter) Reset() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.buckets = make(map[string]*rate.Limiter)
	g.mu.Unlock()
}
