package utils

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RandSource is a thread-safe random number generator
type RandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed picks one from the wall clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// Jitter returns an offset uniformly distributed over the disc of the given radius.
func (r *RandSource) Jitter(radius float64) (dx, dy float64) {
	if radius <= 0 {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rho := radius * math.Sqrt(r.rng.Float64())
	theta := 2 * math.Pi * r.rng.Float64()
	return rho * math.Cos(theta), rho * math.Sin(theta)
}

// Nudge returns a tiny non-zero value in (-1e-6, 1e-6), used to separate coincident points.
func (r *RandSource) Nudge() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := (r.rng.Float64() - 0.5) * 2e-6
	if v == 0 {
		v = 1e-7
	}
	return v
}
