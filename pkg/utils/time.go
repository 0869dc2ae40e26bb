package utils

import (
	"sync"
	"time"
)

// SimTime is a simulated clock advanced explicitly by the caller.
type SimTime struct {
	mu      sync.RWMutex
	start   time.Time
	current time.Time
}

// NewSimTime creates a new simulation time starting at the given time
func NewSimTime(start time.Time) *SimTime {
	return &SimTime{start: start, current: start}
}

// Now returns the current simulation time
func (st *SimTime) Now() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Advance advances the simulation time by the given duration. Negative durations are ignored.
func (st *SimTime) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = st.current.Add(d)
}

// Elapsed returns the simulated time since the clock was created or last reset.
func (st *SimTime) Elapsed() time.Duration {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current.Sub(st.start)
}

// Reset moves both the origin and the current time to t.
func (st *SimTime) Reset(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.start = t
	st.current = t
}

// FrameInterval returns the period of a frame loop running at fps frames per second.
func FrameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}
