package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/layout"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

// ErrAlreadyStarted is returned by Start on a loop that has been started before.
var ErrAlreadyStarted = errors.New("loop already started")

// idlePoll bounds how long a parked loop waits for a Wake that may have been missed.
const idlePoll = 250 * time.Millisecond

// Stepper is a simulation the loop can drive frame by frame.
type Stepper interface {
	Tick(dt time.Duration) layout.Transition
	State() models.SimState
}

// LoopState is the lifecycle state of a Loop.
type LoopState string

const (
	LoopPending LoopState = "pending"
	LoopRunning LoopState = "running"
	LoopParked  LoopState = "parked" // simulation idle or settled, waiting for a wake
	LoopStopped LoopState = "stopped"
)

// LoopStatus is a snapshot of a Loop.
type LoopStatus struct {
	State     LoopState     `json:"state"`
	Frames    int64         `json:"frames"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	StoppedAt time.Time     `json:"stopped_at,omitempty"`
}

// Loop ticks a Stepper at a fixed frame rate while the simulation is warm and
// parks while it is idle or settled.
type Loop struct {
	stepper  Stepper
	interval time.Duration
	logger   *slog.Logger
	onFrame  func(layout.Transition)

	mu     sync.Mutex
	status LoopStatus
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// NewLoop creates a loop that drives stepper at fps frames per second.
// A non-positive fps means 60.
func NewLoop(stepper Stepper, fps int) *Loop {
	if fps <= 0 {
		fps = 60
	}
	interval := utils.FrameInterval(fps)
	return &Loop{
		stepper:  stepper,
		interval: interval,
		logger:   logger.Component("engine"),
		status:   LoopStatus{State: LoopPending, Interval: interval},
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetLogger sets the loop's logger. Call before Start.
func (l *Loop) SetLogger(lg *slog.Logger) {
	l.logger = lg
}

// OnFrame registers fn to be called after every stepped frame. Call before Start.
func (l *Loop) OnFrame(fn func(layout.Transition)) {
	l.onFrame = fn
}

// Start runs the loop in a goroutine until ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.State != LoopPending {
		return ErrAlreadyStarted
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.status.State = LoopParked
	l.status.StartedAt = time.Now()
	go l.run(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a loop that was
// never started just marks it stopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	if cancel == nil {
		l.status.State = LoopStopped
		l.status.StoppedAt = time.Now()
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	cancel()
	<-l.done
}

// Wake resumes a parked loop. It never blocks.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when a started loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Status returns a copy of the loop status.
func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) setState(s LoopState) {
	l.mu.Lock()
	l.status.State = s
	l.mu.Unlock()
}

func (l *Loop) run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.status.State = LoopStopped
		l.status.StoppedAt = time.Now()
		l.mu.Unlock()
		close(l.done)
	}()

	l.logger.Debug("frame loop started", "interval", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	last := time.Now()

	for {
		if st := l.stepper.State(); st == models.SimSettled || st == models.SimIdle {
			l.setState(LoopParked)
			idle := time.NewTimer(idlePoll)
			select {
			case <-ctx.Done():
				idle.Stop()
				l.logger.Debug("frame loop stopped")
				return
			case <-l.wake:
			case <-idle.C:
			}
			idle.Stop()
			last = time.Now()
			continue
		}

		l.setState(LoopRunning)
		select {
		case <-ctx.Done():
			l.logger.Debug("frame loop stopped")
			return
		case now := <-ticker.C:
			t := l.stepper.Tick(now.Sub(last))
			last = now
			l.mu.Lock()
			l.status.Frames++
			l.mu.Unlock()
			if l.onFrame != nil {
				l.onFrame(t)
			}
			if t.Settled() {
				l.logger.Debug("layout settled, parking", "tick", t.Tick)
			}
		}
	}
}
