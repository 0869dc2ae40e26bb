package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// ErrTickLimit is returned by RunUntilSettled when the simulation is still warm after maxTicks.
var ErrTickLimit = errors.New("tick limit reached before settling")

// RunUntilSettled steps s back to back until it settles, ctx is done, or
// maxTicks ticks have run. An empty graph returns after one tick. dt is the
// simulated frame time. It returns the number of ticks run.
func RunUntilSettled(ctx context.Context, s Stepper, maxTicks int, dt time.Duration) (int, error) {
	ticks := 0
	for s.State() != models.SimSettled {
		if maxTicks > 0 && ticks >= maxTicks {
			return ticks, ErrTickLimit
		}
		if err := ctx.Err(); err != nil {
			return ticks, err
		}
		t := s.Tick(dt)
		ticks++
		if t.To == models.SimIdle {
			break
		}
	}
	return ticks, nil
}
