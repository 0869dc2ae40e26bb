package layout

import (
	"time"

	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// Transition describes the outcome of one call to Tick.
type Transition struct {
	Tick            int64
	From            models.SimState
	To              models.SimState
	Alpha           float64
	MaxDisplacement float64
	Stepped         bool // false when the tick was skipped (idle or settled)
}

// Changed reports whether the state machine moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Settled reports whether this tick brought the simulation to rest.
func (t Transition) Settled() bool {
	return t.Changed() && t.To == models.SimSettled
}

// Stats is a point-in-time summary of the simulator.
type Stats struct {
	State           models.SimState `json:"state"`
	Alpha           float64         `json:"alpha"`
	AlphaTarget     float64         `json:"alpha_target"`
	Ticks           int64           `json:"ticks"`
	Nodes           int             `json:"nodes"`
	Springs         int             `json:"springs"`
	BarnesHut       bool            `json:"barnes_hut"`
	MaxDisplacement float64         `json:"max_displacement"`
	Elapsed         time.Duration   `json:"elapsed"` // simulated time
}
