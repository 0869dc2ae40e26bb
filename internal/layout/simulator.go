package layout

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/graph"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

// Simulator is a force-directed layout over a graph.Store. It subscribes to
// the store on construction, so it is reheated before any other listener runs
// if it is created first.
type Simulator struct {
	mu     sync.Mutex
	store  *graph.Store
	cfg    config.LayoutConfig
	center r2.Vec
	rng    *utils.RandSource
	clock  *utils.SimTime
	logger *slog.Logger

	state       models.SimState
	alpha       float64
	alphaTarget float64
	ticks       int64
	lastMaxDisp float64
	barnesHut   bool
	dirty       bool
	onSettled   func()

	// topology, rebuilt when dirty
	index   map[string]int
	ids     []string
	radius  []float64
	springs []spring

	// per-tick buffers, indexed like ids
	pos       []r2.Vec
	vel       []r2.Vec
	force     []r2.Vec
	prev      []r2.Vec
	pins      []r2.Vec
	pinned    []bool
	maxRadius float64

	particles      []particle
	particleIfaces []barneshut.Particle2
}

// New creates a simulator for store and subscribes it to store changes.
// center is the viewport center toward which nodes are pulled.
func New(store *graph.Store, cfg config.LayoutConfig, center models.Vec) *Simulator {
	s := &Simulator{
		store:  store,
		cfg:    cfg,
		center: center,
		rng:    utils.NewRandSource(cfg.Seed),
		clock:  utils.NewSimTime(time.Time{}),
		logger: logger.Component("layout"),
		state:  models.SimIdle,
		dirty:  true,
		index:  make(map[string]int),
	}
	store.Subscribe(s)
	return s
}

// SetLogger replaces the simulator's logger.
func (s *Simulator) SetLogger(l *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

// OnSettled registers fn to be called once per transition into Settled.
func (s *Simulator) OnSettled(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettled = fn
}

// GraphChanged implements graph.Listener. A replace restarts the simulation
// at full temperature; a merge that added something reheats it.
func (s *Simulator) GraphChanged(c graph.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	switch c.Op {
	case graph.OpReplace:
		s.alpha = 0
		s.reheat(1, metrics.CauseReplace)
	case graph.OpMerge:
		if c.Grew() {
			s.reheat(s.cfg.ReheatAlpha, metrics.CauseMerge)
		}
	}
}

// Reheat raises α to at least alpha and wakes a settled simulation.
func (s *Simulator) Reheat(alpha float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reheat(alpha, metrics.CauseManual)
}

func (s *Simulator) reheat(alpha float64, cause string) {
	alpha = utils.ClampFloat64(alpha, 0, 1)
	if alpha > s.alpha {
		s.alpha = alpha
	}
	if s.state == models.SimSettled || s.state == models.SimIdle {
		s.state = s.warmth()
	}
	metrics.RecordReheat(cause)
}

// SetAlphaTarget sets the temperature α decays toward. A drag holds it above
// zero so the graph keeps responding; release returns it to zero.
func (s *Simulator) SetAlphaTarget(target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alphaTarget = utils.ClampFloat64(target, 0, 1)
	if s.alphaTarget > 0 {
		s.reheat(s.alphaTarget, metrics.CauseDrag)
	}
}

// State returns the current lifecycle state.
func (s *Simulator) State() models.SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alpha returns the current temperature.
func (s *Simulator) Alpha() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alpha
}

// Stats returns a summary of the simulator.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:           s.state,
		Alpha:           s.alpha,
		AlphaTarget:     s.alphaTarget,
		Ticks:           s.ticks,
		Nodes:           len(s.ids),
		Springs:         len(s.springs),
		BarnesHut:       s.barnesHut,
		MaxDisplacement: s.lastMaxDisp,
		Elapsed:         s.clock.Elapsed(),
	}
}

// Tick advances the simulation by one step. dt only advances the simulated
// clock; the integration step is fixed. Idle and Settled simulations are not
// stepped.
func (s *Simulator) Tick(dt time.Duration) Transition {
	start := time.Now()
	s.mu.Lock()
	s.clock.Advance(dt)
	from := s.state

	if s.dirty {
		s.rebuild()
	}
	if len(s.ids) == 0 {
		s.state = models.SimIdle
		s.alpha = 0
		t := Transition{Tick: s.ticks, From: from, To: s.state}
		s.mu.Unlock()
		return t
	}
	if s.state == models.SimSettled {
		t := Transition{Tick: s.ticks, From: from, To: from, Alpha: s.alpha}
		s.mu.Unlock()
		return t
	}
	if s.state == models.SimIdle {
		s.alpha = math.Max(s.alpha, 1)
		s.state = models.SimRunning
	}

	s.load()
	s.ticks++
	if len(s.ids) == 1 {
		s.stepSingle()
	} else {
		s.step()
	}
	s.store.UpdateBodies(func(id string, b *graph.Body) {
		if i, ok := s.index[id]; ok {
			b.Pos, b.Vel = s.pos[i], s.vel[i]
		}
	})

	t := Transition{
		Tick:            s.ticks,
		From:            from,
		To:              s.state,
		Alpha:           s.alpha,
		MaxDisplacement: s.lastMaxDisp,
		Stepped:         true,
	}
	var settled func()
	if t.Settled() {
		settled = s.onSettled
		s.logger.Debug("layout settled", "tick", s.ticks, "nodes", len(s.ids), "elapsed", s.clock.Elapsed())
		metrics.RecordSettle()
	}
	s.mu.Unlock()

	metrics.RecordTick(time.Since(start))
	if settled != nil {
		settled()
	}
	return t
}

// stepSingle handles a lone node: it rests at its pin or at the center.
func (s *Simulator) stepSingle() {
	before := s.pos[0]
	if s.pinned[0] {
		s.pos[0] = s.pins[0]
	} else {
		s.pos[0] = s.center
	}
	s.vel[0] = r2.Vec{}
	s.lastMaxDisp = r2.Norm(r2.Sub(s.pos[0], before))
	s.alpha = 0
	s.state = models.SimSettled
}

func (s *Simulator) step() {
	n := len(s.pos)
	for i := range s.force {
		s.force[i] = r2.Vec{}
	}
	copy(s.prev, s.pos)

	s.repel(s.cfg.Charge * s.alpha)
	s.pull(s.alpha)
	s.gravitate(s.alpha)

	for i := 0; i < n; i++ {
		if s.pinned[i] {
			s.pos[i] = s.pins[i]
			s.vel[i] = r2.Vec{}
			continue
		}
		s.vel[i] = r2.Scale(s.cfg.Damping, r2.Add(s.vel[i], s.force[i]))
		s.pos[i] = r2.Add(s.pos[i], s.vel[i])
	}
	s.collide()

	maxDisp := 0.0
	for i := 0; i < n; i++ {
		if s.pinned[i] {
			continue
		}
		if !models.Finite(s.pos[i]) || !models.Finite(s.vel[i]) {
			// keep the last finite state
			s.logger.Error("non-finite position, resetting node", "node", s.ids[i])
			s.pos[i], s.vel[i] = s.prev[i], r2.Vec{}
		}
		if d := r2.Norm(r2.Sub(s.pos[i], s.prev[i])); d > maxDisp {
			maxDisp = d
		}
	}
	s.lastMaxDisp = maxDisp

	s.alpha += (s.alphaTarget - s.alpha) * (1 - s.cfg.CoolingRate)
	if s.alpha < s.cfg.StopThreshold && maxDisp < s.cfg.DisplacementEpsilon {
		s.state = models.SimSettled
		return
	}
	s.state = s.warmth()
}

func (s *Simulator) warmth() models.SimState {
	if s.alpha >= s.cfg.WarmThreshold {
		return models.SimRunning
	}
	return models.SimCooling
}

// rebuild re-reads topology from the store. Caller holds s.mu.
func (s *Simulator) rebuild() {
	s.ids = s.ids[:0]
	s.radius = s.radius[:0]
	s.index = make(map[string]int, len(s.index))
	degree := make([]int, 0, cap(s.radius))
	s.maxRadius = 0
	s.store.EachNode(func(st graph.NodeState) bool {
		s.index[st.Node.ID] = len(s.ids)
		s.ids = append(s.ids, st.Node.ID)
		r := s.radiusOf(st.Node.Kind)
		s.radius = append(s.radius, r)
		if r > s.maxRadius {
			s.maxRadius = r
		}
		degree = append(degree, st.Degree)
		return true
	})

	s.springs = s.springs[:0]
	for _, l := range s.store.Links() {
		si, okS := s.index[l.Source]
		ti, okT := s.index[l.Target]
		if !okS || !okT || si == ti {
			continue
		}
		ds, dt := float64(degree[si]), float64(degree[ti])
		s.springs = append(s.springs, spring{
			source:   si,
			target:   ti,
			strength: s.cfg.LinkStiffness / math.Min(ds, dt),
			bias:     ds / (ds + dt),
		})
	}

	n := len(s.ids)
	s.pos = resize(s.pos, n)
	s.vel = resize(s.vel, n)
	s.force = resize(s.force, n)
	s.prev = resize(s.prev, n)
	s.pins = resize(s.pins, n)
	if cap(s.pinned) < n {
		s.pinned = make([]bool, n)
	}
	s.pinned = s.pinned[:n]
	s.dirty = false
}

// load copies bodies and pins out of the store. Caller holds s.mu.
func (s *Simulator) load() {
	s.store.EachNode(func(st graph.NodeState) bool {
		i, ok := s.index[st.Node.ID]
		if !ok {
			return true
		}
		s.pos[i], s.vel[i] = st.Body.Pos, st.Body.Vel
		s.pinned[i] = st.Pin != nil
		if st.Pin != nil {
			s.pins[i] = *st.Pin
			s.pos[i] = *st.Pin
		}
		return true
	})
}

func (s *Simulator) radiusOf(k models.Kind) float64 {
	if k == models.KindCase {
		return s.cfg.CaseRadius + s.cfg.CollisionPadding
	}
	return s.cfg.NodeRadius + s.cfg.CollisionPadding
}

func resize(v []r2.Vec, n int) []r2.Vec {
	if cap(v) < n {
		return make([]r2.Vec, n)
	}
	return v[:n]
}

// Run ticks until the simulation settles or maxTicks is reached and returns
// the number of ticks executed. It is meant for headless use.
func (s *Simulator) Run(maxTicks int, dt time.Duration) int {
	for i := 0; i < maxTicks; i++ {
		t := s.Tick(dt)
		if !t.Stepped {
			return i
		}
		if t.To == models.SimSettled {
			return i + 1
		}
	}
	return maxTicks
}
