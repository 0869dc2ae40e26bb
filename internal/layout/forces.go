package layout

import (
	"math"

	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r2"
)

// particle adapts a node to barneshut.Particle2. All nodes have unit mass.
type particle struct {
	pos r2.Vec
}

func (p *particle) Coord2() r2.Vec { return p.pos }
func (p *particle) Mass() float64 { return 1 }

type spring struct {
	source, target int
	strength       float64 // stiffness / min(deg(source), deg(target))
	bias           float64 // share of the correction taken by target
}

// repel accumulates many-body forces into s.force. k is charge*alpha.
func (s *Simulator) repel(k float64) {
	n := len(s.pos)
	floor := s.cfg.MinDistance * s.cfg.MinDistance
	s.barnesHut = false

	if s.cfg.BarnesHutThreshold > 0 && n > s.cfg.BarnesHutThreshold {
		if s.repelBarnesHut(k, floor) {
			s.barnesHut = true
			return
		}
		s.logger.Debug("barnes-hut plane rejected, using exact repulsion", "nodes", n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := r2.Sub(s.pos[j], s.pos[i])
			d2 := r2.Norm2(d)
			if d2 == 0 {
				d = r2.Vec{X: s.rng.Nudge(), Y: s.rng.Nudge()}
				d2 = r2.Norm2(d)
			}
			w := k / math.Max(d2, floor)
			f := r2.Scale(w, d)
			s.force[i] = r2.Add(s.force[i], f)
			s.force[j] = r2.Sub(s.force[j], f)
		}
	}
}

// repelBarnesHut approximates repulsion with a quadtree. It reports false when
// the plane cannot be built, typically because several nodes coincide.
func (s *Simulator) repelBarnesHut(k, floor float64) bool {
	if cap(s.particles) < len(s.pos) {
		s.particles = make([]particle, len(s.pos))
		s.particleIfaces = make([]barneshut.Particle2, len(s.pos))
	}
	s.particles = s.particles[:len(s.pos)]
	s.particleIfaces = s.particleIfaces[:len(s.pos)]
	for i := range s.pos {
		s.particles[i].pos = s.pos[i]
		s.particleIfaces[i] = &s.particles[i]
	}
	plane, err := barneshut.NewPlane(s.particleIfaces)
	if err != nil {
		return false
	}

	force := func(p1, p2 barneshut.Particle2, _, m2 float64, v r2.Vec) r2.Vec {
		if p2 == p1 {
			return r2.Vec{}
		}
		d2 := r2.Norm2(v)
		if d2 == 0 {
			return r2.Vec{}
		}
		return r2.Scale(k*m2/math.Max(d2, floor), v)
	}
	for i := range s.particleIfaces {
		s.force[i] = r2.Add(s.force[i], plane.ForceOn(s.particleIfaces[i], s.cfg.Theta, force))
	}
	return true
}

// pull applies link springs toward the rest distance, scaled by alpha.
func (s *Simulator) pull(alpha float64) {
	rest := s.cfg.LinkDistance
	for _, sp := range s.springs {
		d := r2.Sub(s.pos[sp.target], s.pos[sp.source])
		l := r2.Norm(d)
		if l == 0 {
			d = r2.Vec{X: s.rng.Nudge(), Y: s.rng.Nudge()}
			l = r2.Norm(d)
		}
		f := r2.Scale((l-rest)/l*alpha*sp.strength, d)
		s.force[sp.target] = r2.Sub(s.force[sp.target], r2.Scale(sp.bias, f))
		s.force[sp.source] = r2.Add(s.force[sp.source], r2.Scale(1-sp.bias, f))
	}
}

// gravitate pulls every node weakly toward the viewport center.
func (s *Simulator) gravitate(alpha float64) {
	w := s.cfg.CenterStrength * alpha
	if w == 0 {
		return
	}
	for i := range s.pos {
		s.force[i] = r2.Add(s.force[i], r2.Scale(w, r2.Sub(s.center, s.pos[i])))
	}
}

type cell struct{ x, y int }

// collide pushes overlapping nodes apart along their axis. Pinned nodes never
// move; when one side is pinned the other takes the whole correction.
func (s *Simulator) collide() {
	n := len(s.pos)
	if n < 2 {
		return
	}
	size := 2 * s.maxRadius
	if size <= 0 {
		return
	}
	grid := make(map[cell][]int, n)
	for i, p := range s.pos {
		c := cell{int(math.Floor(p.X / size)), int(math.Floor(p.Y / size))}
		grid[c] = append(grid[c], i)
	}

	for i := 0; i < n; i++ {
		ci := cell{int(math.Floor(s.pos[i].X / size)), int(math.Floor(s.pos[i].Y / size))}
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, j := range grid[cell{ci.x + dx, ci.y + dy}] {
					if j <= i {
						continue
					}
					s.separate(i, j)
				}
			}
		}
	}
}

func (s *Simulator) separate(i, j int) {
	if s.pinned[i] && s.pinned[j] {
		return
	}
	minDist := s.radius[i] + s.radius[j]
	d := r2.Sub(s.pos[j], s.pos[i])
	l := r2.Norm(d)
	if l >= minDist {
		return
	}
	if l == 0 {
		d = r2.Vec{X: s.rng.Nudge(), Y: s.rng.Nudge()}
		l = r2.Norm(d)
	}
	push := r2.Scale((minDist-l)/l, d)
	switch {
	case s.pinned[i]:
		s.pos[j] = r2.Add(s.pos[j], push)
	case s.pinned[j]:
		s.pos[i] = r2.Sub(s.pos[i], push)
	default:
		half := r2.Scale(0.5, push)
		s.pos[i] = r2.Sub(s.pos[i], half)
		s.pos[j] = r2.Add(s.pos[j], half)
	}
}
