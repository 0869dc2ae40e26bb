package models

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// Vec is a point or displacement in the 2D layout plane.
type Vec = r2.Vec

// Kind classifies a node. The set is closed.
type Kind string

const (
	KindCase         Kind = "Case"
	KindOrganization Kind = "Organization"
	KindAISystem     Kind = "AISystem"
	KindLegalTheory  Kind = "LegalTheory"
	KindCourt        Kind = "Court"
)

// Kinds lists every valid node kind.
var Kinds = []Kind{KindCase, KindOrganization, KindAISystem, KindLegalTheory, KindCourt}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, known := range Kinds {
		if strings.EqualFold(string(known), strings.TrimSpace(s)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

// Node is a graph vertex as delivered by a fetch. Payload is opaque to the engine.
type Node struct {
	ID      string `json:"id" yaml:"id"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Label   string `json:"label" yaml:"label"`
	Payload any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Link is a directed, labeled relationship between two node ids.
type Link struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Label  string `json:"label" yaml:"label"`
}

// LinkKey identifies a link for deduplication.
type LinkKey struct {
	Source string
	Target string
	Label  string
}

// Key returns the (source, target, label) identity of the link.
func (l Link) Key() LinkKey {
	return LinkKey{Source: l.Source, Target: l.Target, Label: l.Label}
}

// SelfLoop reports whether both endpoints are the same node.
func (l Link) SelfLoop() bool {
	return l.Source == l.Target
}

// Neighborhood is the result of a root or neighborhood fetch.
type Neighborhood struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Links []Link `json:"links" yaml:"links"`
}

// Root returns the first node of the batch, which callers treat as the anchor of a root set.
func (n Neighborhood) Root() (Node, bool) {
	if len(n.Nodes) == 0 {
		return Node{}, false
	}
	return n.Nodes[0], true
}

// SimState is the layout simulator lifecycle state.
type SimState string

const (
	SimIdle    SimState = "idle"
	SimRunning SimState = "running"
	SimCooling SimState = "cooling"
	SimSettled SimState = "settled"
)

// NodeView is a node as handed to the presentation layer.
type NodeView struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Label   string  `json:"label"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Pinned  bool    `json:"pinned"`
	Degree  int     `json:"degree"`
	Payload any     `json:"payload,omitempty"`
}

// LinkView is a link with resolved endpoint coordinates.
type LinkView struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
}

// Viewport is the pan/zoom transform: screen = world*Zoom + (PanX, PanY).
type Viewport struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"pan_x"`
	PanY float64 `json:"pan_y"`
}

// IdentityViewport is the untransformed view.
var IdentityViewport = Viewport{Zoom: 1}

// Finite reports whether every component is a finite number.
func (v Viewport) Finite() bool {
	return finite(v.Zoom) && finite(v.PanX) && finite(v.PanY)
}

// ToScreen maps a world coordinate to screen space.
func (v Viewport) ToScreen(p Vec) Vec {
	return Vec{X: p.X*v.Zoom + v.PanX, Y: p.Y*v.Zoom + v.PanY}
}

// ToWorld maps a screen coordinate back to world space. Zoom must be non-zero.
func (v Viewport) ToWorld(p Vec) Vec {
	return Vec{X: (p.X - v.PanX) / v.Zoom, Y: (p.Y - v.PanY) / v.Zoom}
}

// GestureFailure describes the most recent gesture that failed to load.
type GestureFailure struct {
	Token   uint64 `json:"token"`
	Gesture string `json:"gesture"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Snapshot is a consistent read of everything the presentation layer renders.
type Snapshot struct {
	Generation   uint64          `json:"generation"`
	State        SimState        `json:"state"`
	Alpha        float64         `json:"alpha"`
	Tick         int64           `json:"tick"`
	Nodes        []NodeView      `json:"nodes"`
	Links        []LinkView      `json:"links"`
	Selected     string          `json:"selected,omitempty"`
	Viewport     Viewport        `json:"viewport"`
	Loading      bool            `json:"loading"`
	LoadingToken uint64          `json:"loading_token,omitempty"`
	Error        *GestureFailure `json:"error,omitempty"`
}

// Node returns the view of the node with the given id.
func (s Snapshot) Node(id string) (NodeView, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeView{}, false
}

// Finite reports whether v has no NaN or infinite component.
func Finite(v Vec) bool {
	return finite(v.X) && finite(v.Y)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
