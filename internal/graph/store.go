package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/btree"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

var (
	// ErrNoSuchAnchor is returned by MergeNeighborhood when the anchor is not in the graph.
	ErrNoSuchAnchor = errors.New("anchor not in graph")
	// ErrNoSuchNode is returned by pin operations on unknown ids.
	ErrNoSuchNode = errors.New("node not in graph")
)

// Body is the kinematic state of a node.
type Body struct {
	Pos models.Vec
	Vel models.Vec
}

// NodeState is a read-only copy of one node as stored.
type NodeState struct {
	Node   models.Node
	Body   Body
	Pin    *models.Vec
	Degree int
}

// Options configures a Store.
type Options struct {
	Center models.Vec // viewport center; replace seeds new nodes around it
	Jitter float64    // radius of the random offset given to new nodes
	Seed   int64      // seeds the jitter source; zero means time-based
	Logger *slog.Logger
}

type entry struct {
	node models.Node
	body Body
	pin  *models.Vec
}

// Store owns the displayed nodes and links. Nodes are kept in ascending id
// order so that iteration, and therefore layout, is deterministic.
type Store struct {
	mu        sync.RWMutex
	nodes     btree.Map[string, *entry]
	links     []models.Link
	linkSet   map[models.LinkKey]struct{}
	degree    map[string]int
	listeners []Listener

	center models.Vec
	jitter float64
	rng    *utils.RandSource
	logger *slog.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.Component("graph")
	}
	return &Store{
		linkSet: make(map[models.LinkKey]struct{}),
		degree:  make(map[string]int),
		center:  opts.Center,
		jitter:  opts.Jitter,
		rng:     utils.NewRandSource(opts.Seed),
		logger:  log,
	}
}

// Subscribe registers l. Listeners are notified in registration order, outside the store lock.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Replace discards the current graph and installs nb. The first node of nb is
// the root: it is placed at rootSeed when given, otherwise at the center.
// Every other node is placed within the jitter radius of the center.
// Listeners are always notified, even when nb is empty.
func (s *Store) Replace(nb models.Neighborhood, rootSeed *models.Vec) (Change, error) {
	s.mu.Lock()
	s.nodes.Clear()
	s.links = nil
	s.linkSet = make(map[models.LinkKey]struct{})
	s.degree = make(map[string]int)

	change := Change{Op: OpReplace}
	for i, n := range nb.Nodes {
		if n.ID == "" {
			continue
		}
		if _, exists := s.nodes.Get(n.ID); exists {
			change.DuplicateNodes++
			continue
		}
		var pos models.Vec
		switch {
		case i == 0 && rootSeed != nil:
			pos = *rootSeed
		case i == 0:
			pos = s.center
		default:
			pos = s.near(s.center)
		}
		if i == 0 {
			change.Anchor = n.ID
		}
		s.nodes.Set(n.ID, &entry{node: n, body: Body{Pos: pos}})
		change.AddedNodes = append(change.AddedNodes, n.ID)
	}
	s.addLinks(nb.Links, &change)
	change.Nodes, change.Links = s.nodes.Len(), len(s.links)
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.report(change)
	s.notify(listeners, change)
	return change, nil
}

// MergeNeighborhood adds the genuinely new nodes and links of nb around the
// anchor. Existing nodes keep their body and pin untouched; new nodes start
// within the jitter radius of the anchor. If the anchor is unknown nothing
// changes and ErrNoSuchAnchor is returned. Listeners are notified only when
// something was added.
func (s *Store) MergeNeighborhood(anchor string, nb models.Neighborhood) (Change, error) {
	s.mu.Lock()
	a, ok := s.nodes.Get(anchor)
	if !ok {
		s.mu.Unlock()
		return Change{Op: OpMerge, Anchor: anchor}, fmt.Errorf("merge around %q: %w", anchor, ErrNoSuchAnchor)
	}
	origin := a.body.Pos

	change := Change{Op: OpMerge, Anchor: anchor}
	for _, n := range nb.Nodes {
		if n.ID == "" {
			continue
		}
		if _, exists := s.nodes.Get(n.ID); exists {
			change.DuplicateNodes++
			continue
		}
		s.nodes.Set(n.ID, &entry{node: n, body: Body{Pos: s.near(origin)}})
		change.AddedNodes = append(change.AddedNodes, n.ID)
	}
	s.addLinks(nb.Links, &change)
	change.Nodes, change.Links = s.nodes.Len(), len(s.links)

	var listeners []Listener
	if change.Grew() {
		listeners = s.snapshotListeners()
	}
	s.mu.Unlock()

	s.report(change)
	s.notify(listeners, change)
	return change, nil
}

// addLinks appends links whose endpoints both exist and whose triple is new.
// Caller holds s.mu.
func (s *Store) addLinks(links []models.Link, change *Change) {
	for _, l := range links {
		_, okS := s.nodes.Get(l.Source)
		_, okT := s.nodes.Get(l.Target)
		if !okS || !okT {
			change.DroppedLinks++
			continue
		}
		key := l.Key()
		if _, dup := s.linkSet[key]; dup {
			change.DuplicateLinks++
			continue
		}
		s.linkSet[key] = struct{}{}
		s.links = append(s.links, l)
		s.degree[l.Source]++
		if !l.SelfLoop() {
			s.degree[l.Target]++
		}
		change.AddedLinks++
	}
}

func (s *Store) near(p models.Vec) models.Vec {
	dx, dy := s.rng.Jitter(s.jitter)
	return models.Vec{X: p.X + dx, Y: p.Y + dy}
}

func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Store) notify(listeners []Listener, change Change) {
	for _, l := range listeners {
		l.GraphChanged(change)
	}
}

func (s *Store) report(change Change) {
	if change.DroppedLinks > 0 {
		s.logger.Warn("dropped links with missing endpoints",
			"op", change.Op,
			"anchor", change.Anchor,
			"dropped", change.DroppedLinks)
		metrics.RecordDroppedLinks(change.DroppedLinks)
	}
	s.logger.Debug("graph changed",
		"op", change.Op,
		"anchor", change.Anchor,
		"added_nodes", len(change.AddedNodes),
		"added_links", change.AddedLinks,
		"nodes", change.Nodes,
		"links", change.Links)
}

// SetPin fixes the node at p until ClearPin.
func (s *Store) SetPin(id string, p models.Vec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.nodes.Get(id)
	if !ok {
		return fmt.Errorf("pin %q: %w", id, ErrNoSuchNode)
	}
	pin := p
	e.pin = &pin
	return nil
}

// ClearPin releases a pinned node.
func (s *Store) ClearPin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.nodes.Get(id)
	if !ok {
		return fmt.Errorf("unpin %q: %w", id, ErrNoSuchNode)
	}
	e.pin = nil
	return nil
}

// Pin returns the node's pin, if any.
func (s *Store) Pin(id string) (models.Vec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes.Get(id)
	if !ok || e.pin == nil {
		return models.Vec{}, false
	}
	return *e.pin, true
}

// Has reports whether id is in the graph.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes.Get(id)
	return ok
}

// Node returns the topology of a node.
func (s *Store) Node(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes.Get(id)
	if !ok {
		return models.Node{}, false
	}
	return e.node, true
}

// Body returns the kinematic state of a node.
func (s *Store) Body(id string) (Body, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes.Get(id)
	if !ok {
		return Body{}, false
	}
	return e.body, true
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes.Len()
}

// LinkCount returns the number of links.
func (s *Store) LinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Degree returns the number of links touching id. A self-loop counts once.
func (s *Store) Degree(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degree[id]
}

// Links returns a copy of the links in insertion order.
func (s *Store) Links() []models.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Link, len(s.links))
	copy(out, s.links)
	return out
}

// EachNode calls fn for every node in ascending id order until fn returns false.
// fn must not call back into the store.
func (s *Store) EachNode(fn func(NodeState) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.nodes.Scan(func(id string, e *entry) bool {
		st := NodeState{Node: e.node, Body: e.body, Degree: s.degree[id]}
		if e.pin != nil {
			pin := *e.pin
			st.Pin = &pin
		}
		return fn(st)
	})
}

// UpdateBodies lets the layout simulator write back kinematic state. fn is
// called for every node in ascending id order and may modify the body in place.
// fn must not call back into the store.
func (s *Store) UpdateBodies(fn func(id string, b *Body)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes.Scan(func(id string, e *entry) bool {
		fn(id, &e.body)
		return true
	})
}
