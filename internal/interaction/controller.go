package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/graph"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/layout"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrNotDragging     = errors.New("node is not being dragged")
	ErrInvalidViewport = errors.New("invalid viewport transform")
	ErrInvalidPoint    = errors.New("invalid drag point")
	ErrEmptySelector   = errors.New("empty root selector")
	ErrClosed          = errors.New("controller closed")
)

// Fetcher loads graph data. Implementations must honour ctx cancellation.
type Fetcher interface {
	FetchRootSet(ctx context.Context, selector string) (models.Neighborhood, error)
	FetchNeighborhood(ctx context.Context, entityID string) (models.Neighborhood, error)
}

// Gesture names a data-loading gesture.
type Gesture string

const (
	GestureRoot   Gesture = "root"
	GestureExpand Gesture = "expand"
)

// Callbacks are invoked after the controller lock is released, one at a time
// and in the order the underlying events happened. A callback may call back
// into the controller, except for Wait. Any of them may be nil.
type Callbacks struct {
	OnNodeClick       func(node models.Node)
	OnSelectionChange func(node *models.Node) // nil when the selection is cleared
	OnSettled         func()
	OnGraphReplaced   func(change graph.Change)
	OnGraphChanged    func(change graph.Change)
	OnLoadingChange   func(loading bool, token uint64)
	OnError           func(failure models.GestureFailure)
}

// Options tweaks a Controller beyond what config carries.
type Options struct {
	Policy ClickPolicy
	Logger *slog.Logger
}

// Controller serialises gestures, fetch resolutions and simulation ticks for
// one explored graph.
type Controller struct {
	mu      sync.Mutex
	store   *graph.Store
	sim     *layout.Simulator
	fetcher Fetcher
	policy  ClickPolicy
	icfg    config.InteractionConfig
	lcfg    config.LayoutConfig
	cb      Callbacks
	logger  *slog.Logger

	generation   uint64
	loading      bool
	loadingToken uint64
	failure      *models.GestureFailure
	selected     string
	viewport     models.Viewport
	drags        map[string]struct{}
	closed       bool

	group    singleflight.Group
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	pending []func()

	// outbox holds callbacks queued under mu, awaiting delivery. At most one
	// goroutine delivers at a time.
	deliverMu  sync.Mutex
	delivered  *sync.Cond
	outbox     []func()
	delivering bool
}

// New creates a controller with its own store and simulator.
func New(fetcher Fetcher, cfg *config.Config, cb Callbacks) *Controller {
	return NewWithOptions(fetcher, cfg, cb, Options{})
}

// NewWithOptions is New with an explicit click policy or logger.
func NewWithOptions(fetcher Fetcher, cfg *config.Config, cb Callbacks, opts Options) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Component("interaction")
	}
	policy := opts.Policy
	if policy == nil {
		policy = PolicyFromConfig(cfg.Interaction)
	}

	cx, cy := cfg.Viewport.Center()
	center := models.Vec{X: cx, Y: cy}
	store := graph.NewStore(graph.Options{
		Center: center,
		Jitter: cfg.Layout.InitialJitter,
		Seed:   cfg.Layout.Seed,
		Logger: log.With("component", "graph"),
	})
	sim := layout.New(store, cfg.Layout, center)
	sim.SetLogger(log.With("component", "layout"))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:    store,
		sim:      sim,
		fetcher:  fetcher,
		policy:   policy,
		icfg:     cfg.Interaction,
		lcfg:     cfg.Layout,
		cb:       cb,
		logger:   log,
		viewport: models.IdentityViewport,
		drags:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.delivered = sync.NewCond(&c.deliverMu)
	// Registered after the simulator, so the layout is reheated before the
	// presentation layer hears about the change.
	store.Subscribe(graph.ListenerFunc(c.graphChanged))
	return c
}

// Store returns the graph store driven by this controller.
func (c *Controller) Store() *graph.Store { return c.store }

// Simulator returns the layout simulator driven by this controller.
func (c *Controller) Simulator() *layout.Simulator { return c.sim }

// SelectRoot discards the displayed graph in favour of the root set for
// selector. The returned token identifies the gesture; a later gesture
// supersedes it. seed, when non-nil, is where the root node is placed.
// Selecting the root that is already displayed still triggers a fresh replace.
func (c *Controller) SelectRoot(selector string, seed *models.Vec) (uint64, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return 0, ErrEmptySelector
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	token := c.selectRootLocked(selector, seed)
	c.unlock()
	return token, nil
}

func (c *Controller) selectRootLocked(selector string, seed *models.Vec) uint64 {
	token := c.begin()
	var rootSeed *models.Vec
	if seed != nil {
		p := *seed
		rootSeed = &p
	}
	c.dispatch(token, GestureRoot, selector, rootSeed, func(ctx context.Context) (models.Neighborhood, error) {
		return c.fetcher.FetchRootSet(ctx, selector)
	})
	return token
}

// Expand merges the neighborhood of a displayed node into the graph.
func (c *Controller) Expand(nodeID string) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if !c.store.Has(nodeID) {
		c.mu.Unlock()
		return 0, fmt.Errorf("expand %q: %w", nodeID, ErrUnknownNode)
	}
	token := c.expandLocked(nodeID)
	c.unlock()
	return token, nil
}

func (c *Controller) expandLocked(nodeID string) uint64 {
	token := c.begin()
	c.dispatch(token, GestureExpand, nodeID, nil, func(ctx context.Context) (models.Neighborhood, error) {
		return c.fetcher.FetchNeighborhood(ctx, nodeID)
	})
	return token
}

// Click selects a node and then applies the click policy for its kind. The
// token is zero when the action does not fetch.
func (c *Controller) Click(nodeID string) (Action, uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ActionSelect, 0, ErrClosed
	}
	node, ok := c.store.Node(nodeID)
	if !ok {
		c.mu.Unlock()
		return ActionSelect, 0, fmt.Errorf("click %q: %w", nodeID, ErrUnknownNode)
	}
	c.emitNodeClick(node)
	c.setSelected(nodeID, true)

	action := c.policy.ActionFor(node)
	var token uint64
	switch action {
	case ActionExpand:
		token = c.expandLocked(nodeID)
	case ActionReroot:
		token = c.selectRootLocked(node.Label, nil)
	}
	c.unlock()
	return action, token, nil
}

// Select changes the selection without fetching. An empty id clears it.
func (c *Controller) Select(nodeID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if nodeID != "" && !c.store.Has(nodeID) {
		c.mu.Unlock()
		return fmt.Errorf("select %q: %w", nodeID, ErrUnknownNode)
	}
	c.setSelected(nodeID, false)
	c.unlock()
	return nil
}

// BeginDrag pins a node at its current position and keeps the simulation warm
// while the drag lasts.
func (c *Controller) BeginDrag(nodeID string) error {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	pos, ok := c.positionOf(nodeID)
	if !ok {
		return fmt.Errorf("drag %q: %w", nodeID, ErrUnknownNode)
	}
	if err := c.store.SetPin(nodeID, pos); err != nil {
		return err
	}
	c.drags[nodeID] = struct{}{}
	c.sim.SetAlphaTarget(c.lcfg.ReheatAlpha)
	return nil
}

// UpdateDrag moves the pin of a dragged node to the world position under the
// given screen point. Velocity is left alone.
func (c *Controller) UpdateDrag(nodeID string, screen models.Vec) error {
	if !models.Finite(screen) {
		return ErrInvalidPoint
	}
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.drags[nodeID]; !ok {
		return fmt.Errorf("drag %q: %w", nodeID, ErrNotDragging)
	}
	if err := c.store.SetPin(nodeID, c.viewport.ToWorld(screen)); err != nil {
		return err
	}
	if c.sim.State() == models.SimSettled {
		c.sim.Reheat(c.lcfg.ReheatAlpha)
	}
	return nil
}

// EndDrag releases a drag. The pin is cleared unless the controller is
// configured to stick nodes where they are dropped.
func (c *Controller) EndDrag(nodeID string) error {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.drags[nodeID]; !ok {
		return fmt.Errorf("drag %q: %w", nodeID, ErrNotDragging)
	}
	delete(c.drags, nodeID)
	if !c.icfg.StickOnDrop {
		if err := c.store.ClearPin(nodeID); err != nil && !errors.Is(err, graph.ErrNoSuchNode) {
			return err
		}
	}
	if len(c.drags) == 0 {
		c.sim.SetAlphaTarget(0)
	}
	c.sim.Reheat(c.lcfg.ReheatAlpha)
	return nil
}

// SetViewportTransform replaces the pan/zoom transform and returns the one
// applied after clamping zoom. It never touches the layout.
func (c *Controller) SetViewportTransform(v models.Viewport) (models.Viewport, error) {
	if !v.Finite() || v.Zoom <= 0 {
		return models.Viewport{}, fmt.Errorf("%w: zoom=%v pan=(%v,%v)", ErrInvalidViewport, v.Zoom, v.PanX, v.PanY)
	}
	v.Zoom = utils.ClampFloat64(v.Zoom, c.icfg.MinZoom, c.icfg.MaxZoom)
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
	return v, nil
}

// Tick advances the simulation by one frame.
func (c *Controller) Tick(dt time.Duration) layout.Transition {
	c.mu.Lock()
	t := c.sim.Tick(dt)
	if t.Settled() && c.cb.OnSettled != nil {
		c.pending = append(c.pending, c.cb.OnSettled)
	}
	c.unlock()
	return t
}

// State returns the simulator state.
func (c *Controller) State() models.SimState {
	return c.sim.State()
}

// Generation returns the most recently issued gesture token.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Loading reports whether a gesture is waiting for data, and its token.
func (c *Controller) Loading() (bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading, c.loadingToken
}

// Selected returns the selected node id, or "".
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Viewport returns the current pan/zoom transform.
func (c *Controller) Viewport() models.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// Snapshot returns a consistent view of the graph for rendering. Pinned
// nodes are reported at their pin.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.sim.Stats()
	snap := models.Snapshot{
		Generation:   c.generation,
		State:        stats.State,
		Alpha:        stats.Alpha,
		Tick:         stats.Ticks,
		Selected:     c.selected,
		Viewport:     c.viewport,
		Loading:      c.loading,
		LoadingToken: c.loadingToken,
		Nodes:        make([]models.NodeView, 0, c.store.Len()),
	}
	if c.failure != nil {
		f := *c.failure
		snap.Error = &f
	}

	positions := make(map[string]models.Vec, c.store.Len())
	c.store.EachNode(func(ns graph.NodeState) bool {
		pos := ns.Body.Pos
		if ns.Pin != nil {
			pos = *ns.Pin
		}
		positions[ns.Node.ID] = pos
		snap.Nodes = append(snap.Nodes, models.NodeView{
			ID:      ns.Node.ID,
			Kind:    ns.Node.Kind,
			Label:   ns.Node.Label,
			X:       pos.X,
			Y:       pos.Y,
			Pinned:  ns.Pin != nil,
			Degree:  ns.Degree,
			Payload: ns.Node.Payload,
		})
		return true
	})

	links := c.store.Links()
	snap.Links = make([]models.LinkView, 0, len(links))
	for _, l := range links {
		from, to := positions[l.Source], positions[l.Target]
		snap.Links = append(snap.Links, models.LinkView{
			Source: l.Source,
			Target: l.Target,
			Label:  l.Label,
			X1:     from.X,
			Y1:     from.Y,
			X2:     to.X,
			Y2:     to.Y,
		})
	}
	return snap
}

// Wait blocks until every fetch started so far has been resolved and every
// callback queued so far has returned. It must not be called from a callback.
func (c *Controller) Wait() {
	c.inflight.Wait()
	c.deliverMu.Lock()
	for c.delivering || len(c.outbox) > 0 {
		c.delivered.Wait()
	}
	c.deliverMu.Unlock()
}

// Close cancels in-flight fetches and waits for them to resolve. Their
// results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancel()
	c.mu.Unlock()
	c.inflight.Wait()
}

// begin issues a new generation token and marks it as loading.
func (c *Controller) begin() uint64 {
	c.generation++
	c.failure = nil
	c.setLoading(true, c.generation)
	return c.generation
}

func (c *Controller) dispatch(token uint64, g Gesture, target string, seed *models.Vec, fetch func(context.Context) (models.Neighborhood, error)) {
	key := string(g) + "\x00" + target
	c.inflight.Add(1)
	ch := c.group.DoChan(key, func() (any, error) {
		ctx := c.ctx
		if c.icfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.icfg.FetchTimeout)
			defer cancel()
		}
		return fetch(ctx)
	})
	go func() {
		defer c.inflight.Done()
		res := <-ch
		var nb models.Neighborhood
		if res.Err == nil {
			nb, _ = res.Val.(models.Neighborhood)
		}
		c.resolve(token, g, target, seed, nb, res.Err)
	}()
}

// resolve applies a fetch result if its token is still the active one.
func (c *Controller) resolve(token uint64, g Gesture, target string, seed *models.Vec, nb models.Neighborhood, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return
	}
	if token != c.generation {
		c.logger.Debug("discarding stale response", "gesture", g, "target", target, "token", token, "generation", c.generation)
		metrics.RecordFetch(string(g), metrics.OutcomeStale)
		return
	}
	c.setLoading(false, token)

	if err != nil {
		failure := models.GestureFailure{
			Token:   token,
			Gesture: string(g),
			Target:  target,
			Message: err.Error(),
		}
		c.failure = &failure
		c.logger.Warn("fetch failed", "gesture", g, "target", target, "token", token, "error", err)
		metrics.RecordFetch(string(g), metrics.OutcomeFailed)
		if c.cb.OnError != nil {
			c.pending = append(c.pending, func() { c.cb.OnError(failure) })
		}
		return
	}

	switch g {
	case GestureRoot:
		if _, err := c.store.Replace(nb, seed); err != nil {
			c.logger.Error("replace failed", "target", target, "error", err)
			return
		}
		c.drags = make(map[string]struct{})
		c.sim.SetAlphaTarget(0)
		if c.selected != "" && !c.store.Has(c.selected) {
			c.setSelected("", false)
		}
	case GestureExpand:
		if _, err := c.store.MergeNeighborhood(target, nb); err != nil {
			if errors.Is(err, graph.ErrNoSuchAnchor) {
				c.logger.Warn("expansion anchor no longer displayed", "anchor", target, "token", token)
				metrics.RecordFetch(string(g), metrics.OutcomeUnknownAnchor)
				return
			}
			c.logger.Error("merge failed", "anchor", target, "error", err)
			return
		}
	}
	metrics.RecordFetch(string(g), metrics.OutcomeApplied)
}

// graphChanged runs inside store mutations the controller makes, so the
// controller lock is already held.
func (c *Controller) graphChanged(change graph.Change) {
	switch change.Op {
	case graph.OpReplace:
		if c.cb.OnGraphReplaced != nil {
			c.pending = append(c.pending, func() { c.cb.OnGraphReplaced(change) })
		}
	case graph.OpMerge:
		if c.cb.OnGraphChanged != nil {
			c.pending = append(c.pending, func() { c.cb.OnGraphChanged(change) })
		}
	}
}

func (c *Controller) setLoading(loading bool, token uint64) {
	c.loading = loading
	c.loadingToken = token
	if !loading {
		c.loadingToken = 0
	}
	if c.cb.OnLoadingChange != nil {
		c.pending = append(c.pending, func() { c.cb.OnLoadingChange(loading, token) })
	}
}

// setSelected queues OnSelectionChange when the selection changes, or
// always when force is set.
func (c *Controller) setSelected(id string, force bool) {
	if c.selected == id && !force {
		return
	}
	c.selected = id
	if c.cb.OnSelectionChange == nil {
		return
	}
	var node *models.Node
	if n, ok := c.store.Node(id); ok {
		node = &n
	}
	c.pending = append(c.pending, func() { c.cb.OnSelectionChange(node) })
}

func (c *Controller) emitNodeClick(node models.Node) {
	if c.cb.OnNodeClick != nil {
		c.pending = append(c.pending, func() { c.cb.OnNodeClick(node) })
	}
}

func (c *Controller) positionOf(id string) (models.Vec, bool) {
	if p, ok := c.store.Pin(id); ok {
		return p, true
	}
	b, ok := c.store.Body(id)
	return b.Pos, ok
}

// unlock moves queued callbacks to the outbox while still holding mu, so the
// outbox keeps the order in which events happened, then releases mu and
// delivers.
func (c *Controller) unlock() {
	if len(c.pending) > 0 {
		c.deliverMu.Lock()
		c.outbox = append(c.outbox, c.pending...)
		c.deliverMu.Unlock()
		c.pending = nil
	}
	c.mu.Unlock()
	c.deliver()
}

// deliver drains the outbox in order. If another goroutine is already
// delivering, it returns at once and leaves the callbacks to that goroutine.
func (c *Controller) deliver() {
	c.deliverMu.Lock()
	if c.delivering {
		c.deliverMu.Unlock()
		return
	}
	c.delivering = true
	for len(c.outbox) > 0 {
		fn := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		c.deliverMu.Unlock()
		fn()
		c.deliverMu.Lock()
	}
	c.delivering = false
	c.delivered.Broadcast()
	c.deliverMu.Unlock()
}
