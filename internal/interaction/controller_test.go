package interaction

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/graph"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

const frame = 16 * time.Millisecond

type fakeFetcher struct {
	mu    sync.Mutex
	roots map[string]models.Neighborhood
	hoods map[string]models.Neighborhood
	errs  map[string]error
	gates map[string]chan struct{}
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		roots: map[string]models.Neighborhood{"Acme Corp": acmeRoot()},
		hoods: map[string]models.Neighborhood{"c3": c3Neighborhood()},
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

// gate makes fetches for key block until the returned function is called.
func (f *fakeFetcher) gate(key string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeFetcher) enter(ctx context.Context, key string) error {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gates[key]
	err := f.errs[key]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) FetchRootSet(ctx context.Context, selector string) (models.Neighborhood, error) {
	if err := f.enter(ctx, selector); err != nil {
		return models.Neighborhood{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roots[selector], nil
}

func (f *fakeFetcher) FetchNeighborhood(ctx context.Context, id string) (models.Neighborhood, error) {
	if err := f.enter(ctx, id); err != nil {
		return models.Neighborhood{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	nb, ok := f.hoods[id]
	if !ok {
		return models.Neighborhood{Nodes: []models.Node{{ID: id}}}, nil
	}
	return nb, nil
}

func acmeRoot() models.Neighborhood {
	nb := models.Neighborhood{
		Nodes: []models.Node{{ID: "org-Acme Corp", Kind: models.KindOrganization, Label: "Acme Corp"}},
	}
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		nb.Nodes = append(nb.Nodes, models.Node{ID: id, Kind: models.KindCase, Label: "Case " + id})
		nb.Links = append(nb.Links, models.Link{Source: id, Target: "org-Acme Corp", Label: "DEFENDANT"})
	}
	nb.Links = append(nb.Links, models.Link{Source: "c1", Target: "c2", Label: "RELATED"})
	return nb
}

func c3Neighborhood() models.Neighborhood {
	return models.Neighborhood{
		Nodes: []models.Node{
			{ID: "c3", Kind: models.KindCase, Label: "Case c3"},
			{ID: "org-Acme Corp", Kind: models.KindOrganization, Label: "Acme Corp"},
			{ID: "sys-Autopilot", Kind: models.KindAISystem, Label: "Autopilot"},
		},
		Links: []models.Link{
			{Source: "c3", Target: "org-Acme Corp", Label: "DEFENDANT"},
			{Source: "c3", Target: "sys-Autopilot", Label: "SYSTEM"},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Interaction.FetchTimeout = 2 * time.Second
	return cfg
}

func newTestController(t *testing.T, f Fetcher, cfg *config.Config, cb Callbacks) *Controller {
	t.Helper()
	c := NewWithOptions(f, cfg, cb, Options{Logger: logger.Discard()})
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func positions(s models.Snapshot) map[string]models.Vec {
	out := make(map[string]models.Vec, len(s.Nodes))
	for _, n := range s.Nodes {
		out[n.ID] = models.Vec{X: n.X, Y: n.Y}
	}
	return out
}

func TestAcmeScenario(t *testing.T) {
	f := newFakeFetcher()
	var replaced, changed int
	c := newTestController(t, f, testConfig(), Callbacks{
		OnGraphReplaced: func(graph.Change) { replaced++ },
		OnGraphChanged:  func(graph.Change) { changed++ },
	})

	if _, err := c.SelectRoot("Acme Corp", nil); err != nil {
		t.Fatalf("SelectRoot failed: %v", err)
	}
	c.Wait()

	snap := c.Snapshot()
	if len(snap.Nodes) != 6 || len(snap.Links) != 6 {
		t.Fatalf("Expected 6 nodes and 6 links, got %d and %d", len(snap.Nodes), len(snap.Links))
	}
	if replaced != 1 {
		t.Errorf("Expected 1 replace notification, got %d", replaced)
	}
	if snap.Loading {
		t.Error("Expected loading to be cleared")
	}

	for i := 0; i < 20; i++ {
		c.Tick(frame)
	}
	before := positions(c.Snapshot())

	action, token, err := c.Click("c3")
	if err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	if action != ActionExpand || token == 0 {
		t.Fatalf("Expected expand with a token, got %s token=%d", action, token)
	}
	c.Wait()

	snap = c.Snapshot()
	if len(snap.Nodes) != 7 || len(snap.Links) != 7 {
		t.Fatalf("Expected 7 nodes and 7 links, got %d and %d", len(snap.Nodes), len(snap.Links))
	}
	after := positions(snap)
	for id, p := range before {
		if after[id] != p {
			t.Errorf("Expected %s to stay at %+v, got %+v", id, p, after[id])
		}
	}
	if changed != 1 {
		t.Errorf("Expected 1 change notification, got %d", changed)
	}
	if snap.Selected != "c3" {
		t.Errorf("Expected c3 selected, got %q", snap.Selected)
	}
	if c.Simulator().Alpha() < testConfig().Layout.ReheatAlpha {
		t.Errorf("Expected merge to reheat, alpha=%v", c.Simulator().Alpha())
	}
}

func TestAcmeSettles(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	ticks := 0
	for c.State() != models.SimSettled && ticks < 300 {
		c.Tick(frame)
		ticks++
	}
	if c.State() != models.SimSettled {
		t.Fatalf("Expected settled within 300 ticks, state %s", c.State())
	}
	for _, n := range c.Snapshot().Nodes {
		if math.IsNaN(n.X) || math.IsNaN(n.Y) || math.IsInf(n.X, 0) || math.IsInf(n.Y, 0) {
			t.Errorf("Node %s has non-finite position (%v, %v)", n.ID, n.X, n.Y)
		}
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	f := newFakeFetcher()
	f.roots["Old Corp"] = models.Neighborhood{Nodes: []models.Node{{ID: "org-Old Corp", Kind: models.KindOrganization}}}
	releaseOld := f.gate("Old Corp")
	releaseAcme := f.gate("Acme Corp")
	c := newTestController(t, f, testConfig(), Callbacks{})

	stale := metrics.FetchOutcomes.WithLabelValues(string(GestureRoot), metrics.OutcomeStale)
	staleBefore := testutil.ToFloat64(stale)

	oldToken, _ := c.SelectRoot("Old Corp", nil)
	newToken, _ := c.SelectRoot("Acme Corp", nil)
	if newToken <= oldToken {
		t.Fatalf("Expected increasing tokens, got %d then %d", oldToken, newToken)
	}

	// The superseded fetch arrives first; loading stays keyed to the newer token.
	releaseOld()
	waitFor(t, "stale discard", func() bool { return testutil.ToFloat64(stale) > staleBefore })
	if loading, token := c.Loading(); !loading || token != newToken {
		t.Errorf("Expected loading for token %d, got loading=%v token=%d", newToken, loading, token)
	}
	if c.Store().Len() != 0 {
		t.Errorf("Expected stale result not to be applied, got %d nodes", c.Store().Len())
	}

	releaseAcme()
	c.Wait()
	if c.Store().Len() != 6 {
		t.Errorf("Expected Acme graph, got %d nodes", c.Store().Len())
	}
	if c.Store().Has("org-Old Corp") {
		t.Error("Expected Old Corp to be discarded")
	}
}

func TestLastIssuedWinsNotLastArrived(t *testing.T) {
	f := newFakeFetcher()
	f.roots["Old Corp"] = models.Neighborhood{Nodes: []models.Node{{ID: "org-Old Corp", Kind: models.KindOrganization}}}
	releaseOld := f.gate("Old Corp")
	c := newTestController(t, f, testConfig(), Callbacks{})

	c.SelectRoot("Old Corp", nil)
	c.SelectRoot("Acme Corp", nil)
	waitFor(t, "Acme applied", func() bool { return c.Store().Len() == 6 })

	releaseOld()
	c.Wait()
	if c.Store().Has("org-Old Corp") || c.Store().Len() != 6 {
		t.Errorf("Expected late stale response to be ignored, have %d nodes", c.Store().Len())
	}
}

func TestFetchFailureSurfacedAsGestureError(t *testing.T) {
	f := newFakeFetcher()
	f.errs["Broken Inc"] = errors.New("backend unavailable")
	var failures []models.GestureFailure
	c := newTestController(t, f, testConfig(), Callbacks{
		OnError: func(g models.GestureFailure) { failures = append(failures, g) },
	})

	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	token, _ := c.SelectRoot("Broken Inc", nil)
	c.Wait()

	snap := c.Snapshot()
	if snap.Error == nil {
		t.Fatal("Expected a gesture error")
	}
	if snap.Error.Token != token || snap.Error.Gesture != "root" || snap.Error.Target != "Broken Inc" {
		t.Errorf("Unexpected failure %+v", *snap.Error)
	}
	if snap.Loading {
		t.Error("Expected loading to clear on failure")
	}
	if len(snap.Nodes) != 6 {
		t.Errorf("Expected the displayed graph to survive a failed fetch, got %d nodes", len(snap.Nodes))
	}
	if len(failures) != 1 {
		t.Errorf("Expected 1 OnError call, got %d", len(failures))
	}

	// The next gesture clears the transient error.
	c.SelectRoot("Acme Corp", nil)
	if c.Snapshot().Error != nil {
		t.Error("Expected a new gesture to clear the previous error")
	}
	c.Wait()
}

func TestFetchTimeout(t *testing.T) {
	f := newFakeFetcher()
	f.gate("Slow LLC")
	cfg := testConfig()
	cfg.Interaction.FetchTimeout = 20 * time.Millisecond
	c := newTestController(t, f, cfg, Callbacks{})

	c.SelectRoot("Slow LLC", nil)
	c.Wait()
	snap := c.Snapshot()
	if snap.Error == nil || snap.Loading {
		t.Fatalf("Expected timeout failure, got error=%v loading=%v", snap.Error, snap.Loading)
	}
}

func TestUnknownAnchorIsNotSurfaced(t *testing.T) {
	f := newFakeFetcher()
	release := f.gate("c3")
	c := newTestController(t, f, testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	if _, err := c.Expand("c3"); err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	// The anchor vanishes behind the controller's back.
	c.Store().Replace(models.Neighborhood{Nodes: []models.Node{{ID: "x"}}}, nil)
	release()
	c.Wait()

	snap := c.Snapshot()
	if len(snap.Nodes) != 1 || snap.Nodes[0].ID != "x" {
		t.Errorf("Expected graph to be untouched, got %+v", snap.Nodes)
	}
	if snap.Error != nil {
		t.Errorf("Expected no user-facing error, got %+v", *snap.Error)
	}
	if snap.Loading {
		t.Error("Expected loading to clear")
	}
}

func TestClickPolicy(t *testing.T) {
	f := newFakeFetcher()
	f.roots["Acme Corp"] = models.Neighborhood{
		Nodes: []models.Node{
			{ID: "org-Acme Corp", Kind: models.KindOrganization, Label: "Acme Corp"},
			{ID: "theory-Negligence", Kind: models.KindLegalTheory, Label: "Negligence"},
		},
		Links: []models.Link{{Source: "org-Acme Corp", Target: "theory-Negligence", Label: "CLAIMS"}},
	}
	var clicks []string
	var selections []string
	c := newTestController(t, f, testConfig(), Callbacks{
		OnNodeClick: func(n models.Node) { clicks = append(clicks, n.ID) },
		OnSelectionChange: func(n *models.Node) {
			if n == nil {
				selections = append(selections, "")
				return
			}
			selections = append(selections, n.ID)
		},
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	action, token, err := c.Click("theory-Negligence")
	if err != nil || action != ActionSelect || token != 0 {
		t.Errorf("Expected select-only click, got %s token=%d err=%v", action, token, err)
	}
	if c.Generation() != 1 {
		t.Errorf("Expected no new generation, got %d", c.Generation())
	}

	action, token, err = c.Click("org-Acme Corp")
	if err != nil || action != ActionReroot || token != 2 {
		t.Errorf("Expected reroot with token 2, got %s token=%d err=%v", action, token, err)
	}
	c.Wait()
	if f.callCount("Acme Corp") != 2 {
		t.Errorf("Expected root to be fetched again by label, got %d calls", f.callCount("Acme Corp"))
	}

	if _, _, err := c.Click("missing"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode, got %v", err)
	}
	if len(clicks) != 2 || clicks[0] != "theory-Negligence" || clicks[1] != "org-Acme Corp" {
		t.Errorf("Unexpected click events %v", clicks)
	}
	if len(selections) != 2 {
		t.Errorf("Expected 2 selection events, got %v", selections)
	}
}

func TestKindPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.InteractionConfig{ExpandKinds: []string{"case", "Court"}, RerootKinds: []string{"Organization", "bogus"}})
	tests := []struct {
		kind models.Kind
		want Action
	}{
		{models.KindCase, ActionExpand},
		{models.KindCourt, ActionExpand},
		{models.KindOrganization, ActionReroot},
		{models.KindAISystem, ActionSelect},
		{models.KindLegalTheory, ActionSelect},
	}
	for _, tt := range tests {
		if got := p.ActionFor(models.Node{Kind: tt.kind}); got != tt.want {
			t.Errorf("ActionFor(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
	if (SelectOnlyPolicy{}).ActionFor(models.Node{Kind: models.KindCase}) != ActionSelect {
		t.Error("Expected SelectOnlyPolicy to select")
	}
}

func TestSelect(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	if err := c.Select("c2"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if c.Selected() != "c2" {
		t.Errorf("Expected c2 selected, got %q", c.Selected())
	}
	if c.Generation() != 1 {
		t.Error("Expected Select not to fetch")
	}
	if err := c.Select("nope"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode, got %v", err)
	}
	if err := c.Select(""); err != nil || c.Selected() != "" {
		t.Errorf("Expected selection cleared, got %q err=%v", c.Selected(), err)
	}
}

func TestReplaceClearsMissingSelection(t *testing.T) {
	f := newFakeFetcher()
	f.roots["Other"] = models.Neighborhood{Nodes: []models.Node{{ID: "org-Other", Kind: models.KindOrganization}}}
	var cleared bool
	c := newTestController(t, f, testConfig(), Callbacks{
		OnSelectionChange: func(n *models.Node) { cleared = n == nil },
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	c.Select("c1")

	c.SelectRoot("Other", nil)
	c.Wait()
	if c.Selected() != "" || !cleared {
		t.Errorf("Expected selection to be cleared, got %q", c.Selected())
	}
}

func TestReselectingRootReplaces(t *testing.T) {
	f := newFakeFetcher()
	var replaced int
	c := newTestController(t, f, testConfig(), Callbacks{OnGraphReplaced: func(graph.Change) { replaced++ }})

	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	for i := 0; i < 50; i++ {
		c.Tick(frame)
	}
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	if replaced != 2 {
		t.Errorf("Expected 2 replaces, got %d", replaced)
	}
	if c.Simulator().Alpha() != 1 {
		t.Errorf("Expected replace to restart at alpha 1, got %v", c.Simulator().Alpha())
	}
}

func TestIdenticalFetchesCoalesced(t *testing.T) {
	f := newFakeFetcher()
	release := f.gate("Acme Corp")
	var replaced int
	c := newTestController(t, f, testConfig(), Callbacks{OnGraphReplaced: func(graph.Change) { replaced++ }})

	first, _ := c.SelectRoot("Acme Corp", nil)
	second, _ := c.SelectRoot("Acme Corp", nil)
	if first == second {
		t.Fatal("Expected each gesture to get its own token")
	}
	waitFor(t, "fetch started", func() bool { return f.callCount("Acme Corp") == 1 })
	release()
	c.Wait()

	if n := f.callCount("Acme Corp"); n != 1 {
		t.Errorf("Expected 1 backend call, got %d", n)
	}
	if replaced != 1 {
		t.Errorf("Expected only the latest gesture to apply, got %d replaces", replaced)
	}
}

func TestRootSeed(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	seed := models.Vec{X: 120, Y: 80}
	c.SelectRoot("Acme Corp", &seed)
	c.Wait()

	b, ok := c.Store().Body("org-Acme Corp")
	if !ok || b.Pos != seed {
		t.Errorf("Expected root at %+v, got %+v", seed, b.Pos)
	}
}

func TestIsolatedNode(t *testing.T) {
	f := newFakeFetcher()
	f.roots["Solo"] = models.Neighborhood{Nodes: []models.Node{{ID: "org-Solo", Kind: models.KindOrganization}}}
	var settled int
	c := newTestController(t, f, testConfig(), Callbacks{OnSettled: func() { settled++ }})
	c.SelectRoot("Solo", nil)
	c.Wait()

	tr := c.Tick(frame)
	if tr.To != models.SimSettled {
		t.Fatalf("Expected settled on tick 1, got %s", tr.To)
	}
	n, _ := c.Snapshot().Node("org-Solo")
	if math.Abs(n.X-400) > 1e-9 || math.Abs(n.Y-250) > 1e-9 {
		t.Errorf("Expected node at the viewport center, got (%v, %v)", n.X, n.Y)
	}
	c.Tick(frame)
	if settled != 1 {
		t.Errorf("Expected OnSettled once, got %d", settled)
	}
}

func TestDragPinsNode(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	for i := 0; i < 30; i++ {
		c.Tick(frame)
	}

	start, _ := c.Store().Body("c1")
	if err := c.BeginDrag("c1"); err != nil {
		t.Fatalf("BeginDrag failed: %v", err)
	}
	if p, ok := c.Store().Pin("c1"); !ok || p != start.Pos {
		t.Errorf("Expected pin at current position %+v, got %+v", start.Pos, p)
	}
	if c.Simulator().Stats().AlphaTarget != testConfig().Layout.ReheatAlpha {
		t.Error("Expected drag to hold the alpha target up")
	}

	if _, err := c.SetViewportTransform(models.Viewport{Zoom: 2, PanX: 10, PanY: 10}); err != nil {
		t.Fatalf("SetViewportTransform failed: %v", err)
	}
	if err := c.UpdateDrag("c1", models.Vec{X: 210, Y: 110}); err != nil {
		t.Fatalf("UpdateDrag failed: %v", err)
	}
	for i := 0; i < 25; i++ {
		c.Tick(frame)
		b, _ := c.Store().Body("c1")
		if b.Pos.X != 100 || b.Pos.Y != 50 {
			t.Fatalf("Tick %d: expected pinned node at (100, 50), got %+v", i, b.Pos)
		}
	}
	n, _ := c.Snapshot().Node("c1")
	if !n.Pinned || n.X != 100 || n.Y != 50 {
		t.Errorf("Expected snapshot to report the pin, got %+v", n)
	}

	if err := c.EndDrag("c1"); err != nil {
		t.Fatalf("EndDrag failed: %v", err)
	}
	if _, ok := c.Store().Pin("c1"); ok {
		t.Error("Expected pin to be released")
	}
	if c.Simulator().Stats().AlphaTarget != 0 {
		t.Error("Expected alpha target back at zero")
	}
	if c.Simulator().Alpha() < testConfig().Layout.ReheatAlpha {
		t.Errorf("Expected release to reheat, alpha=%v", c.Simulator().Alpha())
	}
	if err := c.EndDrag("c1"); !errors.Is(err, ErrNotDragging) {
		t.Errorf("Expected ErrNotDragging, got %v", err)
	}
}

func TestDragErrors(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	if err := c.BeginDrag("ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode, got %v", err)
	}
	if err := c.UpdateDrag("c1", models.Vec{X: 1, Y: 1}); !errors.Is(err, ErrNotDragging) {
		t.Errorf("Expected ErrNotDragging, got %v", err)
	}
	c.BeginDrag("c1")
	if err := c.UpdateDrag("c1", models.Vec{X: math.NaN()}); !errors.Is(err, ErrInvalidPoint) {
		t.Errorf("Expected ErrInvalidPoint, got %v", err)
	}
}

func TestStickOnDrop(t *testing.T) {
	cfg := testConfig()
	cfg.Interaction.StickOnDrop = true
	c := newTestController(t, newFakeFetcher(), cfg, Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	c.BeginDrag("c2")
	c.UpdateDrag("c2", models.Vec{X: 300, Y: 300})
	c.EndDrag("c2")
	if p, ok := c.Store().Pin("c2"); !ok || p != (models.Vec{X: 300, Y: 300}) {
		t.Errorf("Expected pin to stick at (300, 300), got %+v ok=%v", p, ok)
	}
}

func TestViewportIsPureViewTransform(t *testing.T) {
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	for i := 0; c.State() != models.SimSettled && i < 1000; i++ {
		c.Tick(frame)
	}
	before := c.Snapshot()

	tests := []struct {
		name    string
		in      models.Viewport
		want    float64
		wantErr bool
	}{
		{"normal", models.Viewport{Zoom: 1.5, PanX: -20, PanY: 40}, 1.5, false},
		{"clamped high", models.Viewport{Zoom: 100}, 8, false},
		{"clamped low", models.Viewport{Zoom: 0.001}, 0.1, false},
		{"zero zoom", models.Viewport{Zoom: 0}, 0, true},
		{"negative zoom", models.Viewport{Zoom: -1}, 0, true},
		{"nan pan", models.Viewport{Zoom: 1, PanX: math.NaN()}, 0, true},
		{"infinite zoom", models.Viewport{Zoom: math.Inf(1)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.SetViewportTransform(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidViewport) {
					t.Errorf("Expected ErrInvalidViewport, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Zoom != tt.want {
				t.Errorf("Expected zoom %v, got %v", tt.want, got.Zoom)
			}
		})
	}

	after := c.Snapshot()
	if after.State != models.SimSettled || after.Alpha != before.Alpha {
		t.Errorf("Expected simulation untouched, got state %s alpha %v", after.State, after.Alpha)
	}
	bp, ap := positions(before), positions(after)
	for id, p := range bp {
		if ap[id] != p {
			t.Errorf("Expected %s unchanged, got %+v -> %+v", id, p, ap[id])
		}
	}
}

func TestLoadingCallbacks(t *testing.T) {
	type event struct {
		loading bool
		token   uint64
	}
	var events []event
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{
		OnLoadingChange: func(loading bool, token uint64) { events = append(events, event{loading, token}) },
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()

	if len(events) != 2 {
		t.Fatalf("Expected 2 loading events, got %+v", events)
	}
	if !events[0].loading || events[0].token != 1 || events[1].loading || events[1].token != 1 {
		t.Errorf("Unexpected loading events %+v", events)
	}
}

func TestSlowLoadingHandlerKeepsOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		events  []bool
		active  int
		overlap bool
	)
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{
		OnLoadingChange: func(loading bool, token uint64) {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			if loading {
				time.Sleep(5 * time.Millisecond)
			}
			mu.Lock()
			events = append(events, loading)
			active--
			mu.Unlock()
		},
	})

	for i := 0; i < 20; i++ {
		if _, err := c.SelectRoot("Acme Corp", nil); err != nil {
			t.Fatalf("SelectRoot failed: %v", err)
		}
		c.Wait()

		mu.Lock()
		got := append([]bool(nil), events...)
		events = nil
		mu.Unlock()
		if len(got) != 2 || !got[0] || got[1] {
			t.Fatalf("Round %d: expected loading events [true false], got %v", i, got)
		}
		if loading, _ := c.Loading(); loading {
			t.Fatalf("Round %d: expected the controller to be idle", i)
		}
	}
	if overlap {
		t.Error("Expected callbacks never to run concurrently")
	}
}

func TestWaitReturnsAfterCallbacksDelivered(t *testing.T) {
	var mu sync.Mutex
	replaced := 0
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{
		OnGraphReplaced: func(graph.Change) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			replaced++
			mu.Unlock()
		},
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	mu.Lock()
	defer mu.Unlock()
	if replaced != 1 {
		t.Errorf("Expected OnGraphReplaced to have returned before Wait, got %d calls", replaced)
	}
}

func TestGesturesFailAfterClose(t *testing.T) {
	selections := 0
	c := newTestController(t, newFakeFetcher(), testConfig(), Callbacks{
		OnSelectionChange: func(*models.Node) { selections++ },
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	if err := c.BeginDrag("c1"); err != nil {
		t.Fatalf("BeginDrag failed: %v", err)
	}
	c.Close()

	tests := []struct {
		name string
		call func() error
	}{
		{"select", func() error { return c.Select("c2") }},
		{"clear selection", func() error { return c.Select("") }},
		{"update drag", func() error { return c.UpdateDrag("c1", models.Vec{X: 1, Y: 1}) }},
		{"end drag", func() error { return c.EndDrag("c1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrClosed) {
				t.Errorf("Expected ErrClosed, got %v", err)
			}
		})
	}
	if c.Selected() != "" || selections != 0 {
		t.Errorf("Expected selection untouched after close, got %q with %d callbacks", c.Selected(), selections)
	}
}

func TestCallbackMayReenterController(t *testing.T) {
	var c *Controller
	var snap models.Snapshot
	c = newTestController(t, newFakeFetcher(), testConfig(), Callbacks{
		OnGraphReplaced: func(graph.Change) { snap = c.Snapshot() },
	})
	c.SelectRoot("Acme Corp", nil)
	c.Wait()
	if len(snap.Nodes) != 6 {
		t.Errorf("Expected callback to see the new graph, got %d nodes", len(snap.Nodes))
	}
}

func TestCloseDiscardsInflight(t *testing.T) {
	f := newFakeFetcher()
	f.gate("Acme Corp")
	c := NewWithOptions(f, testConfig(), Callbacks{}, Options{Logger: logger.Discard()})
	c.SelectRoot("Acme Corp", nil)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Close to cancel the pending fetch")
	}
	if c.Store().Len() != 0 {
		t.Error("Expected nothing applied after close")
	}
	if _, err := c.SelectRoot("Acme Corp", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := c.SelectRoot("  ", nil); !errors.Is(err, ErrEmptySelector) {
		t.Errorf("Expected ErrEmptySelector, got %v", err)
	}
}
