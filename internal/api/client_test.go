package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

var _ interaction.Fetcher = (*Client)(nil)

func testBackend(url string) config.BackendConfig {
	cfg := config.Default().Backend
	cfg.BaseURL = url + "/api/v1"
	cfg.Backoff = "constant"
	cfg.BaseDelay = time.Millisecond
	cfg.MaxRetries = 2
	return cfg
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestFetchRootSet(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.EscapedPath()
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("Expected user agent %q, got %q", userAgent, r.Header.Get("User-Agent"))
		}
		writeJSON(w, []DefendantCase{
			{ID: "c1", Caption: "Doe v. Acme", Theories: []string{"Negligence", "Fraud", "Privacy"}},
			{ID: "c2", Caption: "Roe v. Acme", Theories: []string{"Negligence"}},
			{ID: "", Caption: "no id"},
		})
	}))
	defer srv.Close()

	c := New(testBackend(srv.URL))
	nb, err := c.FetchRootSet(context.Background(), "Acme Corp")
	if err != nil {
		t.Fatalf("FetchRootSet failed: %v", err)
	}
	if path := <-paths; path != "/api/v1/graph/defendants/Acme%20Corp/cases" {
		t.Errorf("Unexpected request path %q", path)
	}

	root, _ := nb.Root()
	if root.ID != "org-Acme Corp" || root.Kind != models.KindOrganization {
		t.Errorf("Expected org root, got %+v", root)
	}
	// org + 2 cases + Negligence + Fraud; Privacy is past the per-case limit.
	if len(nb.Nodes) != 5 {
		t.Errorf("Expected 5 nodes, got %d: %+v", len(nb.Nodes), nb.Nodes)
	}
	// 2 DEFENDANT + 3 CLAIMS
	if len(nb.Links) != 5 {
		t.Errorf("Expected 5 links, got %d", len(nb.Links))
	}
	if nb.Links[0] != (models.Link{Source: "c1", Target: "org-Acme Corp", Label: LabelDefendant}) {
		t.Errorf("Unexpected first link %+v", nb.Links[0])
	}
}

func TestRootSetCaseLimit(t *testing.T) {
	var cases []DefendantCase
	for i := 0; i < 30; i++ {
		cases = append(cases, DefendantCase{ID: fmt.Sprintf("c%d", i)})
	}
	nb := RootSet("Acme", cases, 25, 2)
	if len(nb.Nodes) != 26 {
		t.Errorf("Expected org plus 25 cases, got %d nodes", len(nb.Nodes))
	}
	nb = RootSet("Acme", cases, 0, 0)
	if len(nb.Nodes) != 31 {
		t.Errorf("Expected no limit, got %d nodes", len(nb.Nodes))
	}
}

func TestFetchNeighborhood(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/cases/c1/neighbors" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, CaseNeighbors{
			Case:          map[string]any{"id": "c1", "caption": "Doe v. Acme"},
			Organizations: []OrgRef{{Name: "Acme Corp"}, {Name: ""}},
			AISystems:     []SystemRef{{Name: "Autopilot", Category: "vehicle"}},
			LegalTheories: []string{"Negligence"},
			Courts:        []string{"N.D. Cal."},
		})
	}))
	defer srv.Close()

	nb, err := New(testBackend(srv.URL)).FetchNeighborhood(context.Background(), "c1")
	if err != nil {
		t.Fatalf("FetchNeighborhood failed: %v", err)
	}
	want := map[string]models.Kind{
		"c1":                models.KindCase,
		"org-Acme Corp":     models.KindOrganization,
		"sys-Autopilot":     models.KindAISystem,
		"theory-Negligence": models.KindLegalTheory,
		"court-N.D. Cal.":   models.KindCourt,
	}
	if len(nb.Nodes) != len(want) {
		t.Fatalf("Expected %d nodes, got %d", len(want), len(nb.Nodes))
	}
	for _, n := range nb.Nodes {
		if want[n.ID] != n.Kind {
			t.Errorf("Unexpected node %s of kind %s", n.ID, n.Kind)
		}
	}
	if nb.Nodes[0].Label != "Doe v. Acme" {
		t.Errorf("Expected case caption as label, got %q", nb.Nodes[0].Label)
	}
	labels := map[string]bool{}
	for _, l := range nb.Links {
		if l.Source != "c1" {
			t.Errorf("Expected links from c1, got %+v", l)
		}
		labels[l.Label] = true
	}
	for _, l := range []string{LabelDefendant, LabelSystem, LabelClaims, LabelFiledIn} {
		if !labels[l] {
			t.Errorf("Expected a %s link", l)
		}
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(testBackend(srv.URL)).FetchNeighborhood(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}
}

func TestEmptyNeighborsIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	}))
	defer srv.Close()

	if _, err := New(testBackend(srv.URL)).FetchNeighborhood(context.Background(), "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "neo4j down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, []Defendant{{CanonicalName: "Acme Corp", CaseCount: 12}})
	}))
	defer srv.Close()

	got, err := New(testBackend(srv.URL)).TopDefendants(context.Background(), 5)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Expected 3 calls, got %d", n)
	}
	if len(got) != 1 || got[0].CaseCount != 12 {
		t.Errorf("Unexpected defendants %+v", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad limit", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(testBackend(srv.URL)).TopDefendants(context.Background(), 500)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected a 422 StatusError, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}
}

func TestTopDefendantsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "30" {
			t.Errorf("Expected limit=30, got %q", r.URL.RawQuery)
		}
		writeJSON(w, []Defendant{})
	}))
	defer srv.Close()

	if _, err := New(testBackend(srv.URL)).TopDefendants(context.Background(), 30); err != nil {
		t.Errorf("TopDefendants failed: %v", err)
	}
}

func TestBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testBackend(srv.URL)
	cfg.MaxRetries = 0
	cfg.Breaker.ConsecutiveFailures = 3
	cfg.Breaker.Timeout = time.Minute
	c := New(cfg)

	for i := 0; i < 3; i++ {
		if _, err := c.TopDefendants(context.Background(), 1); errors.Is(err, ErrUnavailable) {
			t.Fatalf("Call %d: breaker opened too early", i)
		}
	}
	if c.BreakerState() != "open" {
		t.Errorf("Expected open breaker, got %s", c.BreakerState())
	}
	_, err := c.TopDefendants(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Expected the open breaker to short-circuit, got %d calls", n)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testBackend(srv.URL)
	cfg.Breaker.ConsecutiveFailures = 2
	c := New(cfg)
	for i := 0; i < 5; i++ {
		c.FetchNeighborhood(context.Background(), "nope")
	}
	if c.BreakerState() != "closed" {
		t.Errorf("Expected closed breaker, got %s", c.BreakerState())
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testBackend(srv.URL)
	cfg.MaxRetries = 5
	cfg.BaseDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(cfg).FetchRootSet(ctx, "Acme")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Expected the backoff sleep to be interrupted")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}
}
