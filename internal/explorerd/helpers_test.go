package explorerd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/api"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

func init() {
	logger.SetDefault(logger.Discard())
}

// staticFetcher serves a fixed defendant graph built the way the backend
// client builds it.
type staticFetcher struct{}

func (staticFetcher) FetchRootSet(ctx context.Context, org string) (models.Neighborhood, error) {
	if org != "Acme Corp" {
		return models.Neighborhood{}, fmt.Errorf("fetch root set %q: %w", org, api.ErrNotFound)
	}
	cases := []api.DefendantCase{
		{ID: "c1", Caption: "Doe v. Acme", Theories: []string{"Negligence"}},
		{ID: "c2", Caption: "Roe v. Acme", Theories: []string{"Negligence", "Fraud"}},
		{ID: "c3", Caption: "Poe v. Acme"},
	}
	return api.RootSet(org, cases, 25, 2), nil
}

func (staticFetcher) FetchNeighborhood(ctx context.Context, caseID string) (models.Neighborhood, error) {
	return api.Neighbors(caseID, api.CaseNeighbors{
		Case:          map[string]any{"id": caseID, "caption": "Case " + caseID},
		Organizations: []api.OrgRef{{Name: "Acme Corp"}},
		AISystems:     []api.SystemRef{{Name: "Autopilot"}},
		Courts:        []string{"N.D. Cal."},
	}), nil
}

// acmeNodes is org + 3 cases + Negligence + Fraud.
const acmeNodes = 6

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Layout.TargetFPS = 500
	cfg.Interaction.FetchTimeout = 2 * time.Second
	cfg.Server.StreamInterval = 10 * time.Millisecond
	cfg.Server.MaxSessions = 4
	return cfg
}

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store := NewSessionStore(context.Background(), staticFetcher{}, testConfig())
	t.Cleanup(store.Close)
	return store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
