// Package explorerd serves graph exploration sessions over HTTP and gRPC.
package explorerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/engine"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/graph"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrTooManySessions = errors.New("session limit reached")
	ErrStoreClosed     = errors.New("session store closed")
)

// Session is one explored graph: a controller plus the frame loop that
// drives its simulation.
type Session struct {
	ID        string
	CreatedAt time.Time

	controller *interaction.Controller
	loop       *engine.Loop
	logger     *slog.Logger
}

// SessionInfo is the summary of a session returned by list and get calls.
type SessionInfo struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	State      models.SimState   `json:"state"`
	Generation uint64            `json:"generation"`
	Nodes      int               `json:"nodes"`
	Links      int               `json:"links"`
	Selected   string            `json:"selected,omitempty"`
	Loading    bool              `json:"loading"`
	Loop       engine.LoopStatus `json:"loop"`
}

// Controller returns the session's interaction controller.
func (s *Session) Controller() *interaction.Controller { return s.controller }

// Loop returns the session's frame loop.
func (s *Session) Loop() *engine.Loop { return s.loop }

// Info summarises the session.
func (s *Session) Info() SessionInfo {
	loading, _ := s.controller.Loading()
	store := s.controller.Store()
	return SessionInfo{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		State:      s.controller.State(),
		Generation: s.controller.Generation(),
		Nodes:      store.Len(),
		Links:      store.LinkCount(),
		Selected:   s.controller.Selected(),
		Loading:    loading,
		Loop:       s.loop.Status(),
	}
}

// Snapshot returns the session's current render snapshot.
func (s *Session) Snapshot() models.Snapshot {
	return s.controller.Snapshot()
}

// SelectRoot replaces the session graph with the root set for selector.
func (s *Session) SelectRoot(selector string, seed *models.Vec) (uint64, error) {
	return s.controller.SelectRoot(selector, seed)
}

// Expand merges the neighborhood of nodeID into the session graph.
func (s *Session) Expand(nodeID string) (uint64, error) {
	return s.controller.Expand(nodeID)
}

// Click applies the click policy for nodeID's kind.
func (s *Session) Click(nodeID string) (interaction.Action, uint64, error) {
	return s.controller.Click(nodeID)
}

// Select sets the selection. An empty id clears it.
func (s *Session) Select(nodeID string) error {
	return s.controller.Select(nodeID)
}

// BeginDrag pins nodeID where it is and wakes the loop.
func (s *Session) BeginDrag(nodeID string) error {
	defer s.loop.Wake()
	return s.controller.BeginDrag(nodeID)
}

// UpdateDrag moves the pin of nodeID under a screen point and wakes the loop.
func (s *Session) UpdateDrag(nodeID string, screen models.Vec) error {
	defer s.loop.Wake()
	return s.controller.UpdateDrag(nodeID, screen)
}

// EndDrag releases nodeID and wakes the loop.
func (s *Session) EndDrag(nodeID string) error {
	defer s.loop.Wake()
	return s.controller.EndDrag(nodeID)
}

// SetViewport applies a pan/zoom transform and returns it after clamping.
func (s *Session) SetViewport(v models.Viewport) (models.Viewport, error) {
	return s.controller.SetViewportTransform(v)
}

// close stops the controller, then the frame loop.
func (s *Session) close() {
	s.controller.Close()
	s.loop.Stop()
}

// SessionStore owns the live sessions of the daemon.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	limiter  *gestureLimiter

	fetcher interaction.Fetcher
	cfg     *config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewSessionStore creates a store whose sessions fetch through fetcher.
// Session loops stop when ctx is done.
func NewSessionStore(ctx context.Context, fetcher interaction.Fetcher, cfg *config.Config) *SessionStore {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &SessionStore{
		sessions: make(map[string]*Session),
		limiter:  newGestureLimiter(cfg.Server.GestureRate, cfg.Server.GestureBurst),
		fetcher:  fetcher,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Component("explorerd"),
	}
}

// Create starts a new session. An empty id gets a generated one.
func (s *SessionStore) Create(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if limit := s.cfg.Server.MaxSessions; limit > 0 && len(s.sessions) >= limit {
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, limit)
	}

	log := s.logger.With("session_id", id)
	sess := &Session{ID: id, CreatedAt: time.Now().UTC(), logger: log}
	wake := func(graph.Change) { sess.loop.Wake() }
	sess.controller = interaction.NewWithOptions(s.fetcher, s.cfg, interaction.Callbacks{
		OnGraphReplaced: wake,
		OnGraphChanged:  wake,
		OnSettled: func() {
			log.Debug("layout settled")
		},
		OnError: func(f models.GestureFailure) {
			log.Warn("gesture failed", "gesture", f.Gesture, "target", f.Target, "token", f.Token, "error", f.Message)
		},
	}, interaction.Options{Logger: log})
	sess.loop = engine.NewLoop(sess.controller, s.cfg.Layout.TargetFPS)
	sess.loop.SetLogger(log.With("component", "engine"))
	if err := sess.loop.Start(s.ctx); err != nil {
		sess.controller.Close()
		return nil, err
	}

	s.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	log.Info("session created")
	return sess, nil
}

// Get returns the session with the given id.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Lookup is Get returning ErrSessionNotFound for a missing id.
func (s *SessionStore) Lookup(id string) (*Session, error) {
	if sess, ok := s.Get(id); ok {
		return sess, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// List returns up to limit sessions, oldest first. A non-positive limit means 50.
func (s *SessionStore) List(limit int) []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Delete stops a session and discards its in-flight fetches.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.limiter.Forget(id)
	sess.close()
	sess.logger.Info("session deleted")
	return nil
}

// AllowGesture takes one token from the session's gesture budget.
func (s *SessionStore) AllowGesture(id string) error {
	if !s.limiter.Allow(id) {
		return fmt.Errorf("%w: session %s", ErrRateLimited, id)
	}
	return nil
}

// Close stops every session. Create fails afterwards.
func (s *SessionStore) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	s.mu.Unlock()

	s.limiter.Reset()
	s.cancel()
	for _, sess := range sessions {
		sess.close()
	}
}
