package explorerd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

type HTTPServer struct {
	router         chi.Router
	store          *SessionStore
	validate       *validator.Validate
	streamInterval time.Duration
}

func NewHTTPServer(store *SessionStore, cfg config.ServerConfig) *HTTPServer {
	s := &HTTPServer{
		router:         chi.NewRouter(),
		store:          store,
		validate:       newValidator(),
		streamInterval: cfg.StreamInterval,
	}
	if s.streamInterval <= 0 {
		s.streamInterval = 100 * time.Millisecond
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(recordRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/stream", s.handleStream)

			r.Group(func(r chi.Router) {
				r.Use(s.limitGestures)
				r.Post("/root", s.handleSelectRoot)
				r.Post("/expand", s.handleExpand)
				r.Post("/click", s.handleClick)
				r.Post("/select", s.handleSelect)
				r.Post("/drag/begin", s.handleDragBegin)
				r.Post("/drag/move", s.handleDragMove)
				r.Post("/drag/end", s.handleDragEnd)
				r.Post("/viewport", s.handleViewport)
			})
		})
	})

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// recordRequests counts every request by its route pattern, not its raw path,
// so session ids do not explode the label set.
func recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status)
	})
}

// limitGestures charges one gesture to a live session. Unknown ids are
// rejected before a bucket is created for them.
func (s *HTTPServer) limitGestures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := s.store.AllowGesture(sess.ID); err != nil {
			metrics.RecordRateLimited("http")
			w.Header().Set("Retry-After", "1")
			s.writeFailure(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Request bodies.

type createSessionRequest struct {
	ID string `json:"id,omitempty" validate:"omitempty,max=64,printascii"`
}

type vecBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type rootRequest struct {
	Selector string   `json:"selector" validate:"required,max=256"`
	Seed     *vecBody `json:"seed,omitempty"`
}

type nodeRequest struct {
	NodeID string `json:"node_id" validate:"required,max=512"`
}

type selectRequest struct {
	NodeID string `json:"node_id" validate:"max=512"` // empty clears the selection
}

type dragMoveRequest struct {
	NodeID string   `json:"node_id" validate:"required,max=512"`
	X      *float64 `json:"x" validate:"required"`
	Y      *float64 `json:"y" validate:"required"`
}

type viewportRequest struct {
	Zoom float64 `json:"zoom" validate:"gt=0"`
	PanX float64 `json:"pan_x"`
	PanY float64 `json:"pan_y"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as the zero value.
func (s *HTTPServer) decode(r *http.Request, dst any) error {
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return errors.New("invalid request body: " + err.Error())
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			return errors.New("validation failed: " + strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

func (s *HTTPServer) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := s.store.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return nil, false
	}
	return sess, true
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  s.store.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCreateSession handles POST /v1/sessions
func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.store.Create(req.ID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	logger.Info("session created (HTTP)", "session_id", sess.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{"session": sess.Info()})
}

// handleListSessions handles GET /v1/sessions
func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}
	sessions := s.store.List(limit)
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sess.Info()})
}

func (s *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSelectRoot handles POST /v1/sessions/{id}/root. The fetch resolves
// asynchronously; the response carries the gesture token.
func (s *HTTPServer) handleSelectRoot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req rootRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var seed *models.Vec
	if req.Seed != nil {
		seed = &models.Vec{X: req.Seed.X, Y: req.Seed.Y}
	}
	token, err := sess.SelectRoot(req.Selector, seed)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"token": token})
}

func (s *HTTPServer) handleExpand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := sess.Expand(req.NodeID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"token": token})
}

func (s *HTTPServer) handleClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, token, err := sess.Click(req.NodeID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	body := map[string]any{"action": action.String()}
	status := http.StatusOK
	if token != 0 {
		body["token"] = token
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, body)
}

func (s *HTTPServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.Select(req.NodeID); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"selected": req.NodeID})
}

func (s *HTTPServer) handleDragBegin(w http.ResponseWriter, r *http.Request) {
	s.handleNodeGesture(w, r, (*Session).BeginDrag)
}

func (s *HTTPServer) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	s.handleNodeGesture(w, r, (*Session).EndDrag)
}

func (s *HTTPServer) handleNodeGesture(w http.ResponseWriter, r *http.Request, gesture func(*Session, string) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req nodeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gesture(sess, req.NodeID); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDragMove handles POST /v1/sessions/{id}/drag/move. Coordinates are
// screen space.
func (s *HTTPServer) handleDragMove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req dragMoveRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.UpdateDrag(req.NodeID, models.Vec{X: *req.X, Y: *req.Y}); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleViewport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req viewportRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := sess.SetViewport(models.Viewport{Zoom: req.Zoom, PanX: req.PanX, PanY: req.PanY})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"viewport": applied})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleStream handles GET /v1/sessions/{id}/stream (SSE). A snapshot event
// is sent whenever the snapshot changed since the last one, checked every
// interval_ms.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	interval := s.streamInterval
	if intervalStr := r.URL.Query().Get("interval_ms"); intervalStr != "" {
		if intervalMs, err := strconv.ParseInt(intervalStr, 10, 64); err == nil && intervalMs > 0 {
			interval = time.Duration(intervalMs) * time.Millisecond
		}
	}

	var last []byte
	send := func() bool {
		data, err := json.Marshal(sess.Snapshot())
		if err != nil {
			logger.Error("failed to marshal snapshot", "session_id", sess.ID, "error", err)
			return false
		}
		if bytes.Equal(data, last) {
			return true
		}
		last = data
		return s.sendSSEEvent(w, "snapshot", data)
	}
	if !send() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.loop.Done():
			s.sendSSEEvent(w, "closed", []byte(`{"session_id":`+strconv.Quote(sess.ID)+`}`))
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// sendSSEEvent writes one event and flushes it. It reports whether the write succeeded.
func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data []byte) bool {
	if _, err := w.Write([]byte("event: " + eventType + "\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, interaction.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionExists), errors.Is(err, interaction.ErrNotDragging):
		return http.StatusConflict
	case errors.Is(err, ErrTooManySessions), errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, interaction.ErrInvalidViewport),
		errors.Is(err, interaction.ErrInvalidPoint),
		errors.Is(err, interaction.ErrEmptySelector):
		return http.StatusBadRequest
	case errors.Is(err, interaction.ErrClosed), errors.Is(err, ErrStoreClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeFailure(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), err.Error())
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
