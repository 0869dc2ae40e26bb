// Package api is the HTTP client for the legal knowledge-graph backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

var (
	// ErrNotFound is returned when the backend has no such entity.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("backend unavailable")
)

const userAgent = "dail-knowledge-graph/1.0"

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client fetches graph data from the backend REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	backoff     utils.BackoffStrategy
	breaker     *gobreaker.CircuitBreaker
	maxCases    int
	maxTheories int
	logger      *slog.Logger
}

// New creates a client from backend config.
func New(cfg config.BackendConfig) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient creates a client that sends requests through hc.
func NewWithHTTPClient(cfg config.BackendConfig, hc *http.Client) *Client {
	log := logger.Component("api")
	threshold := cfg.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-backend",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A missing entity or an abandoned gesture says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  hc,
		maxRetries:  cfg.MaxRetries,
		backoff:     utils.BackoffFromConfig(cfg.Backoff, cfg.BaseDelay, cfg.MaxDelay),
		breaker:     breaker,
		maxCases:    cfg.MaxRootCases,
		maxTheories: cfg.MaxTheoriesPerCase,
		logger:      log,
	}
}

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// FetchRootSet loads the defendant graph of the named organization.
func (c *Client) FetchRootSet(ctx context.Context, org string) (models.Neighborhood, error) {
	var cases []DefendantCase
	path := "/graph/defendants/" + url.PathEscape(org) + "/cases"
	if err := c.get(ctx, "defendant_cases", path, nil, &cases); err != nil {
		return models.Neighborhood{}, fmt.Errorf("fetch root set %q: %w", org, err)
	}
	return RootSet(org, cases, c.maxCases, c.maxTheories), nil
}

// FetchNeighborhood loads the one-hop neighborhood of a case.
func (c *Client) FetchNeighborhood(ctx context.Context, caseID string) (models.Neighborhood, error) {
	var body CaseNeighbors
	path := "/cases/" + url.PathEscape(caseID) + "/neighbors"
	if err := c.get(ctx, "case_neighbors", path, nil, &body); err != nil {
		return models.Neighborhood{}, fmt.Errorf("fetch neighborhood %q: %w", caseID, err)
	}
	if body.Case == nil {
		return models.Neighborhood{}, fmt.Errorf("fetch neighborhood %q: %w", caseID, ErrNotFound)
	}
	return Neighbors(caseID, body), nil
}

// TopDefendants lists organizations by the number of cases naming them.
func (c *Client) TopDefendants(ctx context.Context, limit int) ([]Defendant, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Defendant
	if err := c.get(ctx, "defendants", "/graph/defendants", q, &out); err != nil {
		return nil, fmt.Errorf("top defendants: %w", err)
	}
	return out, nil
}

// get runs a GET with retries inside the circuit breaker and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.getWithRetry(ctx, endpoint, u, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordBackendRequest(endpoint, "rejected")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) getWithRetry(ctx context.Context, endpoint, u string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.NextDelay(attempt - 1)
			c.logger.Debug("retrying backend request", "url", u, "attempt", attempt, "delay", delay)
			if err := utils.Sleep(ctx, delay); err != nil {
				return err
			}
		}
		err := c.do(ctx, endpoint, u, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return err
		}
		c.logger.Warn("backend request failed", "url", u, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(endpoint, "transport")
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordBackendRequest(endpoint, "not_found")
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		metrics.RecordBackendRequest(endpoint, "http_"+strconv.Itoa(resp.StatusCode))
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RecordBackendRequest(endpoint, "malformed")
		return fmt.Errorf("decode response: %w", err)
	}
	metrics.RecordBackendRequest(endpoint, "ok")
	return nil
}

// retryable reports whether err is worth another attempt: transport errors
// and 5xx/429 responses, unless the caller gave up.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var te *transportError
	return errors.As(err, &te)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "HTTP request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
