package config

import (
	"fmt"
	"os"

	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadGraphFixture loads and parses a graph fixture file
func LoadGraphFixture(path string) (*models.Neighborhood, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph fixture %s: %w", path, err)
	}
	nb, err := ParseGraphFixtureYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse graph fixture %s: %w", path, err)
	}
	return nb, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return fmt.Errorf("viewport width and height must be positive, got %gx%g", cfg.Viewport.Width, cfg.Viewport.Height)
	}

	if err := validateLayout(&cfg.Layout); err != nil {
		return fmt.Errorf("layout validation failed: %w", err)
	}
	if err := validateInteraction(&cfg.Interaction); err != nil {
		return fmt.Errorf("interaction validation failed: %w", err)
	}
	if err := validateBackend(&cfg.Backend); err != nil {
		return fmt.Errorf("backend validation failed: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	return nil
}

// validateLayout checks the force constants
func validateLayout(l *LayoutConfig) error {
	if l.LinkDistance <= 0 {
		return fmt.Errorf("link_distance must be positive, got %g", l.LinkDistance)
	}
	if l.LinkStiffness < 0 {
		return fmt.Errorf("link_stiffness cannot be negative, got %g", l.LinkStiffness)
	}
	if l.CenterStrength < 0 || l.CenterStrength > 1 {
		return fmt.Errorf("center_strength must be between 0 and 1, got %g", l.CenterStrength)
	}
	if l.MinDistance <= 0 {
		return fmt.Errorf("min_distance must be positive, got %g", l.MinDistance)
	}
	if l.CaseRadius < 0 || l.NodeRadius < 0 || l.CollisionPadding < 0 {
		return fmt.Errorf("collision radii cannot be negative")
	}
	if l.Damping <= 0 || l.Damping >= 1 {
		return fmt.Errorf("damping must be in (0, 1), got %g", l.Damping)
	}
	if l.CoolingRate <= 0 || l.CoolingRate >= 1 {
		return fmt.Errorf("cooling_rate must be in (0, 1), got %g", l.CoolingRate)
	}
	if l.StopThreshold <= 0 || l.StopThreshold >= l.WarmThreshold || l.WarmThreshold > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < stop_threshold < warm_threshold <= 1, got %g and %g", l.StopThreshold, l.WarmThreshold)
	}
	if l.DisplacementEpsilon <= 0 {
		return fmt.Errorf("displacement_epsilon must be positive, got %g", l.DisplacementEpsilon)
	}
	if l.ReheatAlpha <= 0 || l.ReheatAlpha > 1 {
		return fmt.Errorf("reheat_alpha must be in (0, 1], got %g", l.ReheatAlpha)
	}
	if l.InitialJitter < 0 {
		return fmt.Errorf("initial_jitter cannot be negative, got %g", l.InitialJitter)
	}
	if l.BarnesHutThreshold < 0 {
		return fmt.Errorf("barnes_hut_threshold cannot be negative, got %d", l.BarnesHutThreshold)
	}
	if l.Theta <= 0 {
		return fmt.Errorf("theta must be positive, got %g", l.Theta)
	}
	if l.TargetFPS <= 0 || l.TargetFPS > 240 {
		return fmt.Errorf("target_fps must be between 1 and 240, got %d", l.TargetFPS)
	}
	if l.MaxTicks <= 0 {
		return fmt.Errorf("max_ticks must be positive, got %d", l.MaxTicks)
	}
	return nil
}

// validateInteraction checks click policy and zoom bounds
func validateInteraction(i *InteractionConfig) error {
	seen := make(map[models.Kind]string)
	for _, group := range []struct {
		name  string
		kinds []string
	}{{"expand_kinds", i.ExpandKinds}, {"reroot_kinds", i.RerootKinds}} {
		for _, raw := range group.kinds {
			k, err := models.ParseKind(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", group.name, err)
			}
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("kind %s listed in both %s and %s", k, prev, group.name)
			}
			seen[k] = group.name
		}
	}
	if i.MinZoom <= 0 || i.MaxZoom < i.MinZoom {
		return fmt.Errorf("zoom bounds must satisfy 0 < min_zoom <= max_zoom, got %g and %g", i.MinZoom, i.MaxZoom)
	}
	if i.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", i.FetchTimeout)
	}
	return nil
}

// validateBackend checks the REST backend settings
func validateBackend(b *BackendConfig) error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", b.Timeout)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}
	validBackoffs := map[string]bool{
		"exponential": true,
		"linear":      true,
		"constant":    true,
	}
	if !validBackoffs[b.Backoff] {
		return fmt.Errorf("invalid backoff type: %s (must be exponential, linear, or constant)", b.Backoff)
	}
	if b.BaseDelay < 0 || b.MaxDelay < 0 {
		return fmt.Errorf("backoff delays cannot be negative")
	}
	if b.MaxRootCases <= 0 {
		return fmt.Errorf("max_root_cases must be positive, got %d", b.MaxRootCases)
	}
	if b.MaxTheoriesPerCase < 0 {
		return fmt.Errorf("max_theories_per_case cannot be negative, got %d", b.MaxTheoriesPerCase)
	}
	if b.Breaker.ConsecutiveFailures == 0 {
		return fmt.Errorf("breaker consecutive_failures must be positive")
	}
	return nil
}

// validateServer checks listener settings
func validateServer(s *ServerConfig) error {
	if s.HTTPAddr == "" && s.GRPCAddr == "" {
		return fmt.Errorf("at least one of http_addr or grpc_addr must be set")
	}
	if s.StreamInterval <= 0 {
		return fmt.Errorf("stream_interval must be positive, got %s", s.StreamInterval)
	}
	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", s.MaxSessions)
	}
	if s.GestureRate < 0 {
		return fmt.Errorf("gesture_rate cannot be negative, got %g", s.GestureRate)
	}
	if s.GestureRate > 0 && s.GestureBurst < 1 {
		return fmt.Errorf("gesture_burst must be at least 1 when gesture_rate is set, got %d", s.GestureBurst)
	}
	return nil
}

// validateFixture checks node ids and kinds. Links are not checked here: the
// graph store drops links with missing endpoints on its own.
func validateFixture(nb *models.Neighborhood) error {
	if len(nb.Nodes) == 0 {
		return fmt.Errorf("at least one node must be defined")
	}
	for i, n := range nb.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: id cannot be empty", i)
		}
		if !n.Kind.Valid() {
			return fmt.Errorf("node %s: invalid kind %q", n.ID, n.Kind)
		}
	}
	return nil
}
