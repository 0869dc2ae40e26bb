package config

import "time"

// Config is the top-level configuration of the explorer daemon and CLI.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // json or text
	Viewport    ViewportConfig    `yaml:"viewport"`
	Layout      LayoutConfig      `yaml:"layout"`
	Interaction InteractionConfig `yaml:"interaction"`
	Backend     BackendConfig     `yaml:"backend"`
	Server      ServerConfig      `yaml:"server"`
}

// ViewportConfig is the size of the drawing surface in world units.
type ViewportConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Center returns the midpoint of the viewport.
func (v ViewportConfig) Center() (x, y float64) {
	return v.Width / 2, v.Height / 2
}

// LayoutConfig holds the force simulation constants.
type LayoutConfig struct {
	Charge              float64 `yaml:"charge"`               // many-body strength, negative repels
	LinkDistance        float64 `yaml:"link_distance"`        // spring rest length
	LinkStiffness       float64 `yaml:"link_stiffness"`       // before degree normalisation
	CenterStrength      float64 `yaml:"center_strength"`      // pull toward viewport center
	MinDistance         float64 `yaml:"min_distance"`         // repulsion floor
	CaseRadius          float64 `yaml:"case_radius"`          // collision radius of Case nodes
	NodeRadius          float64 `yaml:"node_radius"`          // collision radius of all other kinds
	CollisionPadding    float64 `yaml:"collision_padding"`    // added to each radius
	Damping             float64 `yaml:"damping"`              // velocity retained per tick, in (0,1)
	CoolingRate         float64 `yaml:"cooling_rate"`         // alpha decay factor, in (0,1)
	WarmThreshold       float64 `yaml:"warm_threshold"`       // Running above, Cooling below
	StopThreshold       float64 `yaml:"stop_threshold"`       // settle requires alpha below this
	DisplacementEpsilon float64 `yaml:"displacement_epsilon"` // and max displacement below this
	ReheatAlpha         float64 `yaml:"reheat_alpha"`         // alpha after a merge or during drag
	InitialJitter       float64 `yaml:"initial_jitter"`       // radius around center/anchor for new nodes
	BarnesHutThreshold  int     `yaml:"barnes_hut_threshold"` // node count above which repulsion is approximated
	Theta               float64 `yaml:"theta"`                // Barnes-Hut opening angle
	Seed                int64   `yaml:"seed"`
	TargetFPS           int     `yaml:"target_fps"`
	MaxTicks            int     `yaml:"max_ticks"` // headless runs give up after this many ticks
}

// InteractionConfig holds gesture policy.
type InteractionConfig struct {
	ExpandKinds  []string      `yaml:"expand_kinds"` // clicking these merges their neighborhood
	RerootKinds  []string      `yaml:"reroot_kinds"` // clicking these selects them as the new root
	StickOnDrop  bool          `yaml:"stick_on_drop"`
	MinZoom      float64       `yaml:"min_zoom"`
	MaxZoom      float64       `yaml:"max_zoom"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// BackendConfig describes the REST backend that serves graph data.
type BackendConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	Backoff            string        `yaml:"backoff"` // exponential, linear, constant
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MaxRootCases       int           `yaml:"max_root_cases"`
	MaxTheoriesPerCase int           `yaml:"max_theories_per_case"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around backend calls.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"` // allowed through while half-open
	Interval            time.Duration `yaml:"interval"`     // closed-state count reset period
	Timeout             time.Duration `yaml:"timeout"`      // open-state duration
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// ServerConfig configures the daemon listeners.
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxSessions    int           `yaml:"max_sessions"`
	GestureRate    float64       `yaml:"gesture_rate"` // gestures per second per session, 0 disables limiting
	GestureBurst   int           `yaml:"gesture_burst"`
}

// Default returns the configuration used when no file is given. The layout
// constants reproduce the original dashboard's force settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Viewport:  ViewportConfig{Width: 800, Height: 500},
		Layout: LayoutConfig{
			Charge:              -200,
			LinkDistance:        80,
			LinkStiffness:       1,
			CenterStrength:      0.05,
			MinDistance:         1,
			CaseRadius:          14,
			NodeRadius:          10,
			CollisionPadding:    10,
			Damping:             0.6,
			CoolingRate:         0.972,
			WarmThreshold:       0.1,
			StopThreshold:       0.001,
			DisplacementEpsilon: 0.5,
			ReheatAlpha:         0.3,
			InitialJitter:       10,
			BarnesHutThreshold:  300,
			Theta:               0.9,
			Seed:                42,
			TargetFPS:           60,
			MaxTicks:            1000,
		},
		Interaction: InteractionConfig{
			ExpandKinds:  []string{"Case"},
			RerootKinds:  []string{"Organization"},
			MinZoom:      0.1,
			MaxZoom:      8,
			FetchTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:            "http://localhost:8000/api/v1",
			Timeout:            10 * time.Second,
			MaxRetries:         2,
			Backoff:            "exponential",
			BaseDelay:          100 * time.Millisecond,
			MaxDelay:           2 * time.Second,
			MaxRootCases:       25,
			MaxTheoriesPerCase: 2,
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":50051",
			StreamInterval: 100 * time.Millisecond,
			AllowedOrigins: []string{"*"},
			MaxSessions:    64,
			GestureRate:    60,
			GestureBurst:   120,
		},
	}
}
