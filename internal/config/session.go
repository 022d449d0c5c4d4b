package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posebridge/internal/ingest"
	"github.com/banshee-data/posebridge/internal/smoothing"
)

// Defaults for every optional field.
const (
	DefaultStrategy            = "matrix_blend"
	DefaultAlpha               = 0.6
	DefaultPosAlpha            = 0.6
	DefaultRotAlpha            = 0.6
	DefaultTargetFPS           = 60
	DefaultMinInterval         = 8 * time.Millisecond
	DefaultMaxBatchSize        = 32
	DefaultMaxRotationDeltaDeg = 10.0
	DefaultListenAddr          = ":9000"
	DefaultRcvBuf              = 4 << 20
	DefaultStatsInterval       = 10 * time.Second
	maxTargetFPS               = 1000
)

// SessionConfig is the configuration of one receiver session. Fields left
// nil fall back to the defaults reported by the Get* methods, so partial
// configs are safe. The JSON schema is also accepted by the admin config
// route for runtime updates.
type SessionConfig struct {
	Strategy            *string  `json:"strategy,omitempty"`
	Alpha               *float64 `json:"alpha,omitempty"`
	PosAlpha            *float64 `json:"pos_alpha,omitempty"`
	RotAlpha            *float64 `json:"rot_alpha,omitempty"`
	FilterAlpha         *float64 `json:"filter_alpha,omitempty"`
	FilterBeta          *float64 `json:"filter_beta,omitempty"`
	TargetFPS           *int     `json:"target_fps,omitempty"`
	MinInterval         *string  `json:"min_interval,omitempty"` // duration string like "8ms"
	BatchMode           *bool    `json:"batch_mode,omitempty"`
	MaxBatchSize        *int     `json:"max_batch_size,omitempty"`
	MaxRotationDeltaDeg *float64 `json:"max_rotation_delta_deg,omitempty"`
	MaxTranslation      *float64 `json:"max_translation,omitempty"`
	SeedFromSink        *bool    `json:"seed_from_sink,omitempty"`

	// Transport
	ListenAddr    *string `json:"listen_addr,omitempty"`
	RcvBuf        *int    `json:"rcv_buf,omitempty"`
	ForwardAddr   *string `json:"forward_addr,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySessionConfig returns a SessionConfig with every field nil.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// DefaultSessionConfig returns a SessionConfig with every field set to its
// default.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Strategy:            ptrString(DefaultStrategy),
		Alpha:               ptrFloat64(DefaultAlpha),
		PosAlpha:            ptrFloat64(DefaultPosAlpha),
		RotAlpha:            ptrFloat64(DefaultRotAlpha),
		FilterAlpha:         ptrFloat64(smoothing.DefaultFilterAlpha),
		FilterBeta:          ptrFloat64(smoothing.DefaultFilterBeta),
		TargetFPS:           ptrInt(DefaultTargetFPS),
		MinInterval:         ptrString(DefaultMinInterval.String()),
		BatchMode:           ptrBool(true),
		MaxBatchSize:        ptrInt(DefaultMaxBatchSize),
		MaxRotationDeltaDeg: ptrFloat64(DefaultMaxRotationDeltaDeg),
		MaxTranslation:      ptrFloat64(ingest.DefaultMaxTranslation),
		SeedFromSink:        ptrBool(true),
		ListenAddr:          ptrString(DefaultListenAddr),
		RcvBuf:              ptrInt(DefaultRcvBuf),
		StatsInterval:       ptrString(DefaultStatsInterval.String()),
	}
}

// LoadSessionConfig loads a SessionConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSessionConfig(data)
}

// ParseSessionConfig decodes and validates a JSON document.
func ParseSessionConfig(data []byte) (*SessionConfig, error) {
	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge returns a copy of c with every non-nil field of o applied on top.
func (c *SessionConfig) Merge(o *SessionConfig) *SessionConfig {
	out := *c
	if o == nil {
		return &out
	}
	if o.Strategy != nil {
		out.Strategy = o.Strategy
	}
	if o.Alpha != nil {
		out.Alpha = o.Alpha
	}
	if o.PosAlpha != nil {
		out.PosAlpha = o.PosAlpha
	}
	if o.RotAlpha != nil {
		out.RotAlpha = o.RotAlpha
	}
	if o.FilterAlpha != nil {
		out.FilterAlpha = o.FilterAlpha
	}
	if o.FilterBeta != nil {
		out.FilterBeta = o.FilterBeta
	}
	if o.TargetFPS != nil {
		out.TargetFPS = o.TargetFPS
	}
	if o.MinInterval != nil {
		out.MinInterval = o.MinInterval
	}
	if o.BatchMode != nil {
		out.BatchMode = o.BatchMode
	}
	if o.MaxBatchSize != nil {
		out.MaxBatchSize = o.MaxBatchSize
	}
	if o.MaxRotationDeltaDeg != nil {
		out.MaxRotationDeltaDeg = o.MaxRotationDeltaDeg
	}
	if o.MaxTranslation != nil {
		out.MaxTranslation = o.MaxTranslation
	}
	if o.SeedFromSink != nil {
		out.SeedFromSink = o.SeedFromSink
	}
	if o.ListenAddr != nil {
		out.ListenAddr = o.ListenAddr
	}
	if o.RcvBuf != nil {
		out.RcvBuf = o.RcvBuf
	}
	if o.ForwardAddr != nil {
		out.ForwardAddr = o.ForwardAddr
	}
	if o.StatsInterval != nil {
		out.StatsInterval = o.StatsInterval
	}
	return &out
}

func checkUnit(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, *v)
	}
	return nil
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.Strategy != nil {
		if _, err := smoothing.ParseKind(*c.Strategy); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"alpha", c.Alpha},
		{"pos_alpha", c.PosAlpha},
		{"rot_alpha", c.RotAlpha},
		{"filter_alpha", c.FilterAlpha},
	} {
		if err := checkUnit(f.name, f.v); err != nil {
			return err
		}
	}
	if c.FilterBeta != nil && (math.IsNaN(*c.FilterBeta) || *c.FilterBeta < 0) {
		return fmt.Errorf("filter_beta must be non-negative, got %v", *c.FilterBeta)
	}
	if c.TargetFPS != nil && (*c.TargetFPS < 1 || *c.TargetFPS > maxTargetFPS) {
		return fmt.Errorf("target_fps must be between 1 and %d, got %d", maxTargetFPS, *c.TargetFPS)
	}
	if err := checkDuration("min_interval", c.MinInterval); err != nil {
		return err
	}
	if err := checkDuration("stats_interval", c.StatsInterval); err != nil {
		return err
	}
	if c.MaxBatchSize != nil && *c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1, got %d", *c.MaxBatchSize)
	}
	if c.MaxRotationDeltaDeg != nil && (math.IsNaN(*c.MaxRotationDeltaDeg) || *c.MaxRotationDeltaDeg < 0) {
		return fmt.Errorf("max_rotation_delta_deg must be non-negative, got %v", *c.MaxRotationDeltaDeg)
	}
	if c.MaxTranslation != nil && !(*c.MaxTranslation > 0) {
		return fmt.Errorf("max_translation must be positive, got %v", *c.MaxTranslation)
	}
	if c.ListenAddr != nil {
		if _, _, err := net.SplitHostPort(*c.ListenAddr); err != nil {
			return fmt.Errorf("invalid listen_addr %q: %w", *c.ListenAddr, err)
		}
	}
	if c.ForwardAddr != nil && *c.ForwardAddr != "" {
		if _, _, err := net.SplitHostPort(*c.ForwardAddr); err != nil {
			return fmt.Errorf("invalid forward_addr %q: %w", *c.ForwardAddr, err)
		}
	}
	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}
	return nil
}

// GetStrategy returns the configured strategy or the default. An
// unparseable name falls back to the default.
func (c *SessionConfig) GetStrategy() smoothing.Kind {
	name := DefaultStrategy
	if c.Strategy != nil {
		name = *c.Strategy
	}
	k, err := smoothing.ParseKind(name)
	if err != nil {
		k, _ = smoothing.ParseKind(DefaultStrategy)
	}
	return k
}

// GetAlpha returns the alpha value or the default.
func (c *SessionConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return DefaultAlpha
	}
	return *c.Alpha
}

// GetPosAlpha returns the pos_alpha value or the default.
func (c *SessionConfig) GetPosAlpha() float64 {
	if c.PosAlpha == nil {
		return DefaultPosAlpha
	}
	return *c.PosAlpha
}

// GetRotAlpha returns the rot_alpha value or the default.
func (c *SessionConfig) GetRotAlpha() float64 {
	if c.RotAlpha == nil {
		return DefaultRotAlpha
	}
	return *c.RotAlpha
}

// GetFilterAlpha returns the filter_alpha value or the default.
func (c *SessionConfig) GetFilterAlpha() float64 {
	if c.FilterAlpha == nil {
		return smoothing.DefaultFilterAlpha
	}
	return *c.FilterAlpha
}

// GetFilterBeta returns the filter_beta value or the default.
func (c *SessionConfig) GetFilterBeta() float64 {
	if c.FilterBeta == nil {
		return smoothing.DefaultFilterBeta
	}
	return *c.FilterBeta
}

// GetTargetFPS returns the target_fps value or the default.
func (c *SessionConfig) GetTargetFPS() int {
	if c.TargetFPS == nil || *c.TargetFPS < 1 {
		return DefaultTargetFPS
	}
	return *c.TargetFPS
}

// GetTickInterval is the scheduler period derived from target_fps.
func (c *SessionConfig) GetTickInterval() time.Duration {
	return time.Second / time.Duration(c.GetTargetFPS())
}

// GetMinInterval parses and returns the MinInterval as a time.Duration.
func (c *SessionConfig) GetMinInterval() time.Duration {
	if c.MinInterval == nil || *c.MinInterval == "" {
		return DefaultMinInterval
	}
	d, err := time.ParseDuration(*c.MinInterval)
	if err != nil || d < 0 {
		return DefaultMinInterval // default on parse error
	}
	return d
}

// GetBatchMode returns the batch_mode value or the default.
func (c *SessionConfig) GetBatchMode() bool {
	if c.BatchMode == nil {
		return true
	}
	return *c.BatchMode
}

// GetMaxBatchSize returns the max_batch_size value or the default.
func (c *SessionConfig) GetMaxBatchSize() int {
	if c.MaxBatchSize == nil || *c.MaxBatchSize < 1 {
		return DefaultMaxBatchSize
	}
	return *c.MaxBatchSize
}

// GetMaxRotationDelta returns max_rotation_delta_deg in radians.
func (c *SessionConfig) GetMaxRotationDelta() float64 {
	deg := DefaultMaxRotationDeltaDeg
	if c.MaxRotationDeltaDeg != nil {
		deg = *c.MaxRotationDeltaDeg
	}
	return deg * math.Pi / 180
}

// GetMaxTranslation returns the max_translation value or the default.
func (c *SessionConfig) GetMaxTranslation() float64 {
	if c.MaxTranslation == nil || !(*c.MaxTranslation > 0) {
		return ingest.DefaultMaxTranslation
	}
	return *c.MaxTranslation
}

// GetSeedFromSink returns the seed_from_sink value or the default.
func (c *SessionConfig) GetSeedFromSink() bool {
	if c.SeedFromSink == nil {
		return true
	}
	return *c.SeedFromSink
}

// GetListenAddr returns the listen_addr value or the default.
func (c *SessionConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return *c.ListenAddr
}

// GetRcvBuf returns the rcv_buf value or the default.
func (c *SessionConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetForwardAddr returns the forward_addr value; empty disables forwarding.
func (c *SessionConfig) GetForwardAddr() string {
	if c.ForwardAddr == nil {
		return ""
	}
	return *c.ForwardAddr
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *SessionConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return DefaultStatsInterval
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d < 0 {
		return DefaultStatsInterval // default on parse error
	}
	return d
}

// SmoothingParams collects the coefficients the strategies read per call.
func (c *SessionConfig) SmoothingParams() smoothing.Params {
	return smoothing.Params{
		Alpha:            c.GetAlpha(),
		PosAlpha:         c.GetPosAlpha(),
		RotAlpha:         c.GetRotAlpha(),
		MaxRotationDelta: c.GetMaxRotationDelta(),
		FilterAlpha:      c.GetFilterAlpha(),
		FilterBeta:       c.GetFilterBeta(),
	}
}
