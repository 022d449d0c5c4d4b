package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/posebridge/internal/smoothing"
)

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Strategy == nil || *cfg.Strategy != "matrix_blend" {
		t.Errorf("Expected Strategy matrix_blend, got %v", cfg.Strategy)
	}
	if cfg.GetStrategy() != smoothing.KindMatrixBlend {
		t.Errorf("GetStrategy() = %v, want matrix_blend", cfg.GetStrategy())
	}
	if cfg.GetMinInterval() != 8*time.Millisecond {
		t.Errorf("GetMinInterval() = %v, want 8ms", cfg.GetMinInterval())
	}
	if cfg.GetTickInterval() != time.Second/60 {
		t.Errorf("GetTickInterval() = %v, want %v", cfg.GetTickInterval(), time.Second/60)
	}
	if !cfg.GetBatchMode() {
		t.Errorf("GetBatchMode() = false, want true")
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptySessionConfig()
	def := DefaultSessionConfig()

	if cfg.GetStrategy() != def.GetStrategy() {
		t.Errorf("GetStrategy() = %v, want %v", cfg.GetStrategy(), def.GetStrategy())
	}
	if cfg.GetAlpha() != DefaultAlpha {
		t.Errorf("GetAlpha() = %v, want %v", cfg.GetAlpha(), DefaultAlpha)
	}
	if cfg.GetFilterAlpha() != 0.85 || cfg.GetFilterBeta() != 0.005 {
		t.Errorf("filter gains = %v/%v, want 0.85/0.005", cfg.GetFilterAlpha(), cfg.GetFilterBeta())
	}
	if cfg.GetTargetFPS() != DefaultTargetFPS {
		t.Errorf("GetTargetFPS() = %d, want %d", cfg.GetTargetFPS(), DefaultTargetFPS)
	}
	if cfg.GetMaxBatchSize() != DefaultMaxBatchSize {
		t.Errorf("GetMaxBatchSize() = %d, want %d", cfg.GetMaxBatchSize(), DefaultMaxBatchSize)
	}
	if got, want := cfg.GetMaxRotationDelta(), 10*math.Pi/180; math.Abs(got-want) > 1e-12 {
		t.Errorf("GetMaxRotationDelta() = %v, want %v", got, want)
	}
	if cfg.GetMaxTranslation() != 1e4 {
		t.Errorf("GetMaxTranslation() = %v, want 1e4", cfg.GetMaxTranslation())
	}
	if !cfg.GetSeedFromSink() {
		t.Errorf("GetSeedFromSink() = false, want true")
	}
	if cfg.GetListenAddr() != ":9000" {
		t.Errorf("GetListenAddr() = %q, want :9000", cfg.GetListenAddr())
	}
	if cfg.GetForwardAddr() != "" {
		t.Errorf("GetForwardAddr() = %q, want empty", cfg.GetForwardAddr())
	}
	if cfg.GetStatsInterval() != 10*time.Second {
		t.Errorf("GetStatsInterval() = %v, want 10s", cfg.GetStatsInterval())
	}
	if cfg.GetRcvBuf() != DefaultRcvBuf {
		t.Errorf("GetRcvBuf() = %d, want %d", cfg.GetRcvBuf(), DefaultRcvBuf)
	}
}

func TestLoadSessionConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "session.json")

	testJSON := `{
  "strategy": "matrix_interp",
  "pos_alpha": 0.3,
  "rot_alpha": 0.9,
  "target_fps": 120,
  "min_interval": "2ms",
  "batch_mode": false,
  "max_rotation_delta_deg": 5,
  "listen_addr": "127.0.0.1:9100"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSessionConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetStrategy() != smoothing.KindSplitInterpolation {
		t.Errorf("GetStrategy() = %v, want split_interp", cfg.GetStrategy())
	}
	p := cfg.SmoothingParams()
	if p.PosAlpha != 0.3 || p.RotAlpha != 0.9 {
		t.Errorf("SmoothingParams() = %+v, want pos 0.3 rot 0.9", p)
	}
	if math.Abs(p.MaxRotationDelta-5*math.Pi/180) > 1e-12 {
		t.Errorf("MaxRotationDelta = %v, want 5 degrees", p.MaxRotationDelta)
	}
	if cfg.GetTickInterval() != time.Second/120 {
		t.Errorf("GetTickInterval() = %v", cfg.GetTickInterval())
	}
	if cfg.GetMinInterval() != 2*time.Millisecond {
		t.Errorf("GetMinInterval() = %v, want 2ms", cfg.GetMinInterval())
	}
	if cfg.GetBatchMode() {
		t.Errorf("GetBatchMode() = true, want false")
	}
	if cfg.GetListenAddr() != "127.0.0.1:9100" {
		t.Errorf("GetListenAddr() = %q", cfg.GetListenAddr())
	}
	// untouched fields keep defaults
	if cfg.GetAlpha() != DefaultAlpha {
		t.Errorf("GetAlpha() = %v, want default", cfg.GetAlpha())
	}
}

func TestLoadSessionConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadSessionConfig(filepath.Join(tmpDir, "session.yaml")); err == nil ||
		!strings.Contains(err.Error(), ".json extension") {
		t.Errorf("expected extension error, got %v", err)
	}
	if _, err := LoadSessionConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := filepath.Join(tmpDir, "big.json")
	if err := os.WriteFile(big, make([]byte, 1024*1024+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSessionConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}

	bad := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"alpha": "high"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSessionConfig(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"empty", `{}`, ""},
		{"unknown strategy", `{"strategy":"spline"}`, "unknown smoothing strategy"},
		{"alpha too high", `{"alpha":1.5}`, "alpha must be between 0 and 1"},
		{"negative rot alpha", `{"rot_alpha":-0.1}`, "rot_alpha"},
		{"negative beta", `{"filter_beta":-1}`, "filter_beta"},
		{"zero fps", `{"target_fps":0}`, "target_fps"},
		{"bad interval", `{"min_interval":"fast"}`, "invalid min_interval"},
		{"negative interval", `{"min_interval":"-1s"}`, "non-negative"},
		{"zero batch", `{"max_batch_size":0}`, "max_batch_size"},
		{"negative delta", `{"max_rotation_delta_deg":-3}`, "max_rotation_delta_deg"},
		{"zero bound", `{"max_translation":0}`, "max_translation"},
		{"bad listen", `{"listen_addr":"9000"}`, "listen_addr"},
		{"bad forward", `{"forward_addr":"nowhere"}`, "forward_addr"},
		{"empty forward ok", `{"forward_addr":""}`, ""},
		{"kalman", `{"strategy":"kalman"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionConfig([]byte(tt.json))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ParseSessionConfig(%s) unexpected error: %v", tt.json, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseSessionConfig(%s) error = %v, want containing %q", tt.json, err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultSessionConfig()
	update := &SessionConfig{Strategy: ptrString("none"), Alpha: ptrFloat64(0.2)}

	merged := base.Merge(update)
	if merged.GetStrategy() != smoothing.KindNone {
		t.Errorf("merged strategy = %v, want none", merged.GetStrategy())
	}
	if merged.GetAlpha() != 0.2 {
		t.Errorf("merged alpha = %v, want 0.2", merged.GetAlpha())
	}
	if merged.GetTargetFPS() != DefaultTargetFPS {
		t.Errorf("merged target fps = %d", merged.GetTargetFPS())
	}
	// base is unchanged
	if base.GetStrategy() != smoothing.KindMatrixBlend {
		t.Errorf("base strategy mutated to %v", base.GetStrategy())
	}
	if base.Merge(nil).GetAlpha() != DefaultAlpha {
		t.Errorf("Merge(nil) changed alpha")
	}
}
