// Package calibration maintains the rigid offset composed with every output
// pose so the sensor frame lines up with the destination frame.
package calibration

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/posemath"
)

var (
	// ErrSingular is returned when the incoming sample cannot be inverted.
	ErrSingular = posemath.ErrSingular
	// ErrNoDesiredPose is returned when no pending target is stored and no
	// pose source is available to supply one.
	ErrNoDesiredPose = errors.New("no desired pose for calibration")
)

var logf = monitoring.Component("calibration")

// PoseSource reports the destination's current pose. Transform sinks
// implement it.
type PoseSource interface {
	CurrentPose() (posemath.Mat4, error)
}

// Engine holds the live calibration and an optional pending desired pose.
// It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	source  PoseSource
	calib   posemath.Mat4
	pending *posemath.Mat4
}

// NewEngine returns an engine with identity calibration. source may be nil.
func NewEngine(source PoseSource) *Engine {
	return &Engine{source: source, calib: posemath.Identity()}
}

// Request stores desired as the pending target for the next
// CalibrateFromIncoming. The live calibration is not touched.
func (e *Engine) Request(desired posemath.Mat4) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := desired
	e.pending = &d
}

// RequestFromSink stores the pose source's current pose as the pending
// target.
func (e *Engine) RequestFromSink() error {
	if e.source == nil {
		return ErrNoDesiredPose
	}
	m, err := e.source.CurrentPose()
	if err != nil {
		return fmt.Errorf("read current pose: %w", err)
	}
	e.Request(m)
	logf("Calibration target saved; send a calib sample in the reference pose")
	return nil
}

// Pending returns the pending desired pose, if any.
func (e *Engine) Pending() (posemath.Mat4, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return posemath.Mat4{}, false
	}
	return *e.pending, true
}

// CalibrateFromIncoming computes desired ∘ inverse(sample) and makes it the
// live calibration. desired is the pending target, which is consumed, or the
// source's current pose. On failure neither the live calibration nor the
// pending target changes.
func (e *Engine) CalibrateFromIncoming(sample posemath.Mat4) (posemath.Mat4, error) {
	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()

	var desired posemath.Mat4
	switch {
	case pending != nil:
		desired = *pending
	case e.source != nil:
		m, err := e.source.CurrentPose()
		if err != nil {
			return posemath.Mat4{}, fmt.Errorf("read current pose: %w", err)
		}
		desired = m
	default:
		return posemath.Mat4{}, ErrNoDesiredPose
	}

	inv, err := sample.Inverse()
	if err != nil {
		return posemath.Mat4{}, fmt.Errorf("calibrate from incoming: %w", err)
	}
	c := desired.Mul(inv)

	e.mu.Lock()
	e.calib = c
	// only clear the pending target we used; a newer Request survives
	if pending != nil && e.pending == pending {
		e.pending = nil
	}
	e.mu.Unlock()

	logf("Calibration computed")
	return c, nil
}

// Reset sets the calibration to identity. A pending target survives, so a
// reset between Request and the calib sample does not lose the request.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calib = posemath.Identity()
}

// Clear sets the calibration to identity and drops any pending target.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calib = posemath.Identity()
	e.pending = nil
}

// Current returns the live calibration.
func (e *Engine) Current() posemath.Mat4 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calib
}

// Apply returns calibration ∘ m. With identity calibration m is returned
// unchanged.
func (e *Engine) Apply(m posemath.Mat4) posemath.Mat4 {
	c := e.Current()
	if c.IsIdentity() {
		return m
	}
	return c.Mul(m)
}
