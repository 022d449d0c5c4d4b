// Package smoothing implements the per-session pose smoothing and prediction
// strategies.
//
// Strategies are stateful and not safe for concurrent use; the session
// serialises all calls under its pose lock.
package smoothing

import (
	"fmt"
	"math"

	"github.com/banshee-data/posebridge/internal/ingest"
	"github.com/banshee-data/posebridge/internal/posemath"
)

// Params are the coefficients read from the active configuration snapshot
// on each Produce call.
type Params struct {
	// Alpha weights the new target in matrix blending and the rotation
	// slerp of the alpha-beta strategies.
	Alpha float64
	// PosAlpha and RotAlpha drive split interpolation.
	PosAlpha float64
	RotAlpha float64
	// MaxRotationDelta caps the per-tick rotation in radians. Zero
	// disables the cap.
	MaxRotationDelta float64
	FilterAlpha      float64
	FilterBeta       float64
}

// DefaultParams returns the coefficients used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Alpha:            0.6,
		PosAlpha:         0.6,
		RotAlpha:         0.6,
		MaxRotationDelta: 10 * math.Pi / 180,
		FilterAlpha:      DefaultFilterAlpha,
		FilterBeta:       DefaultFilterBeta,
	}
}

// Strategy turns a stream of targets into output poses.
type Strategy interface {
	Kind() Kind
	// Produce returns the next output for target.
	Produce(target ingest.Sample, p Params) posemath.Mat4
	// Reset clears all strategy-local state. A non-nil seed becomes the
	// prior output so the first Produce does not jump.
	Reset(seed *posemath.Mat4)
}

// New returns a fresh strategy for k.
func New(k Kind) (Strategy, error) {
	switch k {
	case KindNone:
		return &passThrough{}, nil
	case KindMatrixBlend:
		return &matrixBlend{}, nil
	case KindSplitInterpolation:
		return &splitInterpolation{}, nil
	case KindAlphaBeta, KindKalman:
		return newAlphaBeta(k), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
}

// MustNew is New for kinds known to be valid.
func MustNew(k Kind) Strategy {
	s, err := New(k)
	if err != nil {
		panic(err)
	}
	return s
}

type passThrough struct{}

func (*passThrough) Kind() Kind { return KindNone }

func (*passThrough) Produce(target ingest.Sample, _ Params) posemath.Mat4 {
	return target.Matrix
}

func (*passThrough) Reset(*posemath.Mat4) {}

// matrixBlend lerps all sixteen entries toward the target and then restores
// an orthogonal rotation block whose column scales are blended the same way.
type matrixBlend struct {
	last   posemath.Mat4
	primed bool
}

func (*matrixBlend) Kind() Kind { return KindMatrixBlend }

func (b *matrixBlend) Produce(target ingest.Sample, p Params) posemath.Mat4 {
	if !b.primed {
		b.last = target.Matrix
		b.primed = true
		return b.last
	}
	a := p.Alpha
	prev := b.last.ColumnScales()
	next := target.Matrix.ColumnScales()
	var scales [3]float64
	for i := range scales {
		scales[i] = prev[i]*(1-a) + next[i]*a
	}
	b.last = posemath.Lerp(b.last, target.Matrix, a).OrthonormalizeScaled(scales)
	return b.last
}

func (b *matrixBlend) Reset(seed *posemath.Mat4) {
	b.primed = seed != nil
	if seed != nil {
		b.last = *seed
	}
}

// splitInterpolation moves translation and rotation toward the target
// independently, with the rotation step capped per tick.
type splitInterpolation struct {
	last     posemath.Mat4
	lastQuat posemath.Quaternion
	primed   bool
}

func (*splitInterpolation) Kind() Kind { return KindSplitInterpolation }

func (s *splitInterpolation) Produce(target ingest.Sample, p Params) posemath.Mat4 {
	if !s.primed {
		s.Reset(&target.Matrix)
		return s.last
	}

	px, py, pz := s.last.Translation()
	tx, ty, tz := target.Matrix.Translation()
	a := p.PosAlpha
	x := px + (tx-px)*a
	y := py + (ty-py)*a
	z := pz + (tz-pz)*a

	qt := posemath.MatrixToQuaternion(target.Matrix)
	frac := EffectiveRotationFraction(s.lastQuat, qt, p.RotAlpha, p.MaxRotationDelta)
	s.lastQuat = posemath.Slerp(s.lastQuat, qt, frac)
	s.last = posemath.QuaternionToMatrix(s.lastQuat).WithTranslation(x, y, z)
	return s.last
}

func (s *splitInterpolation) Reset(seed *posemath.Mat4) {
	s.primed = seed != nil
	if seed != nil {
		s.last = *seed
		s.lastQuat = posemath.MatrixToQuaternion(*seed)
	}
}

// EffectiveRotationFraction returns the slerp fraction for one step from
// prior toward target. When the separating angle exceeds maxDelta the
// fraction is scaled by maxDelta/angle so the step never rotates by more
// than maxDelta. A non-positive maxDelta disables the cap.
func EffectiveRotationFraction(prior, target posemath.Quaternion, rotAlpha, maxDelta float64) float64 {
	if maxDelta <= 0 {
		return rotAlpha
	}
	theta := posemath.AngleBetween(prior, target)
	if theta > maxDelta {
		return rotAlpha * maxDelta / theta
	}
	return rotAlpha
}

// alphaBeta runs one AlphaBetaFilter per translation axis and slerps the
// rotation by Params.Alpha.
type alphaBeta struct {
	kind     Kind
	axes     [3]*AlphaBetaFilter
	lastQuat posemath.Quaternion
	hasQuat  bool
}

func newAlphaBeta(k Kind) *alphaBeta {
	s := &alphaBeta{kind: k}
	for i := range s.axes {
		s.axes[i] = NewAlphaBetaFilter(DefaultFilterAlpha, DefaultFilterBeta)
	}
	return s
}

func (s *alphaBeta) Kind() Kind { return s.kind }

func (s *alphaBeta) Produce(target ingest.Sample, p Params) posemath.Mat4 {
	tx, ty, tz := target.Matrix.Translation()
	var out [3]float64
	for i, meas := range [3]float64{tx, ty, tz} {
		f := s.axes[i]
		f.Alpha, f.Beta = p.FilterAlpha, p.FilterBeta
		out[i] = f.Update(meas, target.At)
	}

	q := posemath.MatrixToQuaternion(target.Matrix)
	if s.hasQuat {
		q = posemath.Slerp(s.lastQuat, q, p.Alpha)
	}
	s.lastQuat = q
	s.hasQuat = true

	return posemath.QuaternionToMatrix(q).WithTranslation(out[0], out[1], out[2])
}

func (s *alphaBeta) Reset(seed *posemath.Mat4) {
	var t [3]float64
	if seed != nil {
		t[0], t[1], t[2] = seed.Translation()
	}
	for i, f := range s.axes {
		f.Reset(t[i])
	}
	s.hasQuat = seed != nil
	if seed != nil {
		s.lastQuat = posemath.MatrixToQuaternion(*seed)
	}
}
