package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/posebridge/internal/posemath"
)

// DefaultMaxTranslation is the translation norm above which a sample is
// rejected unless configured otherwise.
const DefaultMaxTranslation = 1e4

// Validation failures. All of them count as dropped samples.
var (
	ErrMatrixLength     = errors.New("matrix must have 16 values")
	ErrNonFinite        = errors.New("matrix contains non-finite values")
	ErrTranslationBound = errors.New("translation exceeds bound")
)

// Sample is a validated pose with its arrival time. It is read-only once
// produced.
type Sample struct {
	Matrix posemath.Mat4
	At     time.Time
}

// Validator checks raw matrices against structural and range constraints.
type Validator struct {
	MaxTranslation float64
}

// NewValidator returns a Validator bounding translation by maxTranslation.
// Non-positive values select DefaultMaxTranslation.
func NewValidator(maxTranslation float64) *Validator {
	if maxTranslation <= 0 {
		maxTranslation = DefaultMaxTranslation
	}
	return &Validator{MaxTranslation: maxTranslation}
}

// Validate turns values into a Sample stamped with at.
func (v *Validator) Validate(values []float64, at time.Time) (Sample, error) {
	if len(values) != 16 {
		return Sample{}, fmt.Errorf("%w: got %d", ErrMatrixLength, len(values))
	}
	for i, f := range values {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Sample{}, fmt.Errorf("%w: index %d", ErrNonFinite, i)
		}
	}
	m, err := posemath.FromSlice(values)
	if err != nil {
		return Sample{}, err
	}
	bound := v.MaxTranslation
	if bound <= 0 {
		bound = DefaultMaxTranslation
	}
	if n := m.TranslationNorm(); n > bound {
		return Sample{}, fmt.Errorf("%w: |t|=%g > %g", ErrTranslationBound, n, bound)
	}
	return Sample{Matrix: m, At: at}, nil
}

// IsRejection reports whether err is one of the validation failures that
// count as a dropped sample.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMatrixLength) ||
		errors.Is(err, ErrNonFinite) ||
		errors.Is(err, ErrTranslationBound)
}
