package smoothing

import "time"

// Default alpha-beta gains.
const (
	DefaultFilterAlpha = 0.85
	DefaultFilterBeta  = 0.005
)

const minFilterStep = time.Microsecond

// AlphaBetaFilter tracks a scalar's position and velocity. It is a
// lightweight stand-in for a Kalman filter without covariance tracking.
type AlphaBetaFilter struct {
	Alpha float64
	Beta  float64

	x, v   float64
	last   time.Time
	seeded bool
}

// NewAlphaBetaFilter returns an unseeded filter with the given gains.
func NewAlphaBetaFilter(alpha, beta float64) *AlphaBetaFilter {
	return &AlphaBetaFilter{Alpha: alpha, Beta: beta}
}

// Reset sets the position estimate to value and clears velocity. The next
// Update reseeds from its measurement.
func (f *AlphaBetaFilter) Reset(value float64) {
	f.x = value
	f.v = 0
	f.last = time.Time{}
	f.seeded = false
}

// Update folds in a measurement taken at t and returns the new position.
func (f *AlphaBetaFilter) Update(meas float64, t time.Time) float64 {
	if !f.seeded {
		f.x = meas
		f.v = 0
		f.last = t
		f.seeded = true
		return f.x
	}

	dt := t.Sub(f.last)
	if dt < minFilterStep {
		dt = minFilterStep
	}
	f.last = t
	secs := dt.Seconds()

	f.x += f.v * secs
	r := meas - f.x
	f.x += f.Alpha * r
	f.v += f.Beta * r / secs
	return f.x
}

// Position returns the current position estimate.
func (f *AlphaBetaFilter) Position() float64 { return f.x }

// Velocity returns the current velocity estimate in units per second.
func (f *AlphaBetaFilter) Velocity() float64 { return f.v }
