package ingest

import (
	"errors"
	"time"

	"github.com/banshee-data/posebridge/internal/posemath"
)

// ErrEmptyBatch is returned by BatchAverage for an empty input.
var ErrEmptyBatch = errors.New("empty batch")

// Admitted is the outcome of one receive cycle.
type Admitted struct {
	// Samples are forwarded to the smoothing stage in order.
	Samples  []Sample
	Received int
	Dropped  int
	// Batches counts representatives produced by averaging.
	Batches int
}

// BatchPolicy is the admission policy for one receive cycle. Callers take it
// from the same configuration snapshot they validated the cycle with.
type BatchPolicy struct {
	// Enabled averages cycles of two or more samples.
	Enabled bool
	// MaxBatch bounds the size of one averaged group.
	MaxBatch int
	// MinInterval is the per-packet limiter window.
	MinInterval time.Duration
}

// Batcher applies the per-packet limiter or the batch policy to the samples
// validated in one receive cycle.
type Batcher struct {
	limiter *RateLimiter
}

// NewBatcher wraps limiter. A nil limiter admits every single sample.
func NewBatcher(limiter *RateLimiter) *Batcher {
	return &Batcher{limiter: limiter}
}

// Limiter returns the underlying per-packet limiter.
func (b *Batcher) Limiter() *RateLimiter { return b.limiter }

// Admit decides which of samples move on under policy. With batching
// enabled, cycles of two or more samples are averaged in groups of at most
// policy.MaxBatch and bypass the limiter.
func (b *Batcher) Admit(samples []Sample, policy BatchPolicy) Admitted {
	maxBatch := max(policy.MaxBatch, 1)

	var out Admitted
	if !policy.Enabled || len(samples) < 2 {
		for _, s := range samples {
			b.limit(s, policy.MinInterval, &out)
		}
		return out
	}

	for start := 0; start < len(samples); start += maxBatch {
		end := min(start+maxBatch, len(samples))
		group := samples[start:end]
		if len(group) == 1 {
			b.limit(group[0], policy.MinInterval, &out)
			continue
		}
		avg, err := BatchAverage(group)
		if err != nil {
			continue
		}
		out.Samples = append(out.Samples, avg)
		out.Received += len(group)
		out.Batches++
	}
	return out
}

func (b *Batcher) limit(s Sample, interval time.Duration, out *Admitted) {
	if b.limiter == nil || b.limiter.AllowEvery(interval) {
		out.Samples = append(out.Samples, s)
		out.Received++
		return
	}
	out.Dropped++
}

// SumAligned returns the unnormalised sum of qs, flipping each quaternion
// after the first into the hemisphere of the running sum.
func SumAligned(qs []posemath.Quaternion) posemath.Quaternion {
	if len(qs) == 0 {
		return posemath.Quaternion{}
	}
	sum := qs[0]
	for _, q := range qs[1:] {
		sum = sum.Add(q.Aligned(sum))
	}
	return sum
}

// BatchAverage reduces samples to one representative: mean translation and
// the normalised sign-aligned quaternion sum. The result carries the arrival
// time of the newest sample.
func BatchAverage(samples []Sample) (Sample, error) {
	if len(samples) == 0 {
		return Sample{}, ErrEmptyBatch
	}

	var tx, ty, tz float64
	qs := make([]posemath.Quaternion, len(samples))
	at := samples[0].At
	for i, s := range samples {
		x, y, z := s.Matrix.Translation()
		tx += x
		ty += y
		tz += z
		qs[i] = posemath.MatrixToQuaternion(s.Matrix)
		if s.At.After(at) {
			at = s.At
		}
	}
	n := float64(len(samples))
	q := SumAligned(qs).Normalize()
	m := posemath.QuaternionToMatrix(q).WithTranslation(tx/n, ty/n, tz/n)
	return Sample{Matrix: m, At: at}, nil
}
