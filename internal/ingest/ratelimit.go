package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/posebridge/internal/timeutil"
)

// RateLimiter rejects samples that arrive sooner than minInterval after the
// last accepted one. It is a token bucket of size one driven by the injected
// clock, so rejected samples do not push the window forward.
type RateLimiter struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	interval time.Duration
	limiter  *rate.Limiter
}

// NewRateLimiter creates a limiter. A zero interval admits everything.
func NewRateLimiter(minInterval time.Duration, clock timeutil.Clock) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &RateLimiter{clock: clock}
	r.SetInterval(minInterval)
	return r
}

// SetInterval changes the minimum interval and starts a fresh window.
func (r *RateLimiter) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setIntervalLocked(d)
}

func (r *RateLimiter) setIntervalLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.interval = d
	r.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Interval returns the configured minimum interval.
func (r *RateLimiter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Allow reports whether a sample arriving now may pass.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allowLocked()
}

// AllowEvery is Allow with the window set to d first. A changed d starts a
// fresh window, as SetInterval does.
func (r *RateLimiter) AllowEvery(d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d != r.interval {
		r.setIntervalLocked(d)
	}
	return r.allowLocked()
}

func (r *RateLimiter) allowLocked() bool {
	if r.interval == 0 {
		return true
	}
	return r.limiter.AllowN(r.clock.Now(), 1)
}
