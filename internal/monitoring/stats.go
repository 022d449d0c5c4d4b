package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatsSnapshot is a point-in-time copy of the session counters.
type StatsSnapshot struct {
	Packets   uint64        `json:"packets"`
	Bytes     uint64        `json:"bytes"`
	Received  uint64        `json:"received"`
	Dropped   uint64        `json:"dropped"`
	Malformed uint64        `json:"malformed"`
	Batches   uint64        `json:"batches"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// DropRate is dropped / (received + dropped). Malformed payloads are not
// part of either term.
func (s StatsSnapshot) DropRate() float64 {
	total := s.Received + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(total)
}

// SessionStats holds the monotonically increasing counters of one session.
// All methods are safe for concurrent use. Counters are advisory only.
type SessionStats struct {
	packets   atomic.Uint64
	bytes     atomic.Uint64
	received  atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
	batches   atomic.Uint64

	mu        sync.Mutex
	startedAt time.Time

	// interval bookkeeping for LogStats
	lastLogAt       time.Time
	lastLogReceived uint64
	lastLogDropped  uint64
}

// NewSessionStats returns zeroed counters.
func NewSessionStats() *SessionStats {
	s := &SessionStats{}
	s.Reset()
	return s
}

// AddPacket counts one raw datagram of the given size.
func (s *SessionStats) AddPacket(bytes int) {
	s.packets.Add(1)
	s.bytes.Add(uint64(bytes))
}

// AddReceived counts n validated samples accepted into the pipeline.
func (s *SessionStats) AddReceived(n int) {
	s.received.Add(uint64(n))
}

// AddDropped counts one validated-but-rejected sample.
func (s *SessionStats) AddDropped() {
	s.dropped.Add(1)
}

// AddMalformed counts one undecodable payload.
func (s *SessionStats) AddMalformed() {
	s.malformed.Add(1)
}

// AddBatch counts one batch-averaged receive cycle.
func (s *SessionStats) AddBatch() {
	s.batches.Add(1)
}

// Reset zeroes every counter. Called when a session starts.
func (s *SessionStats) Reset() {
	s.packets.Store(0)
	s.bytes.Store(0)
	s.received.Store(0)
	s.dropped.Store(0)
	s.malformed.Store(0)
	s.batches.Store(0)

	s.mu.Lock()
	now := time.Now()
	s.startedAt = now
	s.lastLogAt = now
	s.lastLogReceived = 0
	s.lastLogDropped = 0
	s.mu.Unlock()
}

// Snapshot returns the current counter values.
func (s *SessionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	return StatsSnapshot{
		Packets:   s.packets.Load(),
		Bytes:     s.bytes.Load(),
		Received:  s.received.Load(),
		Dropped:   s.dropped.Load(),
		Malformed: s.malformed.Load(),
		Batches:   s.batches.Load(),
		Uptime:    time.Since(started),
	}
}

// LogStats logs per-second rates since the previous call.
func (s *SessionStats) LogStats() {
	snap := s.Snapshot()

	s.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(s.lastLogAt).Seconds()
	received := snap.Received - s.lastLogReceived
	dropped := snap.Dropped - s.lastLogDropped
	s.lastLogAt = now
	s.lastLogReceived = snap.Received
	s.lastLogDropped = snap.Dropped
	s.mu.Unlock()

	if elapsed <= 0 || (received == 0 && dropped == 0) {
		return
	}
	Logf("Pose stats (/sec): %.1f received, %.1f dropped (session drop rate %.3f, %d malformed)",
		float64(received)/elapsed, float64(dropped)/elapsed, snap.DropRate(), snap.Malformed)
}
