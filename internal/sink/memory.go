package sink

import (
	"sync"

	"github.com/banshee-data/posebridge/internal/posemath"
)

// DefaultHistory is the number of applied transforms Memory retains.
const DefaultHistory = 1024

// Memory is an in-process sink. It is the destination for tests and for
// headless runs where another component polls the latest pose.
type Memory struct {
	mu      sync.Mutex
	pose    posemath.Mat4
	applied uint64
	history []posemath.Mat4
	limit   int
}

// NewMemory returns a sink whose current pose starts at initial.
func NewMemory(initial posemath.Mat4) *Memory {
	return &Memory{pose: initial, limit: DefaultHistory}
}

// Apply records m as the current pose.
func (s *Memory) Apply(m posemath.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = m
	s.applied++
	if len(s.history) >= s.limit {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, m)
	return nil
}

// CurrentPose returns the most recently applied pose.
func (s *Memory) CurrentPose() (posemath.Mat4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, nil
}

// Applied returns the number of Apply calls.
func (s *Memory) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// History returns a copy of the retained applied poses, oldest first.
func (s *Memory) History() []posemath.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]posemath.Mat4(nil), s.history...)
}

// Last returns the newest applied pose, if any.
func (s *Memory) Last() (posemath.Mat4, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return posemath.Mat4{}, false
	}
	return s.history[len(s.history)-1], true
}
