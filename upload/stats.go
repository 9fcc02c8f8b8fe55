package upload

import (
	"sync"
	"time"
)

// StepStats is the aggregate of one protocol step.
type StepStats struct {
	Requests int64
	Total    time.Duration
}

// Average returns the mean request duration.
func (s StepStats) Average() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Requests)
}

// Stats tracks request counts, durations and transferred bytes per step.
type Stats struct {
	steps         map[Step]*StepStats
	bytesAccepted int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{steps: map[Step]*StepStats{}}
}

// Update records one finished request of the given step.
func (s *Stats) Update(step Step, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[step]
	if !ok {
		st = &StepStats{}
		s.steps[step] = st
	}
	st.Requests++
	st.Total += d
}

// AddAccepted records bytes the server confirmed.
func (s *Stats) AddAccepted(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesAccepted += n
}

// Step returns the aggregate of one step.
func (s *Stats) Step(step Step) StepStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.steps[step]; ok {
		return *st
	}
	return StepStats{}
}

// BytesAccepted returns the number of bytes the server confirmed across all sessions.
func (s *Stats) BytesAccepted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesAccepted
}
