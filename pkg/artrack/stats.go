package artrack

import (
	"sync"
	"time"
)

// Stats is a snapshot of the engine's rolling per-call timing means, in
// milliseconds.
type Stats struct {
	DetectionMs float64
	TrackingMs  float64
	TotalMs     float64
	FramesSeen  uint64
}

// rollingStats accumulates an incremental (Welford-style) mean of each
// timing so Stats() never has to retain per-frame history.
type rollingStats struct {
	mu sync.Mutex

	frames      uint64
	detectionMs float64
	trackingMs  float64
	totalMs     float64
}

func (s *rollingStats) record(detection, tracking, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	n := float64(s.frames)
	s.detectionMs += (detection.Seconds()*1000 - s.detectionMs) / n
	s.trackingMs += (tracking.Seconds()*1000 - s.trackingMs) / n
	s.totalMs += (total.Seconds()*1000 - s.totalMs) / n
}

func (s *rollingStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		DetectionMs: s.detectionMs,
		TrackingMs:  s.trackingMs,
		TotalMs:     s.totalMs,
		FramesSeen:  s.frames,
	}
}

func (s *rollingStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = 0
	s.detectionMs = 0
	s.trackingMs = 0
	s.totalMs = 0
}

// DebugCounters exposes internal invocation counts for the testable
// property that homography estimation runs on at most maxCandidates
// targets per frame.
type DebugCounters struct {
	HomographyInvocations int64
	CandidatesConsidered  int64
	// PoolAllocations is not updated by the Engine and always reads 0.
	PoolAllocations int64
}
