package observability

import (
	"sync/atomic"
	"time"
)

// SweepStats keeps in-process counters for the reset sweeper, served on the
// worker's /statsz endpoint alongside the prometheus series.
type SweepStats struct {
	runs    atomic.Uint64
	failed  atomic.Uint64
	cleared atomic.Uint64

	lastRun     atomic.Int64 // unix nanos
	durationMax atomic.Int64
}

func NewSweepStats() *SweepStats {
	return &SweepStats{}
}

func (s *SweepStats) Record(at time.Time, d time.Duration, cleared int64, err error) {
	s.runs.Add(1)
	s.lastRun.Store(at.UnixNano())

	if err != nil {
		s.failed.Add(1)
	}
	if cleared > 0 {
		s.cleared.Add(uint64(cleared))
	}

	ns := d.Nanoseconds()
	for {
		curr := s.durationMax.Load()

		if ns <= curr {
			return
		}

		if s.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SweepStatsSnapshot struct {
	Runs        uint64        `json:"runs"`
	Failed      uint64        `json:"failed"`
	Cleared     uint64        `json:"cleared"`
	LastRun     *time.Time    `json:"lastRun,omitempty"`
	MaxDuration time.Duration `json:"maxDurationNs"`
}

func (s *SweepStats) Snapshot() SweepStatsSnapshot {
	snap := SweepStatsSnapshot{
		Runs:        s.runs.Load(),
		Failed:      s.failed.Load(),
		Cleared:     s.cleared.Load(),
		MaxDuration: time.Duration(s.durationMax.Load()),
	}

	if ns := s.lastRun.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastRun = &t
	}

	return snap
}
