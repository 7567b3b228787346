package strategy

import (
	"github.com/banshee-data/muontrack/internal/muon/builder"
)

// Stats accumulates search counters. One value is filled per event and
// events are summed with Add.
type Stats struct {
	builder.Stats

	Events                 int
	SeedsTried             int
	SeedsSkippedQuality    int
	SeedsSkippedCongestion int
	SeedsSkippedUsed       int
	CandidatesReleased     int
	TracksFound            int
	Timeouts               int

	// PerStrategy counts candidates produced by each strategy before
	// global ambiguity resolution.
	PerStrategy map[string]int
}

// Add accumulates o into s.
func (s *Stats) Add(o *Stats) {
	if o == nil {
		return
	}
	s.Stats.Add(o.Stats)
	s.Events += o.Events
	s.SeedsTried += o.SeedsTried
	s.SeedsSkippedQuality += o.SeedsSkippedQuality
	s.SeedsSkippedCongestion += o.SeedsSkippedCongestion
	s.SeedsSkippedUsed += o.SeedsSkippedUsed
	s.CandidatesReleased += o.CandidatesReleased
	s.TracksFound += o.TracksFound
	s.Timeouts += o.Timeouts
	for k, v := range o.PerStrategy {
		if s.PerStrategy == nil {
			s.PerStrategy = make(map[string]int)
		}
		s.PerStrategy[k] += v
	}
}

func (s *Stats) countStrategy(name string, n int) {
	if s.PerStrategy == nil {
		s.PerStrategy = make(map[string]int)
	}
	s.PerStrategy[name] += n
}
