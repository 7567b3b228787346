package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/muontrack/internal/muon/strategy"
)

// Metrics exports search statistics as prometheus counters. Record is
// given the statistics of one event at a time.
type Metrics struct {
	registry *prometheus.Registry

	events        prometheus.Counter
	timeouts      prometheus.Counter
	tracks        prometheus.Counter
	seeds         *prometheus.CounterVec
	combinations  *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	perStrategy   *prometheus.CounterVec
	eventDuration prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muontrack_events_total",
			Help: "Events processed",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muontrack_event_timeouts_total",
			Help: "Events whose search exceeded the time budget",
		}),
		tracks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muontrack_tracks_total",
			Help: "Final tracks produced",
		}),
		seeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muontrack_seeds_total",
			Help: "Seed segments by outcome",
		}, []string{"outcome"}),
		combinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muontrack_combinations_total",
			Help: "Combination attempts by outcome",
		}, []string{"outcome"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muontrack_candidates_total",
			Help: "Track candidates by lifecycle step",
		}, []string{"step"}),
		perStrategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muontrack_strategy_candidates_total",
			Help: "Candidates found per strategy before global ambiguity resolution",
		}, []string{"strategy"}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muontrack_event_duration_seconds",
			Help:    "Wall time of the search per event",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	m.registry.MustRegister(m.events, m.timeouts, m.tracks, m.seeds, m.combinations,
		m.candidates, m.perStrategy, m.eventDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Record adds the statistics of one event.
func (m *Metrics) Record(s *strategy.Stats, elapsed time.Duration) {
	if s == nil {
		return
	}
	m.events.Add(float64(s.Events))
	m.timeouts.Add(float64(s.Timeouts))
	m.tracks.Add(float64(s.TracksFound))

	add := func(v *prometheus.CounterVec, label string, n int) {
		if n > 0 {
			v.WithLabelValues(label).Add(float64(n))
		}
	}
	add(m.seeds, "tried", s.SeedsTried)
	add(m.seeds, "skipped_quality", s.SeedsSkippedQuality)
	add(m.seeds, "skipped_congestion", s.SeedsSkippedCongestion)
	add(m.seeds, "skipped_used", s.SeedsSkippedUsed)

	add(m.combinations, "attempted", s.CombineAttempts)
	add(m.combinations, "match_rejected", s.MatchRejections)
	add(m.combinations, "exclusion_veto", s.ExclusionVetoes)
	add(m.combinations, "history_veto", s.HistoryVetoes)
	add(m.combinations, "fit_failed", s.FitFailures)
	add(m.combinations, "clean_failed", s.CleanFailures)

	add(m.candidates, "produced", s.CandidatesProduced)
	add(m.candidates, "released", s.CandidatesReleased)
	add(m.candidates, "overlap_recovered", s.OverlapsRecovered)
	add(m.candidates, "refined", s.Refined)
	add(m.candidates, "merged", s.Merged)
	add(m.candidates, "split", s.Split)

	for name, n := range s.PerStrategy {
		m.perStrategy.WithLabelValues(name).Add(float64(n))
	}
	m.eventDuration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
