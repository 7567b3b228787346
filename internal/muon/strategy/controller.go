// Package strategy drives the track search: it walks the configured
// strategies, seeds on the best segments and extends them layer by layer
// through the track builder.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/ambiguity"
	"github.com/banshee-data/muontrack/internal/muon/builder"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
	"github.com/banshee-data/muontrack/internal/muon/matching"
	"github.com/banshee-data/muontrack/internal/timeutil"
)

var (
	// ErrMissingService is returned when a required collaborator is nil.
	ErrMissingService = errors.New("strategy: required service missing")
	// ErrNoStrategies is returned when no strategy is configured.
	ErrNoStrategies = errors.New("strategy: no strategies configured")
)

// Config holds the search cuts and toggles.
type Config struct {
	Strategies []Strategy

	SeedQualityCut          int
	SecondSegmentQualityCut int
	OtherSegmentQualityCut  int
	SeedQualityMargin       int
	CongestionThreshold     int
	CongestionAngle         float64

	TightMatching       bool
	DynamicSeeding      bool
	CombineInStation    bool
	AmbiguitySolving    bool
	Refinement          bool
	Cosmics             bool
	SingleStationTracks bool

	EventTimeBudget time.Duration
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. It fails
// when a strategy string does not parse.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	strategies, err := ParseAll(cfg.GetStrategies())
	if err != nil {
		return Config{}, fmt.Errorf("parse strategies: %w", err)
	}
	return Config{
		Strategies:              strategies,
		SeedQualityCut:          cfg.GetSeedQualityCut(),
		SecondSegmentQualityCut: cfg.GetSecondSegmentQualityCut(),
		OtherSegmentQualityCut:  cfg.GetOtherSegmentQualityCut(),
		SeedQualityMargin:       cfg.GetSeedQualityMargin(),
		CongestionThreshold:     cfg.GetCongestionThreshold(),
		CongestionAngle:         cfg.GetCongestionAngle(),
		TightMatching:           cfg.GetTightMatching(),
		DynamicSeeding:          cfg.GetDynamicSeeding(),
		CombineInStation:        cfg.GetCombineInStation(),
		AmbiguitySolving:        cfg.GetAmbiguitySolving(),
		Refinement:              cfg.GetRefinement(),
		Cosmics:                 cfg.GetCosmics(),
		SingleStationTracks:     cfg.GetSingleStationTracks(),
		EventTimeBudget:         cfg.GetEventTimeBudget(),
	}, nil
}

// Services are the collaborators of the controller. Fitter and Matcher
// are required. Builder services are shared by all events; a nil hole
// recovery is replaced per event by a pool over the event's hits.
type Services struct {
	Fitter          *fitter.Fitter
	Matcher         *matching.Engine
	Builder         builder.Config
	BuilderServices builder.Services
	Solver          ambiguity.Solver
	// Clock measures the event time budget; nil means the wall clock.
	Clock timeutil.Clock
}

// Controller runs the search for one event at a time. It holds no
// per-event state, so one Controller may serve concurrent events.
type Controller struct {
	cfg Config
	svc Services
}

// NewController validates the configuration and services.
func NewController(cfg Config, svc Services) (*Controller, error) {
	if svc.Fitter == nil {
		return nil, fmt.Errorf("fitter: %w", ErrMissingService)
	}
	if svc.Matcher == nil {
		return nil, fmt.Errorf("matching engine: %w", ErrMissingService)
	}
	if len(cfg.Strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if svc.Clock == nil {
		svc.Clock = timeutil.RealClock{}
	}
	return &Controller{cfg: cfg, svc: svc}, nil
}

// NewFromTuning wires a controller with the reference services.
func NewFromTuning(t *config.TuningConfig) (*Controller, error) {
	cfg, err := ConfigFromTuning(t)
	if err != nil {
		return nil, err
	}
	return NewController(cfg, Services{
		Fitter:  fitter.NewDefault(fitter.ConfigFromTuning(t)),
		Matcher: matching.New(matching.ConfigFromTuning(t)),
		Builder: builder.ConfigFromTuning(t),
	})
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.cfg }

// Result is the output of one event.
type Result struct {
	Candidates []*muon.TrackCandidate
	TimedOut   bool
}

// Tracks returns the fitted tracks of the surviving candidates.
func (r *Result) Tracks() []*muon.Track {
	out := make([]*muon.Track, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, c.Track())
	}
	return out
}

// layer is one search step: the segments of a group of chambers, best
// quality first.
type layer struct {
	name     string
	segments []*muon.SegmentRecord
}

// event carries the state of one Find call.
type event struct {
	c       *Controller
	ctx     context.Context
	store   *muon.SegmentStore
	b       *builder.Builder
	stats   *Stats
	end     time.Time // zero without a budget
	expired bool
}

// Find runs every strategy over the segments in store and returns the
// selected candidates. When the event time budget is exhausted the
// remaining search is abandoned and the candidates found so far are
// returned. stats may be nil.
func (c *Controller) Find(ctx context.Context, store *muon.SegmentStore, stats *Stats) *Result {
	if stats == nil {
		stats = &Stats{}
	}
	stats.Events++

	bcfg := c.svc.Builder
	bcfg.Cosmics = bcfg.Cosmics || c.cfg.Cosmics
	b, err := builder.New(bcfg, c.svc.Fitter, c.svc.Matcher, store, c.svc.BuilderServices, &stats.Stats)
	if err != nil {
		opsf("builder: %v", err)
		return &Result{}
	}
	ev := &event{c: c, ctx: ctx, store: store, b: b, stats: stats}
	if c.cfg.EventTimeBudget > 0 {
		ev.end = c.svc.Clock.Now().Add(c.cfg.EventTimeBudget)
	}

	var pool []*muon.TrackCandidate
	for _, s := range c.cfg.Strategies {
		if ev.deadline() {
			break
		}
		found := ev.runStrategy(s)
		stats.countStrategy(s.Name, len(found))
		pool = append(pool, found...)
	}

	if c.cfg.Cosmics {
		pool = b.MergeSplitTracks(pool)
	}
	if c.cfg.AmbiguitySolving {
		pool = ev.resolve(pool, c.svc.Solver)
	}
	if !c.cfg.SingleStationTracks {
		pool = ev.dropSingleStation(pool)
	}
	for _, cand := range pool {
		cand.Stage = muon.StageFinal
	}
	stats.TracksFound += len(pool)
	if ev.expired {
		stats.Timeouts++
	}
	if bad := store.CheckUsage(); bad != 0 {
		opsf("event: %d segment records with inconsistent usage", bad)
	}
	diagf("event: %d segments, %d tracks, timed out %v", store.Len(), len(pool), ev.expired)
	return &Result{Candidates: pool, TimedOut: ev.expired}
}

// deadline polls the context and the time budget; once expired it stays
// expired.
func (ev *event) deadline() bool {
	if ev.expired {
		return true
	}
	if ev.ctx.Err() != nil || (!ev.end.IsZero() && !ev.c.svc.Clock.Now().Before(ev.end)) {
		ev.expired = true
		diagf("event: time budget exhausted, abandoning search")
	}
	return ev.expired
}

func (ev *event) resolve(cands []*muon.TrackCandidate, solver ambiguity.Solver) []*muon.TrackCandidate {
	kept, dropped := ambiguity.New(solver).Resolve(cands)
	ev.stats.CandidatesReleased += len(dropped)
	return kept
}

func (ev *event) dropSingleStation(cands []*muon.TrackCandidate) []*muon.TrackCandidate {
	out := cands[:0]
	for _, cand := range cands {
		if cand.Track().Stations().Len() < 2 {
			cand.Release()
			ev.stats.CandidatesReleased++
			continue
		}
		out = append(out, cand)
	}
	return out
}

// runStrategy searches one strategy and applies its post-processing.
func (ev *event) runStrategy(s Strategy) []*muon.TrackCandidate {
	layers := ev.layers(s)
	if len(layers) < 2 && !ev.c.cfg.SingleStationTracks {
		tracef("strategy %s: %d populated layers, skipped", s.Name, len(layers))
		return nil
	}

	var found []*muon.TrackCandidate
	for _, li := range ev.seedOrder(s, layers) {
		for _, seed := range layers[li].segments {
			if ev.deadline() {
				break
			}
			if !ev.acceptSeed(s, seed, layers[li]) {
				continue
			}
			ev.stats.SeedsTried++
			found = append(found, ev.extend(s, seed, li, layers)...)
		}
	}

	if s.Options.Has(DoRefinement) || ev.c.cfg.Refinement {
		for _, cand := range found {
			ev.b.Refine(cand)
		}
	}
	if s.Options.Has(DoAmbiSolving) {
		solver := ev.c.svc.Solver
		if solver == nil && s.Options.Has(AllowOneSharedHit) {
			solver = ambiguity.SharedHitSolver{MaxSharedHits: 1}
		}
		found = ev.resolve(found, solver)
	}
	diagf("strategy %s: %d candidates", s.Name, len(found))
	return found
}

// layers groups the event's segments by the strategy's chamber groups.
// Small and large chambers of a group form one layer when segments are
// combined in station, otherwise each chamber is its own layer. Empty
// layers are dropped.
func (ev *event) layers(s Strategy) []layer {
	combine := s.Options.Has(CombineSegInStation) || ev.c.cfg.CombineInStation
	var out []layer
	addLayer := func(chambers []muon.ChamberIndex) {
		set := make(map[muon.ChamberIndex]bool, len(chambers))
		name := ""
		for i, ch := range chambers {
			set[ch] = true
			if i > 0 {
				name += ","
			}
			name += ch.String()
		}
		segs := ev.store.InChambers(set)
		if len(segs) == 0 {
			return
		}
		sort.SliceStable(segs, func(i, j int) bool {
			if segs[i].Segment.Quality != segs[j].Segment.Quality {
				return segs[i].Segment.Quality > segs[j].Segment.Quality
			}
			return segs[i].Handle < segs[j].Handle
		})
		out = append(out, layer{name: name, segments: segs})
	}
	for _, g := range s.Groups {
		if combine {
			addLayer(g)
			continue
		}
		for _, ch := range g {
			addLayer([]muon.ChamberIndex{ch})
		}
	}
	return out
}

// seedOrder returns the order in which layers provide seeds: by
// ascending occupancy with dynamic seeding, otherwise as declared
// (reversed when the strategy prefers outside-in).
func (ev *event) seedOrder(s Strategy, layers []layer) []int {
	order := make([]int, len(layers))
	for i := range order {
		order[i] = i
	}
	switch {
	case s.Options.Has(DynamicSeeding) || ev.c.cfg.DynamicSeeding:
		sort.SliceStable(order, func(i, j int) bool {
			return len(layers[order[i]].segments) < len(layers[order[j]].segments)
		})
	case s.Options.Has(PreferOutsideIn):
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

// acceptSeed applies the seed quality, usage and congestion cuts.
func (ev *event) acceptSeed(s Strategy, seed *muon.SegmentRecord, l layer) bool {
	cfg := ev.c.cfg
	q := seed.Segment.Quality
	if q < cfg.SeedQualityCut {
		ev.stats.SeedsSkippedQuality++
		return false
	}
	if s.Options.Has(CutSeedsOnTracks) && seed.UsedInFit() > 0 {
		ev.stats.SeedsSkippedUsed++
		return false
	}
	if cfg.CongestionThreshold > 0 && q < cfg.SeedQualityCut+cfg.SeedQualityMargin {
		if n := congestion(seed, l, cfg.CongestionAngle); n >= cfg.CongestionThreshold {
			tracef("seed %d: %d close segments in %s", seed.Handle, n, l.name)
			ev.stats.SeedsSkippedCongestion++
			return false
		}
	}
	return true
}

// congestion counts the other segments of the layer whose direction is
// within angle of the seed's.
func congestion(seed *muon.SegmentRecord, l layer, angle float64) int {
	n := 0
	for _, r := range l.segments {
		if r == seed {
			continue
		}
		cos := r3.Dot(r3.Unit(seed.Segment.Direction), r3.Unit(r.Segment.Direction))
		if math.Acos(math.Min(cos, 1)) < angle {
			n++
		}
	}
	return n
}

// congested reports whether a layer holds more segments than the
// congestion threshold.
func (ev *event) congested(l layer) bool {
	return ev.c.cfg.CongestionThreshold > 0 && len(l.segments) > ev.c.cfg.CongestionThreshold
}

// partners returns the segments of l in the small/large partner chamber
// of the seed, in layer order. It is empty unless the layer combines both
// chambers of the station.
func partners(seed *muon.SegmentRecord, l layer) layer {
	out := layer{name: l.name + " overlap"}
	for _, r := range l.segments {
		if matching.IsOverlapPair(seed.Segment.Chamber, r.Segment.Chamber) {
			out.segments = append(out.segments, r)
		}
	}
	return out
}

// node is one pending step of the extension: a candidate (nil before the
// first combination) and the index of the next layer to try.
type node struct {
	cand *muon.TrackCandidate
	next int
}

// extend grows a seed through the other layers depth first. At every
// layer each compatible segment spawns a branch; a layer that yields no
// combination is skipped. Candidates reaching the last layer are
// returned. Candidates superseded by an extension are released.
// With single-station tracks the seed's small/large partners in its own
// layer are tried first.
func (ev *event) extend(s Strategy, seed *muon.SegmentRecord, seedLayer int, layers []layer) []*muon.TrackCandidate {
	cfg := ev.c.cfg
	var others []layer
	if cfg.SingleStationTracks {
		if p := partners(seed, layers[seedLayer]); len(p.segments) > 0 {
			others = append(others, p)
		}
	}
	for i, l := range layers {
		if i != seedLayer {
			others = append(others, l)
		}
	}

	var leaves []*muon.TrackCandidate
	stack := []node{{next: 0}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.next >= len(others) || ev.expired {
			if n.cand != nil {
				leaves = append(leaves, n.cand)
			}
			continue
		}
		l := others[n.next]
		tight := s.Options.Has(RequireTight) || (cfg.TightMatching && ev.congested(l))
		minQuality := cfg.OtherSegmentQualityCut
		if n.cand == nil {
			minQuality = cfg.SecondSegmentQualityCut
		}

		var entry muon.Entry
		if n.cand == nil {
			entry = muon.NewSegmentEntry(seed)
		} else {
			entry = muon.NewTrackEntry(n.cand)
		}
		var produced []*muon.TrackCandidate
		for _, seg := range l.segments {
			if ev.deadline() {
				break
			}
			if seg == seed || seg.Segment.Quality < minQuality {
				continue
			}
			if n.cand != nil && n.cand.Contains(seg) {
				continue
			}
			if !ev.b.Match(entry, seg, tight) {
				continue
			}
			var next *muon.TrackCandidate
			if n.cand == nil {
				next = ev.b.CombineSegments(seed, seg)
			} else {
				next = ev.b.CombineTrackSegment(n.cand, seg)
			}
			if next != nil {
				produced = append(produced, next)
			}
		}

		if len(produced) == 0 {
			stack = append(stack, node{cand: n.cand, next: n.next + 1})
			continue
		}
		if n.cand != nil {
			n.cand.Release()
			ev.stats.CandidatesReleased++
		}
		// Reverse push so the best segment's branch is explored first.
		for i := len(produced) - 1; i >= 0; i-- {
			stack = append(stack, node{cand: produced[i], next: n.next + 1})
		}
	}
	return leaves
}
