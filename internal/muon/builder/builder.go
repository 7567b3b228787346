// Package builder combines segments and track candidates into fitted
// tracks and refines them.
package builder

import (
	"errors"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
	"github.com/banshee-data/muontrack/internal/muon/matching"
)

// ErrNoFitter is returned by New when no fitter is supplied.
var ErrNoFitter = errors.New("builder: fitter is required")

// Stats counts what the builder did during one event.
type Stats struct {
	CombineAttempts    int
	MatchRejections    int
	ExclusionVetoes    int
	HistoryVetoes      int
	FitFailures        int
	CleanFailures      int
	CandidatesProduced int
	OverlapsRecovered  int
	HolesRecovered     int
	Refined            int
	Merged             int
	Split              int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.CombineAttempts += o.CombineAttempts
	s.MatchRejections += o.MatchRejections
	s.ExclusionVetoes += o.ExclusionVetoes
	s.HistoryVetoes += o.HistoryVetoes
	s.FitFailures += o.FitFailures
	s.CleanFailures += o.CleanFailures
	s.CandidatesProduced += o.CandidatesProduced
	s.OverlapsRecovered += o.OverlapsRecovered
	s.HolesRecovered += o.HolesRecovered
	s.Refined += o.Refined
	s.Merged += o.Merged
	s.Split += o.Split
}

// Builder orchestrates combinations for one event. It is not safe for
// concurrent use; create one per event.
type Builder struct {
	cfg     Config
	fit     *fitter.Fitter
	match   *matching.Engine
	store   *muon.SegmentStore
	svc     Services
	history *History
	stats   *Stats
}

// New returns a builder for the segments in store. Missing services are
// replaced by the reference implementations; stats may be nil.
func New(cfg Config, fit *fitter.Fitter, match *matching.Engine, store *muon.SegmentStore, svc Services, stats *Stats) (*Builder, error) {
	if fit == nil {
		return nil, ErrNoFitter
	}
	if match == nil {
		match = matching.New(matching.ConfigFromTuning(config.EmptyTuningConfig()))
	}
	if svc.Field == nil {
		svc.Field = StaticField{On: cfg.FieldOn, TeslaAt: cfg.FieldTesla}
	}
	if svc.Holes == nil {
		svc.Holes = NewHitPool(store.Hits(), cfg.HoleResidualCut, svc.Field)
	}
	if svc.Recalibrator == nil && cfg.Recalibrate {
		svc.Recalibrator = DefaultErrorScaler()
	}
	if svc.Extrapolator == nil {
		svc.Extrapolator = BeamLineExtrapolator{Field: svc.Field}
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Builder{
		cfg:     cfg,
		fit:     fit,
		match:   match,
		store:   store,
		svc:     svc,
		history: NewHistory(),
		stats:   stats,
	}, nil
}

// Stats returns the counters of the event.
func (b *Builder) Stats() *Stats { return b.stats }

// History returns the tracking history of the event.
func (b *Builder) History() *History { return b.history }

// Match runs the matching engine and counts rejections.
func (b *Builder) Match(base muon.Entry, seg *muon.SegmentRecord, tight bool) bool {
	if b.match.Match(base, seg, tight) {
		return true
	}
	b.stats.MatchRejections++
	return false
}

// straightLine reports whether a combination over stations is fitted
// without curvature.
func (b *Builder) straightLine(stations muon.StationSet) bool {
	if !b.svc.Field.FieldOn() {
		return true
	}
	if stations.Len() <= 1 {
		return true
	}
	// EM and EO sit outside the endcap toroid.
	em, eo := muon.StationSet(0).Add(muon.StationEM), muon.StationSet(0).Add(muon.StationEO)
	return stations == em.Union(eo)
}

// fitOptions configures the fit of e1 with e2: the curvature choice and
// the phi hits of the event in the chambers both entries cross.
func (b *Builder) fitOptions(e1, e2 muon.Entry) fitter.Options {
	chambers := make(map[muon.ChamberKey]bool)
	for _, e := range []muon.Entry{e1, e2} {
		for k := range e.Chambers() {
			chambers[k] = true
		}
	}
	return fitter.Options{
		StraightLine: b.straightLine(e1.Stations().Union(e2.Stations())),
		ExtraPhiHits: b.phiPool(chambers),
	}
}

// phiPool returns the real phi hits of every stored segment in chambers,
// in store order.
func (b *Builder) phiPool(chambers map[muon.ChamberKey]bool) []*muon.Hit {
	var out []*muon.Hit
	for _, r := range b.store.Records() {
		if !chambers[r.Segment.Chamber] {
			continue
		}
		for _, h := range r.Segment.Hits {
			if h.MeasuresPhi() && !h.IsPseudo() {
				out = append(out, h)
			}
		}
	}
	return out
}

func (b *Builder) vetoedByHistory(handles []muon.SegmentHandle) bool {
	if !b.cfg.UseTrackingHistory {
		return false
	}
	if b.history.Duplicate(handles) {
		diagf("history: segment set %v already produced", handles)
		b.stats.HistoryVetoes++
		return true
	}
	if b.history.ExcludedExtension(handles, b.store) {
		diagf("history: segment set %v extends a set whose candidate excluded the extra segment", handles)
		b.stats.HistoryVetoes++
		return true
	}
	return false
}

func (b *Builder) countFailure(f fitter.Failure) {
	if f == fitter.FailClean {
		b.stats.CleanFailures++
		return
	}
	b.stats.FitFailures++
}

// CombineSegments fits two segments into a new seeded candidate. It
// returns nil when the combination is vetoed or the fit fails.
func (b *Builder) CombineSegments(s1, s2 *muon.SegmentRecord) *muon.TrackCandidate {
	b.stats.CombineAttempts++
	if s1 == s2 {
		opsf("combine: segment %d combined with itself", s1.Handle)
		return nil
	}
	handles := sortedWith(nil, s1.Handle, s2.Handle)
	if b.vetoedByHistory(handles) {
		return nil
	}
	e1, e2 := muon.NewSegmentEntry(s1), muon.NewSegmentEntry(s2)
	track, fail := b.fit.FitEntries(e1, e2, b.fitOptions(e1, e2))
	if track == nil {
		diagf("combine: segments %d+%d failed: %s", s1.Handle, s2.Handle, fail)
		b.countFailure(fail)
		return nil
	}
	c := muon.NewTrackCandidate(b.store, track, s1, s2)
	c.Stage = muon.StageSeeded
	c.Seed = s1
	return b.finish(c)
}

// CombineTrackSegment extends a candidate with a segment and returns the
// extended copy; the input candidate is not modified except that seg is
// added to its exclusion list when the fit fails.
func (b *Builder) CombineTrackSegment(c *muon.TrackCandidate, seg *muon.SegmentRecord) *muon.TrackCandidate {
	b.stats.CombineAttempts++
	if b.cfg.UseExclusionList && c.IsExcluded(seg) {
		tracef("combine: segment %d excluded on candidate %s", seg.Handle, c.ID)
		b.stats.ExclusionVetoes++
		return nil
	}
	if c.Contains(seg) {
		return nil
	}
	if b.vetoedByHistory(sortedWith(c.Handles(), seg.Handle)) {
		return nil
	}

	e1, e2 := muon.NewTrackEntry(c), muon.NewSegmentEntry(seg)
	track, fail := b.fit.FitEntries(e1, e2, b.fitOptions(e1, e2))
	if track == nil {
		diagf("combine: candidate %s + segment %d failed: %s", c.ID, seg.Handle, fail)
		b.countFailure(fail)
		c.Exclude(seg)
		return nil
	}
	segs := append(c.Segments(), seg)
	n := muon.NewTrackCandidate(b.store, track, segs...)
	n.Stage = muon.StageExtended
	n.Seed = c.Seed
	return b.finish(n)
}

// CombineTracks fits two candidates into one. Segments shared by both are
// counted once.
func (b *Builder) CombineTracks(c1, c2 *muon.TrackCandidate) *muon.TrackCandidate {
	b.stats.CombineAttempts++
	if c1 == c2 {
		return nil
	}
	if b.cfg.UseExclusionList && (excludesAny(c1, c2) || excludesAny(c2, c1)) {
		b.stats.ExclusionVetoes++
		return nil
	}
	if b.vetoedByHistory(sortedWith(c1.Handles(), c2.Handles()...)) {
		return nil
	}

	e1, e2 := muon.NewTrackEntry(c1), muon.NewTrackEntry(c2)
	track, fail := b.fit.FitEntries(e1, e2, b.fitOptions(e1, e2))
	if track == nil {
		diagf("combine: candidates %s + %s failed: %s", c1.ID, c2.ID, fail)
		b.countFailure(fail)
		return nil
	}
	segs := c1.Segments()
	for _, r := range c2.Segments() {
		if !c1.Contains(r) {
			segs = append(segs, r)
		}
	}
	n := muon.NewTrackCandidate(b.store, track, segs...)
	n.Stage = muon.StageExtended
	n.Seed = c1.Seed
	return b.finish(n)
}

// excludesAny reports whether a segment of other is on c's exclusion list.
func excludesAny(c, other *muon.TrackCandidate) bool {
	for _, r := range other.Segments() {
		if c.IsExcluded(r) {
			tracef("combine: segment %d of %s excluded on %s", r.Handle, other.ID, c.ID)
			return true
		}
	}
	return false
}

// finish runs the post-fit steps shared by all combinations.
func (b *Builder) finish(c *muon.TrackCandidate) *muon.TrackCandidate {
	if b.cfg.SLOverlapRecovery {
		b.recoverOverlap(c)
	}
	b.history.Add(c)
	b.stats.CandidatesProduced++
	tracef("combine: candidate %s with segments %v chi2/ndof %.2f",
		c.ID, c.Handles(), c.Track().Chi2PerDof())
	return c
}
