package fitter

import (
	"errors"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// ErrNoFitService is returned by New when no least-squares routine is given.
var ErrNoFitService = errors.New("fitter: track fit service is required")

// Fitter runs the fit pipeline. It holds no per-event state and may be
// shared by concurrent events.
type Fitter struct {
	cfg         Config
	fit         TrackFitService
	momentum    MomentumEstimator
	phiSelector PhiHitSelector
	cleaner     OutlierCleaner
}

// New creates a Fitter. Missing optional services are replaced by the
// reference implementations configured from cfg.
func New(cfg Config, svc Services) (*Fitter, error) {
	if svc.Fit == nil {
		return nil, ErrNoFitService
	}
	f := &Fitter{cfg: cfg, fit: svc.Fit, momentum: svc.Momentum, phiSelector: svc.PhiSelector, cleaner: svc.Cleaner}
	if f.momentum == nil {
		f.momentum = DeflectionEstimator{FieldTesla: cfg.field(), MinMomentum: cfg.MinMomentum, MaxMomentum: cfg.MaxMomentum}
	}
	if f.phiSelector == nil {
		f.phiSelector = WindowPhiSelector{Base: cfg.PhiWindowBase, Scale: cfg.PhiWindowScale}
	}
	if f.cleaner == nil {
		f.cleaner = &PullCleaner{Fit: svc.Fit, PullCut: cfg.OutlierPullCut, MinEtaHits: cfg.MinCleanEtaHits}
	}
	return f, nil
}

// NewDefault creates a Fitter wired to the reference services.
func NewDefault(cfg Config) *Fitter {
	f, _ := New(cfg, Services{Fit: NewLeastSquaresFit(cfg)})
	return f
}

// Config returns the pipeline configuration.
func (f *Fitter) Config() Config { return f.cfg }

func (f *Fitter) fitOptions(curved, precise bool) FitOptions {
	return FitOptions{
		Hypothesis: f.cfg.Hypothesis,
		Precise:    precise,
		Material:   precise,
		Curved:     curved && f.cfg.FieldOn,
		FieldTesla: f.cfg.field(),
	}
}

// Fit delegates to the least-squares routine. With prefit the first pass
// uses broad errors and no material; if the seed had no momentum the
// result is refitted with precise errors and material.
func (f *Fitter) Fit(seed muon.Parameters, hits []*muon.Hit, curved, prefit bool) *muon.Track {
	if !prefit {
		return f.fit.Fit(seed, hits, f.fitOptions(curved, true))
	}
	pre := f.fit.Fit(seed, hits, f.fitOptions(curved, false))
	if pre == nil {
		diagf("fit: prefit failed")
		return nil
	}
	if seed.HasMomentum {
		return pre
	}
	start := pre.Pars
	if !start.HasMomentum {
		start.QOverP = seed.QOverP
	}
	return f.fit.Fit(start, pre.Hits.Hits, f.fitOptions(curved, true))
}

// Options tunes one run of the pipeline. ExtraPhiHits are event phi
// measurements phi cleaning may select in addition to those on the entries.
type Options struct {
	StraightLine     bool
	ExcludedChambers map[muon.ChamberKey]bool
	ExtraPhiHits     []*muon.Hit
}

// FitEntries combines two entries into a track.
func (f *Fitter) FitEntries(e1, e2 muon.Entry, opts Options) (*muon.Track, Failure) {
	if f.CorruptEntry(e1) || f.CorruptEntry(e2) {
		return nil, FailCorruptEntry
	}

	ref := referenceLine(e1, e2)
	var hits []*muon.Hit
	for _, h := range e1.Hits() {
		hits = append(hits, cloneOnTrack(h))
	}
	for _, h := range e2.Hits() {
		hits = append(hits, cloneOnTrack(h))
	}
	list := muon.NewHitList(ref, hits)

	var pre *muon.Parameters
	switch {
	case e1.HasMomentum():
		p := e1.EntryPars()
		pre = &p
	case e2.HasMomentum():
		p := e2.EntryPars()
		pre = &p
	}
	data, ok := f.ExtractData(list, false, pre)
	if !ok {
		return nil, FailExtract
	}
	defer data.Release()

	if !f.GetMinMaxPhi(data) {
		return nil, FailPhiBracket
	}
	start, ok := f.CreateStartParameters(data, e1, e2)
	if !ok {
		return nil, FailSeed
	}
	return f.run(data, start, opts)
}

// FitHits fits an arbitrary hit list from a known start state. It is used
// for refits, splits and merges where no entry pair exists.
func (f *Fitter) FitHits(start muon.Parameters, hits *muon.HitList, opts Options) (*muon.Track, Failure) {
	clones := make([]*muon.Hit, 0, hits.Len())
	for _, h := range hits.Hits {
		if h.IsPseudo() {
			continue
		}
		clones = append(clones, h.Clone())
	}
	list := muon.NewHitList(start.Line(), clones)
	var pre *muon.Parameters
	if start.HasMomentum {
		pre = &start
	}
	data, ok := f.ExtractData(list, false, pre)
	if !ok {
		return nil, FailExtract
	}
	defer data.Release()
	if !f.GetMinMaxPhi(data) {
		return nil, FailPhiBracket
	}
	data.StartPars, data.HasStart = start, true
	return f.run(data, start, opts)
}

func (f *Fitter) run(data *FitterData, start muon.Parameters, opts Options) (*muon.Track, Failure) {
	if !f.AddFakePhiHits(data, start) {
		return nil, FailFakeHits
	}
	curved := !opts.StraightLine && f.cfg.FieldOn
	track := f.Fit(start, data.Measurements(), curved, !start.HasMomentum)
	if track == nil {
		return nil, FailFit
	}
	track = f.CleanAndEvaluateTrack(track, opts.ExcludedChambers)
	if track == nil {
		return nil, FailClean
	}

	if f.cfg.CleanPhiHits && track.Pars.HasMomentum && len(data.RealPhi())+len(opts.ExtraPhiHits) > 0 {
		if better := f.recleanPhi(track, data, opts); better != nil {
			track = better
		}
	}
	return track, FailNone
}

// recleanPhi re-selects phi hits around the fitted track and refits; the
// result is kept only when it is at least as good as the input.
func (f *Fitter) recleanPhi(track *muon.Track, data *FitterData, opts Options) *muon.Track {
	data.StartPars = track.Pars
	before := phiIDs(data.RealPhi())
	if !f.CleanPhiHits(track.Pars.Momentum(), data, opts.ExtraPhiHits) {
		return nil
	}
	if slices.Equal(before, phiIDs(data.RealPhi())) {
		return nil
	}
	refit := f.Fit(track.Pars, data.Measurements(), track.Curved, false)
	refit = f.CleanAndEvaluateTrack(refit, opts.ExcludedChambers)
	if refit == nil || muon.Better(track, refit) {
		return nil
	}
	return refit
}

// Refit refits a track's own hits from its current state.
func (f *Fitter) Refit(track *muon.Track, opts Options) *muon.Track {
	t, _ := f.FitHits(track.Pars, track.Hits, opts)
	return t
}

func phiIDs(hits []*muon.Hit) []muon.Identifier {
	ids := make([]muon.Identifier, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	slices.Sort(ids)
	return ids
}

func cloneOnTrack(h *muon.Hit) *muon.Hit {
	c := h.Clone()
	c.Status = muon.HitOnTrack
	c.Residual, c.Pull = 0, 0
	return c
}

// referenceLine orders the merged hits: from the entry closer to the
// interaction point towards the other one.
func referenceLine(e1, e2 muon.Entry) muon.Line {
	p1, p2 := e1.EntryPars(), e2.EntryPars()
	inner := p1
	if r3.Norm(p2.Position) < r3.Norm(p1.Position) {
		inner = p2
	}
	dir := inner.Direction
	chord := r3.Sub(p2.Position, p1.Position)
	if r3.Norm(chord) > minSeedBaseline {
		dir = r3.Unit(chord)
		if r3.Dot(dir, inner.Direction) < 0 {
			dir = r3.Scale(-1, dir)
		}
	}
	return muon.Line{Origin: inner.Position, Direction: dir}
}
