package fitter

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// GetMinMaxPhi derives the azimuthal bracket allowed by the eta
// measurements: every tube the track crosses limits its azimuth to the
// span between the tube's ends, so the bracket is the intersection of
// those spans. An empty intersection (min above max) is tolerated up to
// OpeningAngleCut and then swapped. Real phi hits further than the cut
// outside the bracket fail the check.
func (f *Fitter) GetMinMaxPhi(data *FitterData) bool {
	var ref float64
	haveRef := false
	lo, hi := math.Inf(-1), math.Inf(1)
	for _, h := range data.Eta {
		if h.IsPseudo() || h.Element.HalfLength <= 0 {
			continue
		}
		a, b := h.Element.Ends()
		if !haveRef {
			ref = muon.Phi(h.Element.Center)
			haveRef = true
		}
		pa := ref + muon.DeltaPhi(muon.Phi(a), ref)
		pb := ref + muon.DeltaPhi(muon.Phi(b), ref)
		lo = math.Max(lo, math.Min(pa, pb))
		hi = math.Min(hi, math.Max(pa, pb))
	}
	if !haveRef {
		diagf("phi bracket: no eta measurements with an active length")
		return false
	}

	if lo > hi {
		if opening := lo - hi; opening > f.cfg.OpeningAngleCut {
			diagf("phi bracket: opening %.3f rad exceeds cut %.3f", opening, f.cfg.OpeningAngleCut)
			return false
		}
		lo, hi = hi, lo
	}

	for _, h := range data.Phi {
		if h.IsPseudo() {
			continue
		}
		p := ref + muon.DeltaPhi(h.Phi(), ref)
		if p < lo-f.cfg.OpeningAngleCut || p > hi+f.cfg.OpeningAngleCut {
			diagf("phi bracket: phi hit %s at %.3f outside [%.3f, %.3f]", h.ID, p, lo, hi)
			return false
		}
	}

	data.PhiMin = muon.DeltaPhi(lo, 0)
	data.PhiMax = muon.DeltaPhi(hi, 0)
	data.PhiAverage = muon.DeltaPhi(0.5*(lo+hi), 0)
	return true
}

// PhiConstraints counts the effective phi constraints among hits: phi hits
// closer than PhiSeparation along ref count once.
func (f *Fitter) PhiConstraints(hits []*muon.Hit, ref muon.Line) int {
	if len(hits) == 0 {
		return 0
	}
	ds := make([]float64, len(hits))
	for i, h := range hits {
		ds[i] = ref.Distance(h.Position)
	}
	sort.Float64s(ds)
	n := 1
	last := ds[0]
	for _, d := range ds[1:] {
		if d-last > f.cfg.PhiSeparation {
			n++
			last = d
		}
	}
	return n
}

// AddFakePhiHits adds pseudo phi measurements when the fit has fewer than
// two effective phi constraints. Fakes are placed on the seed trajectory at
// the first and/or last eta measurement, clamped to the tube's active
// length. It returns false when a fake cannot be placed, which means the
// combination should be rejected.
func (f *Fitter) AddFakePhiHits(data *FitterData, seed muon.Parameters) bool {
	ref := seed.Line()
	phi := data.Phi
	if f.PhiConstraints(phi, ref) >= 2 {
		return true
	}

	var eta []*muon.Hit
	for _, h := range data.Eta {
		if !h.IsPseudo() {
			eta = append(eta, h)
		}
	}
	if len(eta) == 0 {
		return false
	}
	first, last := eta[0], eta[len(eta)-1]
	realPhi := data.RealPhi()

	type target struct {
		hit   *muon.Hit
		sigma float64
	}
	var targets []target

	stations := data.Stations()
	singleOverlap := false
	if stations.Len() == 1 {
		st := stations.Stations()[0]
		singleOverlap = data.SmallChambers[st] > 0 && data.LargeChambers[st] > 0
	}

	switch {
	case singleOverlap && len(phi) == 0:
		// One fake in each chamber of the small/large pair.
		seen := make(map[muon.ChamberKey]bool)
		for _, h := range eta {
			if seen[h.Chamber()] {
				continue
			}
			seen[h.Chamber()] = true
			targets = append(targets, target{h, f.cfg.FakeErrorOverlap})
		}
		if len(targets) < 2 {
			targets = append(targets, target{last, f.cfg.FakeErrorOverlap})
		}
	case len(phi) == 0:
		targets = []target{{first, f.cfg.FakeErrorNoPhi}, {last, f.cfg.FakeErrorNoPhi}}
	default:
		// One constraint: add a fake at whichever end is further from it.
		anchor := phi[0]
		if len(realPhi) > 0 {
			anchor = realPhi[0]
		}
		sPhi := ref.Distance(anchor.Position)
		dFirst := math.Abs(sPhi - ref.Distance(first.Position))
		dLast := math.Abs(sPhi - ref.Distance(last.Position))
		if dFirst > dLast {
			targets = []target{{first, f.cfg.FakeErrorWithPhi}}
		} else {
			targets = []target{{last, f.cfg.FakeErrorWithPhi}}
		}
	}

	for _, t := range targets {
		fake, ok := f.makeFake(t.hit, seed, t.sigma)
		if !ok {
			diagf("fake phi: cannot place fake at %s", t.hit.ID)
			return false
		}
		if data.Hits.Contains(fake.ID) {
			continue
		}
		data.Hits.Insert(fake)
		data.Phi = append(data.Phi, fake)
		data.Garbage = append(data.Garbage, fake)
	}
	tracef("fake phi: %d fakes added (%d real phi hits)", len(targets), len(realPhi))
	return true
}

// makeFake intersects the seed line with the plane of the eta tube and
// returns a pseudo phi measurement at the clamped local coordinate.
func (f *Fitter) makeFake(eta *muon.Hit, seed muon.Parameters, sigma float64) (*muon.Hit, bool) {
	el := eta.Element
	if el.HalfLength <= 0 || r3.Norm(el.Axis) == 0 {
		return nil, false
	}
	axis := r3.Unit(el.Axis)
	normal := r3.Cross(axis, seed.BendingAxis())
	if r3.Norm(normal) < 1e-6 {
		normal = seed.Direction
	}
	normal = r3.Unit(normal)
	denom := r3.Dot(seed.Direction, normal)
	if math.Abs(denom) < 1e-6 {
		return nil, false
	}
	t := r3.Dot(r3.Sub(el.Center, seed.Position), normal) / denom
	p := r3.Add(seed.Position, r3.Scale(t, seed.Direction))
	l := r3.Dot(r3.Sub(p, el.Center), axis)
	if over := math.Abs(l) - el.HalfLength; over > 0 {
		if over > f.cfg.FakeClampBound {
			return nil, false
		}
		l = math.Copysign(el.HalfLength, l)
	}
	id := eta.ID
	return &muon.Hit{
		ID: muon.NewIdentifier(muon.TechPseudo, id.Chamber(), id.Sector(), id.Eta(),
			id.Layer(), id.Channel(), true),
		Position:     r3.Add(el.Center, r3.Scale(l, axis)),
		Element:      el,
		PreciseError: sigma,
		BroadError:   sigma,
		Status:       muon.HitPseudo,
		Tech:         muon.TechPseudo,
	}, true
}

// CleanPhiHits re-selects the real phi measurements of data from the
// existing ones plus extra candidates, using a momentum-dependent window,
// and keeps only hits within MaxPhiDistance of the first/last eta hit.
// The previous real phi hits are replaced in the working hit list.
func (f *Fitter) CleanPhiHits(momentum float64, data *FitterData, extra []*muon.Hit) bool {
	pool := make([]*muon.Hit, 0, len(data.Phi)+len(extra))
	seen := make(map[muon.Identifier]bool)
	for _, h := range append(data.RealPhi(), extra...) {
		if h == nil || !h.MeasuresPhi() || h.IsPseudo() || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		pool = append(pool, h)
	}
	if len(pool) == 0 || len(data.Eta) == 0 {
		return false
	}

	pars := data.StartPars
	selected := f.phiSelector.SelectPhiHits(momentum, pars, pool)

	ref := pars.Line()
	firstS := math.Inf(1)
	lastS := math.Inf(-1)
	for _, h := range data.Eta {
		if h.IsPseudo() {
			continue
		}
		s := ref.Distance(h.Position)
		firstS = math.Min(firstS, s)
		lastS = math.Max(lastS, s)
	}
	var kept []*muon.Hit
	for _, h := range selected {
		s := ref.Distance(h.Position)
		if s < firstS-f.cfg.MaxPhiDistance || s > lastS+f.cfg.MaxPhiDistance {
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) == 0 {
		diagf("phi cleaning: no phi hit left of %d candidates", len(pool))
		return false
	}

	data.Hits.Remove(func(h *muon.Hit) bool { return h.MeasuresPhi() && !h.IsPseudo() })
	clones := make([]*muon.Hit, len(kept))
	for i, h := range kept {
		c := h.Clone()
		c.Status = muon.HitOnTrack
		clones[i] = c
	}
	data.Hits.Insert(clones...)
	data.split()
	tracef("phi cleaning: kept %d of %d candidates", len(kept), len(pool))
	return true
}

// WindowPhiSelector keeps phi hits whose azimuthal residual to the
// trajectory is inside Base + Scale/p, at most one per chamber layer.
type WindowPhiSelector struct {
	Base  float64 // mm
	Scale float64 // mm·MeV
}

// SelectPhiHits implements PhiHitSelector.
func (s WindowPhiSelector) SelectPhiHits(momentum float64, pars muon.Parameters, candidates []*muon.Hit) []*muon.Hit {
	window := s.Base
	if momentum > 0 {
		window += s.Scale / momentum
	}
	v := pars.AzimuthalAxis()
	type layerKey struct {
		chamber muon.ChamberKey
		layer   int
	}
	best := make(map[layerKey]*muon.Hit)
	bestRes := make(map[layerKey]float64)
	for _, h := range candidates {
		d := r3.Sub(h.Position, pars.Position)
		sPath := r3.Dot(d, pars.Direction)
		res := math.Abs(r3.Dot(r3.Sub(d, r3.Scale(sPath, pars.Direction)), v))
		if res > window {
			continue
		}
		k := layerKey{h.Chamber(), h.ID.Layer()}
		if cur, ok := bestRes[k]; ok && cur <= res {
			continue
		}
		best[k] = h
		bestRes[k] = res
	}
	out := make([]*muon.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
