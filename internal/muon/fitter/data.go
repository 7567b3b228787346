package fitter

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// FitterData is the transient state of one fit attempt. Fake hits created
// during the attempt are kept in Garbage and dropped by Release.
type FitterData struct {
	Hits    *muon.HitList
	Eta     []*muon.Hit
	Phi     []*muon.Hit
	Precise bool

	StartPars muon.Parameters
	HasStart  bool

	PhiMin, PhiMax, PhiAverage float64

	// Per-station counts of real hits in small and large chambers.
	SmallChambers map[muon.StationIndex]int
	LargeChambers map[muon.StationIndex]int

	Garbage []*muon.Hit
}

func newFitterData(hits *muon.HitList, precise bool) *FitterData {
	return &FitterData{
		Hits:          hits,
		Precise:       precise,
		SmallChambers: make(map[muon.StationIndex]int),
		LargeChambers: make(map[muon.StationIndex]int),
	}
}

// Measurements returns the active measurements in hit-list order.
func (d *FitterData) Measurements() []*muon.Hit {
	out := make([]*muon.Hit, 0, d.Hits.Len())
	for _, h := range d.Hits.Hits {
		if h.Status == muon.HitOutlier {
			continue
		}
		out = append(out, h)
	}
	return out
}

// RealPhi returns the phi measurements that are not fakes.
func (d *FitterData) RealPhi() []*muon.Hit {
	var out []*muon.Hit
	for _, h := range d.Phi {
		if !h.IsPseudo() {
			out = append(out, h)
		}
	}
	return out
}

// Stations returns the stations with real hits.
func (d *FitterData) Stations() muon.StationSet { return d.Hits.Stations() }

// Release drops the synthesized measurements of the attempt.
func (d *FitterData) Release() {
	for i := range d.Garbage {
		d.Garbage[i] = nil
	}
	d.Garbage = d.Garbage[:0]
}

// split fills the eta/phi vectors and the chamber counters from Hits.
func (d *FitterData) split() {
	d.Eta, d.Phi = d.Eta[:0], d.Phi[:0]
	clear(d.SmallChambers)
	clear(d.LargeChambers)
	for _, h := range d.Hits.Hits {
		if h.Status == muon.HitOutlier {
			continue
		}
		if h.MeasuresPhi() {
			d.Phi = append(d.Phi, h)
		} else {
			d.Eta = append(d.Eta, h)
		}
		if h.IsPseudo() {
			continue
		}
		ch := h.ID.Chamber()
		if ch.IsSmall() {
			d.SmallChambers[ch.Station()]++
		} else {
			d.LargeChambers[ch.Station()]++
		}
	}
}

// ExtractData flattens a hit list into eta and phi measurement vectors.
// When seed carries a momentum above PrefitOutlierMomentum, eta hits far
// from the seed line are flagged as outliers first. It fails if fewer than
// MinMeasurements measurements or MinEtaMeasurements eta measurements
// remain.
func (f *Fitter) ExtractData(hits *muon.HitList, precise bool, seed *muon.Parameters) (*FitterData, bool) {
	data := newFitterData(hits, precise)
	if seed != nil && seed.HasMomentum && seed.Momentum() > f.cfg.PrefitOutlierMomentum {
		if n := removeSeedOutliers(hits, *seed, f.cfg.PrefitOutlierCut); n > 0 {
			tracef("extract: %d pre-fit outliers removed", n)
		}
	}
	data.split()

	total := len(data.Eta) + len(data.Phi)
	if total < MinMeasurements || len(data.Eta) < MinEtaMeasurements {
		diagf("extract: too few measurements total=%d eta=%d", total, len(data.Eta))
		return nil, false
	}
	return data, true
}

// removeSeedOutliers flags eta hits further than cut from the seed line in
// the bending plane.
func removeSeedOutliers(hits *muon.HitList, seed muon.Parameters, cut float64) int {
	u := seed.BendingAxis()
	n := 0
	for _, h := range hits.Hits {
		if h.MeasuresPhi() || h.IsPseudo() || h.Status != muon.HitOnTrack {
			continue
		}
		d := r3.Sub(h.Position, seed.Position)
		s := r3.Dot(d, seed.Direction)
		off := r3.Dot(r3.Sub(d, r3.Scale(s, seed.Direction)), u)
		if math.Abs(off) > cut {
			h.Status = muon.HitOutlier
			n++
		}
	}
	return n
}

// CorruptEntry reports whether an entry cannot take part in a fit: its
// hit counts are inconsistent, or it is a single-station entry without a
// momentum and too few eta hits to constrain the seed.
func (f *Fitter) CorruptEntry(e muon.Entry) bool {
	if e.NEtaHits() > len(e.Hits()) || e.NPhiHits() > len(e.Hits()) {
		opsf("corrupt %s entry: eta=%d phi=%d hits=%d", e.Kind, e.NEtaHits(), e.NPhiHits(), len(e.Hits()))
		return true
	}
	if e.Stations().Len() <= 1 && !e.HasMomentum() && e.NEtaHits() < f.cfg.MinEntryEtaHits {
		diagf("entry rejected: single station with %d eta hits and no momentum", e.NEtaHits())
		return true
	}
	return false
}
