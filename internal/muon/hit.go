package muon

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// HitStatus is the role a hit plays on a track.
type HitStatus uint8

const (
	HitOnTrack HitStatus = iota
	HitOutlier
	HitPseudo
)

func (s HitStatus) String() string {
	switch s {
	case HitOnTrack:
		return "on-track"
	case HitOutlier:
		return "outlier"
	case HitPseudo:
		return "pseudo"
	}
	return "unknown"
}

// Element describes the active area of the detector element (tube or
// strip) that produced a measurement. The element is a line segment:
// Center ± HalfLength·Axis, where Axis is the unmeasured direction.
type Element struct {
	Center     r3.Vec
	Axis       r3.Vec // unit vector along the wire/strip
	HalfLength float64
}

// Ends returns the two end points of the active length.
func (e Element) Ends() (r3.Vec, r3.Vec) {
	d := r3.Scale(e.HalfLength, e.Axis)
	return r3.Sub(e.Center, d), r3.Add(e.Center, d)
}

// LocalCoordinate returns the position of p along the element axis,
// relative to its centre.
func (e Element) LocalCoordinate(p r3.Vec) float64 {
	return r3.Dot(r3.Sub(p, e.Center), e.Axis)
}

// Hit is one measurement together with its on-track bookkeeping.
//
// Position is the measured point; only the component along the
// measurement direction (bending-plane or azimuthal, see MeasuresPhi)
// carries information. PreciseError and BroadError are the two cached
// error variants; the fitter chooses one per fit pass.
type Hit struct {
	ID           Identifier
	Position     r3.Vec
	Element      Element
	PreciseError float64
	BroadError   float64
	Status       HitStatus
	Tech         Technology

	// Filled by the fit.
	Residual  float64
	Pull      float64
	PathAtHit float64 // signed path length from the track reference point
}

// MeasuresPhi reports whether the hit constrains the azimuthal coordinate.
func (h *Hit) MeasuresPhi() bool { return h.ID.MeasuresPhi() }

// IsPseudo reports whether the hit is a synthetic measurement.
func (h *Hit) IsPseudo() bool { return h.Status == HitPseudo || h.Tech == TechPseudo }

// Error returns the precise or broad error.
func (h *Hit) Error(precise bool) float64 {
	if precise || h.BroadError <= 0 {
		return h.PreciseError
	}
	return h.BroadError
}

// Chamber returns the chamber key of the hit.
func (h *Hit) Chamber() ChamberKey { return h.ID.ChamberKey() }

// Phi returns the azimuth of the measured position.
func (h *Hit) Phi() float64 { return math.Atan2(h.Position.Y, h.Position.X) }

// Clone returns a shallow copy of the hit so fit results can be written
// without touching the segment that owns the original.
func (h *Hit) Clone() *Hit {
	c := *h
	return &c
}

// Line is a reference point and unit direction.
type Line struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// Distance returns the signed projected distance of p along the line.
func (l Line) Distance(p r3.Vec) float64 {
	return r3.Dot(r3.Sub(p, l.Origin), l.Direction)
}

// HitList is an ordered sequence of hits sorted by projected distance
// along Ref. Identifiers are unique within a list.
type HitList struct {
	Ref  Line
	Hits []*Hit
}

// NewHitList builds a sorted, identifier-deduplicated list. For duplicate
// identifiers the first occurrence wins.
func NewHitList(ref Line, hits []*Hit) *HitList {
	hl := &HitList{Ref: ref, Hits: make([]*Hit, 0, len(hits))}
	seen := make(map[Identifier]struct{}, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		hl.Hits = append(hl.Hits, h)
	}
	hl.Sort()
	return hl
}

// Len returns the number of hits.
func (hl *HitList) Len() int { return len(hl.Hits) }

// Sort orders the hits by distance along Ref. Ties are broken by
// identifier so the order is total.
func (hl *HitList) Sort() {
	sort.SliceStable(hl.Hits, func(i, j int) bool {
		di, dj := hl.Ref.Distance(hl.Hits[i].Position), hl.Ref.Distance(hl.Hits[j].Position)
		if di != dj {
			return di < dj
		}
		return hl.Hits[i].ID < hl.Hits[j].ID
	})
}

// Contains reports whether a hit with the identifier is present.
func (hl *HitList) Contains(id Identifier) bool {
	for _, h := range hl.Hits {
		if h.ID == id {
			return true
		}
	}
	return false
}

// Merge returns a new ordered list containing the hits of a and b, ordered
// along a's reference. Hits of b whose identifier already appears in a are
// dropped. Neither input is modified.
func Merge(a, b *HitList) *HitList {
	ref := Line{}
	switch {
	case a != nil:
		ref = a.Ref
	case b != nil:
		ref = b.Ref
	}
	var hits []*Hit
	if a != nil {
		hits = append(hits, a.Hits...)
	}
	if b != nil {
		hits = append(hits, b.Hits...)
	}
	return NewHitList(ref, hits)
}

// Remove drops every hit for which drop returns true, preserving order.
func (hl *HitList) Remove(drop func(*Hit) bool) int {
	kept := hl.Hits[:0]
	removed := 0
	for _, h := range hl.Hits {
		if drop(h) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(hl.Hits); i++ {
		hl.Hits[i] = nil
	}
	hl.Hits = kept
	return removed
}

// Insert adds hits not already present and restores the ordering.
func (hl *HitList) Insert(hits ...*Hit) {
	for _, h := range hits {
		if h == nil || hl.Contains(h.ID) {
			continue
		}
		hl.Hits = append(hl.Hits, h)
	}
	hl.Sort()
}

// Counts returns the number of eta and phi measurements, pseudo hits and
// outliers excluded.
func (hl *HitList) Counts() (eta, phi int) {
	for _, h := range hl.Hits {
		if h.Status != HitOnTrack || h.IsPseudo() {
			continue
		}
		if h.MeasuresPhi() {
			phi++
		} else {
			eta++
		}
	}
	return eta, phi
}

// Stations returns the set of stations with at least one real hit.
func (hl *HitList) Stations() StationSet {
	var s StationSet
	for _, h := range hl.Hits {
		if h.IsPseudo() {
			continue
		}
		s = s.Add(h.ID.Station())
	}
	return s
}

// IDs returns the identifiers in list order.
func (hl *HitList) IDs() []Identifier {
	out := make([]Identifier, len(hl.Hits))
	for i, h := range hl.Hits {
		out[i] = h.ID
	}
	return out
}

// Clone copies the list and every hit in it.
func (hl *HitList) Clone() *HitList {
	c := &HitList{Ref: hl.Ref, Hits: make([]*Hit, len(hl.Hits))}
	for i, h := range hl.Hits {
		c.Hits[i] = h.Clone()
	}
	return c
}
