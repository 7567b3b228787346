package muon

import "math"

// EntryKind tags what an Entry wraps.
type EntryKind uint8

const (
	SegmentEntry EntryKind = iota
	TrackEntry
)

func (k EntryKind) String() string {
	if k == TrackEntry {
		return "track"
	}
	return "segment"
}

// Entry is the uniform view of a segment or a track candidate used when
// two objects are combined. Everything is resolved at construction.
type Entry struct {
	Kind      EntryKind
	Segment   *SegmentRecord  // set for SegmentEntry
	Candidate *TrackCandidate // set for TrackEntry

	pars        Parameters
	hits        []*Hit
	stations    StationSet
	chambers    map[ChamberKey]bool
	nEta, nPhi  int
	hasMomentum bool
	phiExtent   float64
}

// NewSegmentEntry wraps a segment record.
func NewSegmentEntry(r *SegmentRecord) Entry {
	seg := r.Segment
	e := Entry{
		Kind:     SegmentEntry,
		Segment:  r,
		pars:     Parameters{Position: seg.Position, Direction: seg.Direction},
		hits:     seg.Hits,
		stations: StationSet(0).Add(seg.Station()),
		chambers: map[ChamberKey]bool{seg.Chamber: true},
	}
	e.nEta, e.nPhi = seg.Counts()
	e.phiExtent = phiHitExtent(e.hits, e.pars.Line())
	return e
}

// NewTrackEntry wraps a track candidate.
func NewTrackEntry(c *TrackCandidate) Entry {
	t := c.Track()
	e := Entry{
		Kind:        TrackEntry,
		Candidate:   c,
		pars:        t.Pars,
		stations:    c.Stations().Union(t.Stations()),
		chambers:    c.Chambers(),
		hasMomentum: t.Pars.HasMomentum,
	}
	for _, h := range t.Hits.Hits {
		if h.IsPseudo() || h.Status == HitOutlier {
			continue
		}
		e.hits = append(e.hits, h)
		if h.MeasuresPhi() {
			e.nPhi++
		} else {
			e.nEta++
		}
		e.chambers[h.Chamber()] = true
	}
	e.phiExtent = phiHitExtent(e.hits, e.pars.Line())
	return e
}

// EntryPars returns the reference state of the entry.
func (e Entry) EntryPars() Parameters { return e.pars }

// Hits returns the real measurements of the entry.
func (e Entry) Hits() []*Hit { return e.hits }

// Stations returns the stations the entry spans.
func (e Entry) Stations() StationSet { return e.stations }

// Chambers returns the chambers the entry spans.
func (e Entry) Chambers() map[ChamberKey]bool { return e.chambers }

// HasMomentum reports whether the entry carries a momentum measurement.
func (e Entry) HasMomentum() bool { return e.hasMomentum }

// NEtaHits returns the number of eta measurements.
func (e Entry) NEtaHits() int { return e.nEta }

// NPhiHits returns the number of phi measurements.
func (e Entry) NPhiHits() int { return e.nPhi }

// PhiExtent is the distance along the entry direction between the first
// and last phi hit; zero with fewer than two phi hits.
func (e Entry) PhiExtent() float64 { return e.phiExtent }

// Segments returns the segment records behind the entry.
func (e Entry) Segments() []*SegmentRecord {
	if e.Kind == SegmentEntry {
		return []*SegmentRecord{e.Segment}
	}
	return e.Candidate.Segments()
}

func phiHitExtent(hits []*Hit, ref Line) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, h := range hits {
		if !h.MeasuresPhi() {
			continue
		}
		d := ref.Distance(h.Position)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
		n++
	}
	if n < 2 {
		return 0
	}
	return hi - lo
}
