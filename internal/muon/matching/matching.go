// Package matching implements the cheap geometric admissibility test run
// before any combination of a track entry with a segment is fitted.
package matching

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/muon"
)

// sectorPhiTolerance is the azimuthal distance between entry and segment
// positions beyond which they cannot be in the same or adjoining sectors.
const sectorPhiTolerance = math.Pi / 8

// Config holds the angular cuts of the engine. The tight pair is used in
// congested regions.
type Config struct {
	ThetaCut      float64
	PhiCut        float64
	TightThetaCut float64
	TightPhiCut   float64
	Cosmics       bool
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ThetaCut:      cfg.GetMatchThetaCut(),
		PhiCut:        cfg.GetMatchPhiCut(),
		TightThetaCut: cfg.GetTightThetaCut(),
		TightPhiCut:   cfg.GetTightPhiCut(),
		Cosmics:       cfg.GetCosmics(),
	}
}

// Engine decides whether a segment may be combined with an entry.
type Engine struct {
	cfg Config
}

// New returns an Engine with the given cuts.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's cuts.
func (m *Engine) Config() Config { return m.cfg }

// Reject reasons, for telemetry.
const (
	reasonSameChamber = "same chamber"
	reasonSameStation = "station already on entry"
	reasonTheta       = "theta"
	reasonPhi         = "phi"
	reasonPosition    = "position phi"
)

// Match reports whether seg is geometrically compatible with base. It has
// no side effects.
func (m *Engine) Match(base muon.Entry, seg *muon.SegmentRecord, tight bool) bool {
	reason := m.reject(base, seg, tight)
	if reason != "" {
		tracef("reject %s entry vs segment %d (%s): %s", base.Kind, seg.Handle, seg.Segment.Chamber, reason)
		return false
	}
	return true
}

func (m *Engine) reject(base muon.Entry, rec *muon.SegmentRecord, tight bool) string {
	seg := rec.Segment
	if seg == nil {
		opsf("segment record %d has no segment", rec.Handle)
		return "empty record"
	}
	if reason := chamberConflict(base, seg); reason != "" {
		return reason
	}

	thetaCut, phiCut := m.cfg.ThetaCut, m.cfg.PhiCut
	if tight {
		thetaCut, phiCut = m.cfg.TightThetaCut, m.cfg.TightPhiCut
	}

	pars := base.EntryPars()
	dir := seg.Direction
	if m.cfg.Cosmics && r3.Dot(dir, pars.Direction) < 0 {
		dir = r3.Scale(-1, dir)
	}

	theta := muon.Theta(pars.Direction)
	if math.Abs(theta-muon.Theta(dir)) > thetaCut {
		return reasonTheta
	}
	if ct, ok := chordTheta(pars.Position, seg.Position, pars.Direction); ok && math.Abs(ct-theta) > thetaCut {
		return reasonTheta
	}

	_, segPhi := seg.Counts()
	if base.NPhiHits() > 0 && segPhi > 0 {
		if math.Abs(muon.DeltaPhi(muon.Phi(pars.Direction), muon.Phi(dir))) > phiCut {
			return reasonPhi
		}
	}
	if math.Abs(muon.DeltaPhi(muon.Phi(pars.Position), seg.PositionPhi())) > sectorPhiTolerance+phiCut {
		return reasonPosition
	}
	return ""
}

// chordTheta returns the polar angle of the line joining a and b in the
// r-z view, oriented along dir. Positions of segments without phi hits sit
// on the chamber centre line, so only the transverse radius is trusted.
func chordTheta(a, b, dir r3.Vec) (float64, bool) {
	dr := math.Hypot(b.X, b.Y) - math.Hypot(a.X, a.Y)
	dz := b.Z - a.Z
	if math.Hypot(dr, dz) < 1 {
		return 0, false
	}
	if dr*math.Hypot(dir.X, dir.Y)+dz*dir.Z < 0 {
		dr, dz = -dr, -dz
	}
	return math.Atan2(dr, dz), true
}

// chamberConflict rejects a segment whose chamber is already on the entry,
// or whose station is, unless it forms a small/large overlap pair with the
// entry's chamber in that station.
func chamberConflict(base muon.Entry, seg *muon.Segment) string {
	chambers := base.Chambers()
	if chambers[seg.Chamber] {
		return reasonSameChamber
	}
	if !base.Stations().Has(seg.Station()) {
		return ""
	}
	for key := range chambers {
		if key.Chamber().Station() != seg.Station() {
			continue
		}
		if !IsOverlapPair(key, seg.Chamber) {
			return reasonSameStation
		}
	}
	return ""
}

// IsOverlapPair reports whether two chambers are the small and large
// variants of one station in neighbouring sectors.
func IsOverlapPair(a, b muon.ChamberKey) bool {
	if a.Chamber().Partner() != b.Chamber() {
		return false
	}
	d := a.Sector() - b.Sector()
	if d < 0 {
		d = -d
	}
	return d == 1 || d == muon.NumSectors-1
}
