package fitter

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// minSeedBaseline is the distance between two entries below which the
// line joining them is not used as seed direction (mm).
const minSeedBaseline = 100.0

// CreateStartParameters builds the seed state for combining e1 and e2.
//
// The polar angle comes from the line joining the two entries when they
// are far enough apart, otherwise from the first entry's direction. The
// entry with the larger phi-hit extent anchors position and azimuth; when
// neither has phi hits the azimuth is the centre of the phi bracket.
// Momentum comes from whichever entry has one, else from the momentum
// estimator, else DefaultMomentum (flagged as unknown).
func (f *Fitter) CreateStartParameters(data *FitterData, e1, e2 muon.Entry) (muon.Parameters, bool) {
	p1, p2 := e1.EntryPars(), e2.EntryPars()

	anchor := p1
	anchorEntry := e1
	if e2.PhiExtent() > e1.PhiExtent() || (e1.NPhiHits() == 0 && e2.NPhiHits() > 0) {
		anchor = p2
		anchorEntry = e2
	}

	dir := p1.Direction
	chord := r3.Sub(p2.Position, p1.Position)
	if r3.Norm(chord) > minSeedBaseline {
		dir = r3.Unit(chord)
		if r3.Dot(dir, p1.Direction) < 0 {
			dir = r3.Scale(-1, dir)
		}
	}
	if r3.Norm(dir) == 0 || math.IsNaN(dir.X) {
		diagf("seed: degenerate direction")
		return muon.Parameters{}, false
	}

	theta := muon.Theta(dir)
	phi := muon.Phi(anchor.Direction)
	if e1.NPhiHits() == 0 && e2.NPhiHits() == 0 && data != nil {
		phi = data.PhiAverage
	}

	start := muon.Parameters{
		Position:  anchor.Position,
		Direction: muon.DirectionFromAngles(theta, phi),
	}

	switch {
	case e1.HasMomentum():
		start.QOverP = p1.QOverP
		start.HasMomentum = true
	case e2.HasMomentum():
		start.QOverP = p2.QOverP
		start.HasMomentum = true
	default:
		if q, ok := f.momentum.EstimateMomentum(e1, e2); ok {
			start.QOverP = q
		} else {
			start.QOverP = 1 / f.cfg.DefaultMomentum
		}
	}
	tracef("seed: theta=%.4f phi=%.4f anchor=%s p=%.0f known=%v",
		theta, phi, anchorEntry.Kind, math.Abs(1/start.QOverP), start.HasMomentum)

	if data != nil {
		data.StartPars = start
		data.HasStart = true
	}
	return start, true
}

// DeflectionEstimator estimates momentum from the change of polar angle
// between two entries: κ = Δθ/Δs and p = 0.3·B/|κ|.
type DeflectionEstimator struct {
	FieldTesla  float64
	MinMomentum float64
	MaxMomentum float64
}

// EstimateMomentum implements MomentumEstimator.
func (d DeflectionEstimator) EstimateMomentum(e1, e2 muon.Entry) (float64, bool) {
	if d.FieldTesla <= 0 {
		return 0, false
	}
	p1, p2 := e1.EntryPars(), e2.EntryPars()
	if r3.Norm(p1.Position) > r3.Norm(p2.Position) {
		p1, p2 = p2, p1
	}
	ds := r3.Norm(r3.Sub(p2.Position, p1.Position))
	if ds < minSeedBaseline {
		return 0, false
	}
	dTheta := muon.Theta(p2.Direction) - muon.Theta(p1.Direction)
	if math.Abs(dTheta) < 1e-9 {
		return 0, false
	}
	kappa := dTheta / ds
	p := clampMomentum(0.3*d.FieldTesla/math.Abs(kappa), d.MinMomentum, d.MaxMomentum)
	return math.Copysign(1/p, kappa), true
}
