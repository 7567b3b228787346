package muon

import (
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Parameters is a trajectory state at a reference point.
type Parameters struct {
	Position  r3.Vec
	Direction r3.Vec // unit vector
	// QOverP is charge over momentum in 1/MeV. Only meaningful when
	// HasMomentum is set.
	QOverP      float64
	HasMomentum bool
	// Cov is the 5x5 covariance (two positions, two angles, q/p). May be nil.
	Cov *mat.SymDense
}

// Momentum returns |p| in MeV, or 0 when unknown.
func (p Parameters) Momentum() float64 {
	if !p.HasMomentum || p.QOverP == 0 {
		return 0
	}
	return math.Abs(1 / p.QOverP)
}

// Charge returns the sign of QOverP, defaulting to +1.
func (p Parameters) Charge() float64 {
	if p.QOverP < 0 {
		return -1
	}
	return 1
}

func (p Parameters) Theta() float64 { return Theta(p.Direction) }
func (p Parameters) Phi() float64   { return Phi(p.Direction) }

// Line returns the straight-line approximation through the state.
func (p Parameters) Line() Line { return Line{Origin: p.Position, Direction: p.Direction} }

// BendingAxis is the unit vector of increasing polar angle, orthogonal to
// the direction. Eta measurements are projected on it.
func (p Parameters) BendingAxis() r3.Vec { return BendingAxis(p.Direction) }

// AzimuthalAxis is the unit vector of increasing azimuth, orthogonal to
// the direction. Phi measurements are projected on it.
func (p Parameters) AzimuthalAxis() r3.Vec { return AzimuthalAxis(p.Direction) }

// BendingAxis returns ∂d/∂θ for the unit direction d.
func BendingAxis(d r3.Vec) r3.Vec {
	theta, phi := Theta(d), Phi(d)
	ct := math.Cos(theta)
	return r3.Vec{X: ct * math.Cos(phi), Y: ct * math.Sin(phi), Z: -math.Sin(theta)}
}

// AzimuthalAxis returns the normalised ∂d/∂φ for the unit direction d.
func AzimuthalAxis(d r3.Vec) r3.Vec {
	phi := Phi(d)
	return r3.Vec{X: -math.Sin(phi), Y: math.Cos(phi)}
}

// Clone deep-copies the parameters.
func (p Parameters) Clone() Parameters {
	c := p
	if p.Cov != nil {
		c.Cov = mat.NewSymDense(p.Cov.SymmetricDim(), nil)
		c.Cov.CopySym(p.Cov)
	}
	return c
}

// Perigee marks a reference state on the track. HitIndex is the position
// in the track's hit list from which the state applies.
type Perigee struct {
	Pars     Parameters
	HitIndex int
}

// Track is a fitted trajectory with its ordered measurements.
type Track struct {
	ID       uuid.UUID
	Pars     Parameters
	Hits     *HitList
	Chi2     float64
	Ndof     int
	Curved   bool
	Perigees []Perigee
}

// NewTrack creates a track with a fresh identity and a single perigee.
func NewTrack(pars Parameters, hits *HitList, chi2 float64, ndof int) *Track {
	return &Track{
		ID:       uuid.New(),
		Pars:     pars,
		Hits:     hits,
		Chi2:     chi2,
		Ndof:     ndof,
		Perigees: []Perigee{{Pars: pars, HitIndex: 0}},
	}
}

// Chi2PerDof returns chi²/ndof, or +Inf when ndof is not positive.
func (t *Track) Chi2PerDof() float64 {
	if t.Ndof <= 0 {
		return math.Inf(1)
	}
	return t.Chi2 / float64(t.Ndof)
}

// Stations returns the stations crossed by real hits.
func (t *Track) Stations() StationSet { return t.Hits.Stations() }

// Counts returns the on-track eta and phi hit counts.
func (t *Track) Counts() (eta, phi int) { return t.Hits.Counts() }

// Outliers returns the number of hits flagged as outliers.
func (t *Track) Outliers() int {
	n := 0
	for _, h := range t.Hits.Hits {
		if h.Status == HitOutlier {
			n++
		}
	}
	return n
}

// Clone deep-copies the track, hits included. The copy keeps the ID.
func (t *Track) Clone() *Track {
	c := *t
	c.Pars = t.Pars.Clone()
	c.Hits = t.Hits.Clone()
	c.Perigees = make([]Perigee, len(t.Perigees))
	for i, p := range t.Perigees {
		c.Perigees[i] = Perigee{Pars: p.Pars.Clone(), HitIndex: p.HitIndex}
	}
	return &c
}

// Better reports whether a is of higher quality than b: more precision
// hits, then fewer outliers, then lower chi²/ndof.
func Better(a, b *Track) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	ea, _ := a.Counts()
	eb, _ := b.Counts()
	if ea != eb {
		return ea > eb
	}
	if oa, ob := a.Outliers(), b.Outliers(); oa != ob {
		return oa < ob
	}
	return a.Chi2PerDof() < b.Chi2PerDof()
}
