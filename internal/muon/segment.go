package muon

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Segment is an immutable local track stub reconstructed in one chamber.
type Segment struct {
	Position  r3.Vec
	Direction r3.Vec // unit vector pointing away from the interaction point
	// Cov is the 4x4 covariance of (local position x2, local angle x2).
	// It may be nil for segments built without an error estimate.
	Cov     *mat.SymDense
	Hits    []*Hit
	Quality int
	Chamber ChamberKey
}

// Station returns the station of the segment's chamber.
func (s *Segment) Station() StationIndex { return s.Chamber.Station() }

// ChamberIndex returns the chamber index of the segment.
func (s *Segment) ChamberIndex() ChamberIndex { return s.Chamber.Chamber() }

// IsEndcap reports whether the segment lies in an endcap station.
func (s *Segment) IsEndcap() bool { return s.Station().IsEndcap() }

// Theta returns the polar angle of the segment direction.
func (s *Segment) Theta() float64 { return Theta(s.Direction) }

// PositionPhi returns the azimuth of the segment position.
func (s *Segment) PositionPhi() float64 { return math.Atan2(s.Position.Y, s.Position.X) }

// Counts returns the number of eta and phi hits on the segment.
func (s *Segment) Counts() (eta, phi int) {
	for _, h := range s.Hits {
		if h.MeasuresPhi() {
			phi++
		} else {
			eta++
		}
	}
	return eta, phi
}

// Theta returns the polar angle of v with respect to the z axis.
func Theta(v r3.Vec) float64 {
	return math.Atan2(math.Hypot(v.X, v.Y), v.Z)
}

// Phi returns the azimuth of v.
func Phi(v r3.Vec) float64 { return math.Atan2(v.Y, v.X) }

// DirectionFromAngles builds a unit vector from polar and azimuthal angles.
func DirectionFromAngles(theta, phi float64) r3.Vec {
	st := math.Sin(theta)
	return r3.Vec{X: st * math.Cos(phi), Y: st * math.Sin(phi), Z: math.Cos(theta)}
}

// DeltaPhi returns a-b wrapped into (-π, π].
func DeltaPhi(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
