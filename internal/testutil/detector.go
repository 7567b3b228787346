package testutil

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// Station surfaces of the synthetic detector (mm). Barrel stations are
// cylinders, endcap stations are planes at ±Z.
var (
	BarrelRadius = map[muon.StationIndex]float64{
		muon.StationBI: 5000,
		muon.StationBM: 7500,
		muon.StationBO: 10000,
	}
	EndcapZ = map[muon.StationIndex]float64{
		muon.StationEI: 7500,
		muon.StationEM: 14000,
		muon.StationEO: 21000,
	}
)

const (
	// SmallChamberOffset moves small chambers outward so small and large
	// chambers of one station overlap without coinciding.
	SmallChamberOffset = 300.0
	LayerPitch         = 30.0
	PhiLayerOffset     = 250.0
	TubeHalfLength     = 1400.0
	StripHalfLength    = 1500.0
	PreciseError       = 0.5
	BroadError         = 2.0
	PhiError           = 10.0
	PhiBroadError      = 30.0
	FieldTesla         = 0.5
)

// Muon is a true trajectory: a parabola in the bending plane of the
// initial direction, pos(s) = Origin + s·d + (κ/2)·s²·u with
// κ = Charge·0.3·B/p.
type Muon struct {
	Origin   r3.Vec
	Theta    float64
	Phi      float64
	Momentum float64 // MeV, 0 means straight
	Charge   float64
	Field    float64 // Tesla
}

// StraightMuon returns a straight muon from the origin.
func StraightMuon(theta, phi float64) Muon {
	return Muon{Theta: theta, Phi: phi, Charge: 1}
}

// CurvedMuon returns a bending muon from the origin in the default field.
func CurvedMuon(theta, phi, momentum, charge float64) Muon {
	return Muon{Theta: theta, Phi: phi, Momentum: momentum, Charge: charge, Field: FieldTesla}
}

func (m Muon) dir() r3.Vec  { return muon.DirectionFromAngles(m.Theta, m.Phi) }
func (m Muon) bend() r3.Vec { return muon.BendingAxis(m.dir()) }

// Kappa returns the curvature in 1/mm.
func (m Muon) Kappa() float64 {
	if m.Momentum <= 0 || m.Field == 0 {
		return 0
	}
	return m.Charge * 0.3 * m.Field / m.Momentum
}

// At returns the position at path length s.
func (m Muon) At(s float64) r3.Vec {
	p := r3.Add(m.Origin, r3.Scale(s, m.dir()))
	return r3.Add(p, r3.Scale(0.5*m.Kappa()*s*s, m.bend()))
}

// DirectionAt returns the unit tangent at path length s.
func (m Muon) DirectionAt(s float64) r3.Vec {
	return r3.Unit(r3.Add(m.dir(), r3.Scale(m.Kappa()*s, m.bend())))
}

// crossCylinder finds s with |xy(pos(s))| = r by Newton iteration.
func (m Muon) crossCylinder(r float64) float64 {
	s := r / math.Max(math.Sin(m.Theta), 1e-3)
	for i := 0; i < 20; i++ {
		p := m.At(s)
		rho := math.Hypot(p.X, p.Y)
		d := m.DirectionAt(s)
		drho := (p.X*d.X + p.Y*d.Y) / math.Max(rho, 1e-9)
		if math.Abs(drho) < 1e-9 {
			break
		}
		step := (rho - r) / drho
		s -= step
		if math.Abs(step) < 1e-6 {
			break
		}
	}
	return s
}

// crossPlane finds s with pos(s).Z = z by Newton iteration.
func (m Muon) crossPlane(z float64) float64 {
	s := z / math.Cos(m.Theta)
	for i := 0; i < 20; i++ {
		p := m.At(s)
		d := m.DirectionAt(s)
		if math.Abs(d.Z) < 1e-9 {
			break
		}
		step := (p.Z - z) / d.Z
		s -= step
		if math.Abs(step) < 1e-6 {
			break
		}
	}
	return s
}

// SectorCenterPhi returns the azimuth of the centre of a sector (1..16).
func SectorCenterPhi(sector int) float64 {
	return float64(sector-1) * math.Pi / 8
}

// SectorFor returns the large (odd) or small (even) sector containing phi.
// Large sectors are centred on multiples of π/4, small ones in between.
func SectorFor(phi float64, small bool) int {
	if phi < 0 {
		phi += 2 * math.Pi
	}
	s := int(math.Floor((phi+math.Pi/16)/(math.Pi/8)))%16 + 1
	isSmall := s%2 == 0
	if isSmall == small {
		return s
	}
	// Pick the neighbour of the requested size closest to phi.
	up, down := s%16+1, (s+14)%16+1
	if math.Abs(muon.DeltaPhi(phi, SectorCenterPhi(up))) < math.Abs(muon.DeltaPhi(phi, SectorCenterPhi(down))) {
		return up
	}
	return down
}

// Detector swims muons through chambers and produces segments.
type Detector struct {
	// Smear is the fraction of the hit error applied as gaussian noise.
	Smear float64
	rng   *rand.Rand
}

// NewDetector returns a detector with deterministic smearing.
func NewDetector(smear float64, seed uint64) *Detector {
	return &Detector{Smear: smear, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (d *Detector) noise(sigma float64) float64 {
	if d == nil || d.Smear == 0 || d.rng == nil {
		return 0
	}
	return d.rng.NormFloat64() * sigma * d.Smear
}

// SegmentSpec selects the chamber and hit content of a generated segment.
type SegmentSpec struct {
	Chamber muon.ChamberIndex
	Sector  int // 0 means the sector containing the muon
	NEta    int
	NPhi    int
	Quality int
}

// Segment swims m through the chamber and returns the segment, or nil if
// the chamber is not part of the synthetic geometry.
func (d *Detector) Segment(m Muon, spec SegmentSpec) *muon.Segment {
	station := spec.Chamber.Station()
	small := spec.Chamber.IsSmall()
	offset := 0.0
	if small {
		offset = SmallChamberOffset
	}

	var surface func(k float64) float64 // path length of layer at offset k
	var endcap bool
	if r, ok := BarrelRadius[station]; ok {
		surface = func(k float64) float64 { return m.crossCylinder(r + offset + k) }
	} else if z, ok := EndcapZ[station]; ok {
		sign := 1.0
		if math.Cos(m.Theta) < 0 {
			sign = -1
		}
		endcap = true
		surface = func(k float64) float64 { return m.crossPlane(sign * (z + offset + k)) }
	} else {
		return nil
	}

	sector := spec.Sector
	if sector == 0 {
		mid := m.At(surface(0))
		sector = SectorFor(math.Atan2(mid.Y, mid.X), small)
	}
	phiC := SectorCenterPhi(sector)
	radial := r3.Vec{X: math.Cos(phiC), Y: math.Sin(phiC)}
	tangent := r3.Vec{X: -math.Sin(phiC), Y: math.Cos(phiC)}
	zAxis := r3.Vec{Z: 1}

	mid := m.At(surface(0))
	eta := etaIndex(mid, endcap)
	key := muon.NewChamberKey(spec.Chamber, sector, eta)

	etaTech, phiTech := muon.TechMDT, muon.TechRPC
	if endcap {
		phiTech = muon.TechTGC
	}
	if station == muon.StationCS {
		etaTech, phiTech = muon.TechCSC, muon.TechCSC
	}

	seg := &muon.Segment{Quality: spec.Quality, Chamber: key}
	var sum r3.Vec
	var sMid float64
	for k := 0; k < spec.NEta; k++ {
		s := surface(float64(k) * LayerPitch)
		p := m.At(s)
		sum = r3.Add(sum, p)
		sMid += s
		// Tubes run along the local tangent; the measured point is the
		// crossing moved onto the chamber's central line.
		along := r3.Dot(p, tangent)
		center := r3.Sub(p, r3.Scale(along, tangent))
		measured := r3.Vec{}
		var channel int
		if endcap {
			// measures r
			rho := r3.Dot(center, radial) + d.noise(PreciseError)
			measured = r3.Vec{X: rho * radial.X, Y: rho * radial.Y, Z: center.Z}
			channel = int(rho / LayerPitch)
		} else {
			z := center.Z + d.noise(PreciseError)
			measured = r3.Vec{X: center.X, Y: center.Y, Z: z}
			channel = int((z + 12000) / LayerPitch)
		}
		seg.Hits = append(seg.Hits, &muon.Hit{
			ID:           muon.NewIdentifier(etaTech, spec.Chamber, sector, eta, k, channel, false),
			Position:     measured,
			Element:      muon.Element{Center: measured, Axis: tangent, HalfLength: TubeHalfLength},
			PreciseError: PreciseError,
			BroadError:   BroadError,
			Tech:         etaTech,
		})
	}
	for k := 0; k < spec.NPhi; k++ {
		s := surface(PhiLayerOffset + float64(k)*LayerPitch)
		p := m.At(s)
		along := r3.Dot(p, tangent) + d.noise(PhiError)
		axis := zAxis
		if endcap {
			axis = radial
		}
		base := r3.Sub(p, r3.Scale(r3.Dot(p, tangent), tangent))
		measured := r3.Add(base, r3.Scale(along, tangent))
		center := measured
		if endcap {
			center = r3.Sub(measured, r3.Scale(r3.Dot(measured, radial)-r3.Dot(mid, radial), radial))
		} else {
			center.Z = mid.Z
		}
		seg.Hits = append(seg.Hits, &muon.Hit{
			ID:           muon.NewIdentifier(phiTech, spec.Chamber, sector, eta, k, int(along/LayerPitch)+512, true),
			Position:     measured,
			Element:      muon.Element{Center: center, Axis: axis, HalfLength: StripHalfLength},
			PreciseError: PhiError,
			BroadError:   PhiBroadError,
			Tech:         phiTech,
		})
	}
	if spec.NEta > 0 {
		seg.Position = r3.Scale(1/float64(spec.NEta), sum)
		seg.Direction = m.DirectionAt(sMid / float64(spec.NEta))
	} else {
		s := surface(0)
		seg.Position = m.At(s)
		seg.Direction = m.DirectionAt(s)
	}
	return seg
}

func etaIndex(p r3.Vec, endcap bool) int {
	var v float64
	if endcap {
		v = math.Hypot(p.X, p.Y) / 2500
		if p.Z < 0 {
			v = -v
		}
	} else {
		v = p.Z / 2500
	}
	e := int(v)
	if e > 7 {
		e = 7
	}
	if e < -7 {
		e = -7
	}
	return e
}

// BarrelEvent swims m through BI, BM and BO large chambers and returns a
// store with one segment per station.
func (d *Detector) BarrelEvent(m Muon, quality int) (*muon.SegmentStore, []*muon.SegmentRecord) {
	store := muon.NewSegmentStore()
	var recs []*muon.SegmentRecord
	for _, ch := range []muon.ChamberIndex{muon.ChBIL, muon.ChBML, muon.ChBOL} {
		seg := d.Segment(m, SegmentSpec{Chamber: ch, NEta: 6, NPhi: 2, Quality: quality})
		recs = append(recs, store.Add(seg))
	}
	return store, recs
}
