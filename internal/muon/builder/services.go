package builder

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
)

// FieldCache answers magnetic-field questions for one event.
type FieldCache interface {
	FieldOn() bool
	Tesla(pos r3.Vec) float64
}

// HoleRecovery adds expected but missing measurements to a track. It
// returns the number of hits added.
type HoleRecovery interface {
	Recover(track *muon.Track) int
}

// Recalibrator updates the measurements of a track in place.
type Recalibrator interface {
	Recalibrate(track *muon.Track)
}

// Extrapolator moves a track's reference state to a reference surface.
type Extrapolator interface {
	Extrapolate(track *muon.Track) bool
}

// Services are the collaborators used by the builder. Nil members are
// replaced by the reference implementations in New.
type Services struct {
	Field        FieldCache
	Holes        HoleRecovery
	Recalibrator Recalibrator
	Extrapolator Extrapolator
}

// StaticField is a uniform field.
type StaticField struct {
	On      bool
	TeslaAt float64
}

func (f StaticField) FieldOn() bool { return f.On && f.TeslaAt != 0 }

func (f StaticField) Tesla(r3.Vec) float64 {
	if !f.On {
		return 0
	}
	return f.TeslaAt
}

// HitPool recovers holes from the event's hits: a hit in a chamber the
// track already crosses is added when its residual is within
// ResidualCut precise errors.
type HitPool struct {
	Hits        []*muon.Hit
	ResidualCut float64
	Field       FieldCache
}

// NewHitPool indexes hits for hole recovery.
func NewHitPool(hits []*muon.Hit, cut float64, field FieldCache) *HitPool {
	return &HitPool{Hits: hits, ResidualCut: cut, Field: field}
}

// Recover implements HoleRecovery.
func (p *HitPool) Recover(track *muon.Track) int {
	if track == nil || len(p.Hits) == 0 {
		return 0
	}
	onTrack := make(map[muon.Identifier]bool, track.Hits.Len())
	chambers := make(map[muon.ChamberKey]bool)
	for _, h := range track.Hits.Hits {
		onTrack[h.ID] = true
		if !h.IsPseudo() {
			chambers[h.Chamber()] = true
		}
	}
	tesla := 0.0
	if p.Field != nil {
		tesla = p.Field.Tesla(track.Pars.Position)
	}

	var added []*muon.Hit
	for _, h := range p.Hits {
		if onTrack[h.ID] || !chambers[h.Chamber()] || h.IsPseudo() {
			continue
		}
		res, s, ok := fitter.Residual(track.Pars, track.Curved, tesla, h)
		if !ok || math.Abs(res) > p.ResidualCut*h.Error(true) {
			continue
		}
		c := h.Clone()
		c.Status = muon.HitOnTrack
		c.Residual, c.PathAtHit = res, s
		added = append(added, c)
		onTrack[h.ID] = true
	}
	if len(added) > 0 {
		track.Hits.Insert(added...)
		tracef("holes: %d hits recovered on track %s", len(added), track.ID)
	}
	return len(added)
}

// ErrorScaler recalibrates by scaling the precise error of every real
// measurement with a per-technology factor, never below Floor.
type ErrorScaler struct {
	Scale map[muon.Technology]float64
	Floor float64
}

// DefaultErrorScaler returns the scale factors used when recalibration is
// switched on without an external calibration service.
func DefaultErrorScaler() ErrorScaler {
	return ErrorScaler{
		Scale: map[muon.Technology]float64{
			muon.TechMDT: 1.1,
			muon.TechCSC: 1.2,
			muon.TechRPC: 1.0,
			muon.TechTGC: 1.0,
		},
		Floor: 0.05,
	}
}

// Recalibrate implements Recalibrator.
func (e ErrorScaler) Recalibrate(track *muon.Track) {
	for _, h := range track.Hits.Hits {
		if h.IsPseudo() {
			continue
		}
		f, ok := e.Scale[h.Tech]
		if !ok {
			continue
		}
		h.PreciseError = math.Max(h.PreciseError*f, e.Floor)
	}
}

// BeamLineExtrapolator moves the reference state of a track to its point
// of closest approach to the beam line.
type BeamLineExtrapolator struct {
	Field FieldCache
}

// Extrapolate implements Extrapolator.
func (b BeamLineExtrapolator) Extrapolate(track *muon.Track) bool {
	pars := track.Pars
	d := pars.Direction
	dt := d.X*d.X + d.Y*d.Y
	if dt < 1e-12 {
		return false
	}
	s := -(pars.Position.X*d.X + pars.Position.Y*d.Y) / dt

	kappa := 0.0
	if track.Curved && pars.HasMomentum && b.Field != nil {
		kappa = pars.QOverP * 0.3 * b.Field.Tesla(pars.Position)
	}
	u := pars.BendingAxis()
	pos := r3.Add(pars.Position, r3.Add(r3.Scale(s, d), r3.Scale(0.5*kappa*s*s, u)))
	dir := r3.Unit(r3.Add(d, r3.Scale(kappa*s, u)))

	track.Pars.Position = pos
	track.Pars.Direction = dir
	if len(track.Perigees) > 0 {
		track.Perigees[0].Pars = track.Pars
	}
	return true
}
