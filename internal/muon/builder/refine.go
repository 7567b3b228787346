package builder

import (
	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
)

// Refine improves a candidate's track in place:
//
//	Step 1: recover holes along the fitted trajectory
//	Step 2: recalibrate the measurements (when enabled)
//	Step 3: refit
//	Step 4: recover holes again, for hits the refit lost
//	Step 5: extrapolate to the beam line
//
// It returns false and leaves the candidate untouched when the refit fails.
func (b *Builder) Refine(c *muon.TrackCandidate) bool {
	orig := c.Track()
	if orig == nil {
		return false
	}
	track := orig.Clone()

	// Step 1
	recovered := b.svc.Holes.Recover(track)

	// Step 2
	if b.cfg.Recalibrate && b.svc.Recalibrator != nil {
		b.svc.Recalibrator.Recalibrate(track)
	}

	// Step 3
	chambers := make(map[muon.ChamberKey]bool)
	for _, h := range track.Hits.Hits {
		if !h.IsPseudo() {
			chambers[h.Chamber()] = true
		}
	}
	refit := b.fit.Refit(track, fitter.Options{StraightLine: !track.Curved, ExtraPhiHits: b.phiPool(chambers)})
	if refit == nil {
		diagf("refine: refit of %s failed after %d recovered hits", c.ID, recovered)
		return false
	}
	refit.ID = orig.ID
	refit.Perigees = remapPerigees(orig, refit)

	// Step 4
	recovered += b.svc.Holes.Recover(refit)

	// Step 5
	if !b.svc.Extrapolator.Extrapolate(refit) {
		tracef("refine: %s not extrapolated", c.ID)
	}

	c.UpdateTrack(refit)
	c.Stage = muon.StageRefined
	b.stats.Refined++
	b.stats.HolesRecovered += recovered
	tracef("refine: %s refitted with %d recovered hits, chi2/ndof %.2f", c.ID, recovered, refit.Chi2PerDof())
	return true
}

// remapPerigees carries the perigee markers of orig to refit, locating
// each marker by the identifier of the hit it pointed at.
func remapPerigees(orig, refit *muon.Track) []muon.Perigee {
	out := []muon.Perigee{{Pars: refit.Pars, HitIndex: 0}}
	if len(orig.Perigees) < 2 {
		return out
	}
	for _, p := range orig.Perigees[1:] {
		if p.HitIndex < 0 || p.HitIndex >= orig.Hits.Len() {
			opsf("perigee index %d out of range on track %s", p.HitIndex, orig.ID)
			continue
		}
		id := orig.Hits.Hits[p.HitIndex].ID
		for i, h := range refit.Hits.Hits {
			if h.ID == id {
				out = append(out, muon.Perigee{Pars: p.Pars, HitIndex: i})
				break
			}
		}
	}
	return out
}
