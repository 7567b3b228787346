package fitter

import (
	"math"

	"github.com/banshee-data/muontrack/internal/muon"
)

// PullCleaner removes the worst hit above PullCut and refits, one hit at a
// time, until no hit exceeds the cut. Outliers whose pull drops back below
// the cut after a refit are restored.
type PullCleaner struct {
	Fit           TrackFitService
	PullCut       float64
	MaxIterations int
	MinEtaHits    int
}

// Clean implements OutlierCleaner.
func (c *PullCleaner) Clean(track *muon.Track, excluded map[muon.ChamberKey]bool, opts FitOptions) *muon.Track {
	if track == nil {
		return nil
	}
	maxIter := c.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	current := track
	for iter := 0; iter < maxIter; iter++ {
		var worst *muon.Hit
		worstPull := c.PullCut
		restore := false
		for _, h := range current.Hits.Hits {
			if h.IsPseudo() || excluded[h.Chamber()] {
				continue
			}
			p := math.Abs(h.Pull)
			switch h.Status {
			case muon.HitOnTrack:
				if p > worstPull {
					worst, worstPull = h, p
				}
			case muon.HitOutlier:
				if p < 0.5*c.PullCut {
					h.Status = muon.HitOnTrack
					restore = true
				}
			}
		}
		if worst == nil && !restore {
			break
		}
		if worst != nil {
			worst.Status = muon.HitOutlier
			tracef("clean: %s flagged as outlier (pull %.1f)", worst.ID, worstPull)
		}
		refit := c.Fit.Fit(current.Pars, current.Hits.Hits, opts)
		if refit == nil {
			diagf("clean: refit failed after outlier removal")
			return nil
		}
		refit.ID = track.ID
		refit.Perigees = rebasePerigees(track, refit)
		current = refit
	}
	if eta, _ := current.Counts(); eta < c.MinEtaHits {
		diagf("clean: %d eta hits left, need %d", eta, c.MinEtaHits)
		return nil
	}
	return current
}

// rebasePerigees carries the perigee markers of the original track over
// to a refit, keeping the first perigee in sync with the new state.
func rebasePerigees(orig, refit *muon.Track) []muon.Perigee {
	if len(orig.Perigees) <= 1 {
		return []muon.Perigee{{Pars: refit.Pars, HitIndex: 0}}
	}
	out := make([]muon.Perigee, len(orig.Perigees))
	copy(out, orig.Perigees)
	out[0].Pars = refit.Pars
	return out
}

// CleanAndEvaluateTrack applies the loose chi²/ndof gate, outlier
// removal (never blaming hits in excluded chambers), then the tight gate.
// It returns nil when any step fails.
func (f *Fitter) CleanAndEvaluateTrack(track *muon.Track, excluded map[muon.ChamberKey]bool) *muon.Track {
	if track == nil {
		return nil
	}
	if chi := track.Chi2PerDof(); chi > f.cfg.PreCleanChi2Cut {
		diagf("evaluate: chi2/ndof %.1f above pre-clean cut %.1f", chi, f.cfg.PreCleanChi2Cut)
		return nil
	}
	cleaned := f.cleaner.Clean(track, excluded, f.fitOptions(track.Curved, true))
	if cleaned == nil {
		return nil
	}
	if chi := cleaned.Chi2PerDof(); chi > f.cfg.PostCleanChi2Cut {
		diagf("evaluate: chi2/ndof %.1f above post-clean cut %.1f", chi, f.cfg.PostCleanChi2Cut)
		return nil
	}
	return cleaned
}
