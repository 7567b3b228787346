package fitter

import (
	"github.com/banshee-data/muontrack/internal/muon"
)

// Hypothesis is the particle hypothesis used for material effects.
type Hypothesis uint8

const (
	Muon Hypothesis = iota
	NonInteracting
)

// FitOptions controls one call of the least-squares routine.
type FitOptions struct {
	Hypothesis Hypothesis
	Precise    bool    // precise instead of broad hit errors
	Material   bool    // inflate errors for multiple scattering
	Curved     bool    // fit curvature in the bending plane
	FieldTesla float64 // needed to turn curvature into momentum
}

// TrackFitService is the least-squares track fit. It returns nil when the
// fit cannot be performed or does not converge.
type TrackFitService interface {
	Fit(start muon.Parameters, hits []*muon.Hit, opts FitOptions) *muon.Track
}

// MomentumEstimator estimates q/p from two entries without momentum.
type MomentumEstimator interface {
	EstimateMomentum(e1, e2 muon.Entry) (qOverP float64, ok bool)
}

// PhiHitSelector picks the phi hits compatible with a trajectory.
type PhiHitSelector interface {
	SelectPhiHits(momentum float64, pars muon.Parameters, candidates []*muon.Hit) []*muon.Hit
}

// OutlierCleaner removes outliers from a fitted track and refits it. It
// never blames hits in excluded chambers. It returns nil when cleaning
// fails.
type OutlierCleaner interface {
	Clean(track *muon.Track, excluded map[muon.ChamberKey]bool, opts FitOptions) *muon.Track
}

// Services bundles the injected collaborators. Fit is required; the rest
// default to the reference implementations.
type Services struct {
	Fit         TrackFitService
	Momentum    MomentumEstimator
	PhiSelector PhiHitSelector
	Cleaner     OutlierCleaner
}

// Failure tells why a fit attempt produced no track.
type Failure uint8

const (
	FailNone Failure = iota
	FailCorruptEntry
	FailExtract
	FailPhiBracket
	FailSeed
	FailFakeHits
	FailFit
	FailClean
)

var failureNames = [...]string{"none", "corrupt-entry", "extract", "phi-bracket", "seed", "fake-hits", "fit", "clean"}

func (f Failure) String() string {
	if int(f) < len(failureNames) {
		return failureNames[f]
	}
	return "unknown"
}
