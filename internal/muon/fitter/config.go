package fitter

import (
	"github.com/banshee-data/muontrack/internal/config"
)

const (
	// MinMeasurements is the minimum number of measurements in a fit.
	MinMeasurements = 7
	// MinEtaMeasurements is the minimum number of eta measurements in a fit.
	MinEtaMeasurements = 7
)

// Config holds the cuts and constants of the fit pipeline.
type Config struct {
	OpeningAngleCut  float64 // rad, tolerated inconsistency of the phi bracket
	PreCleanChi2Cut  float64 // chi²/ndof gate before outlier removal
	PostCleanChi2Cut float64 // chi²/ndof gate after outlier removal
	OutlierPullCut   float64
	MinEntryEtaHits  int // eta hits required of a momentum-less single-station entry
	MinCleanEtaHits  int // on-track eta hits required after cleaning

	PhiSeparation    float64 // mm along the track for two phi hits to count twice
	FakeErrorNoPhi   float64 // mm
	FakeErrorWithPhi float64 // mm
	FakeErrorOverlap float64 // mm
	FakeClampBound   float64 // mm beyond the active length before a fake is refused

	PrefitOutlierMomentum float64 // MeV, seed momentum needed for pre-fit outlier removal
	PrefitOutlierCut      float64 // mm, bending-plane distance to the seed line

	CleanPhiHits   bool
	MaxPhiDistance float64 // mm beyond the first/last eta hit
	PhiWindowBase  float64 // mm
	PhiWindowScale float64 // mm·MeV

	DefaultMomentum float64 // MeV
	MinMomentum     float64
	MaxMomentum     float64

	FieldOn    bool
	FieldTesla float64
	Hypothesis Hypothesis
}

// DefaultConfig returns pipeline configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		OpeningAngleCut:       cfg.GetOpeningAngleCut(),
		PreCleanChi2Cut:       cfg.GetPreCleanChi2Cut(),
		PostCleanChi2Cut:      cfg.GetPostCleanChi2Cut(),
		OutlierPullCut:        cfg.GetOutlierPullCut(),
		MinEntryEtaHits:       cfg.GetMinEntryEtaHits(),
		MinCleanEtaHits:       cfg.GetMinCleanEtaHits(),
		PhiSeparation:         cfg.GetPhiSeparation(),
		FakeErrorNoPhi:        cfg.GetFakeErrorNoPhi(),
		FakeErrorWithPhi:      cfg.GetFakeErrorWithPhi(),
		FakeErrorOverlap:      cfg.GetFakeErrorOverlap(),
		FakeClampBound:        cfg.GetFakeClampBound(),
		PrefitOutlierMomentum: cfg.GetPrefitOutlierMomentum(),
		PrefitOutlierCut:      cfg.GetPrefitOutlierCut(),
		CleanPhiHits:          true,
		MaxPhiDistance:        cfg.GetMaxPhiDistance(),
		PhiWindowBase:         cfg.GetPhiWindowBase(),
		PhiWindowScale:        cfg.GetPhiWindowScale(),
		DefaultMomentum:       cfg.GetDefaultMomentum(),
		MinMomentum:           cfg.GetMinMomentum(),
		MaxMomentum:           cfg.GetMaxMomentum(),
		FieldOn:               cfg.GetFieldOn(),
		FieldTesla:            cfg.GetFieldTesla(),
		Hypothesis:            Muon,
	}
}

// field returns the field strength used for curvature, zero when off.
func (c Config) field() float64 {
	if !c.FieldOn {
		return 0
	}
	return c.FieldTesla
}

// clampMomentum bounds p to [lo, hi]; a non-positive bound is open.
func clampMomentum(p, lo, hi float64) float64 {
	if lo > 0 && p < lo {
		return lo
	}
	if hi > 0 && p > hi {
		return hi
	}
	return p
}
