package builder

import (
	"github.com/banshee-data/muontrack/internal/config"
)

// Config holds the switches and tolerances of the track builder.
type Config struct {
	FieldOn    bool
	FieldTesla float64

	UseExclusionList   bool
	UseTrackingHistory bool
	SLOverlapRecovery  bool
	Recalibrate        bool
	Cosmics            bool

	HoleResidualCut float64 // in units of the hit's precise error

	SplitDirectionCut  float64 // rad between the two halves' directions
	SplitPullCut       float64 // cross-extrapolated pull tolerance
	SplitMatchFraction float64 // fraction of hits that must be within tolerance
}

// DefaultConfig returns builder configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		FieldOn:            cfg.GetFieldOn(),
		FieldTesla:         cfg.GetFieldTesla(),
		UseExclusionList:   cfg.GetUseExclusionList(),
		UseTrackingHistory: cfg.GetUseTrackingHistory(),
		SLOverlapRecovery:  cfg.GetSLOverlapRecovery(),
		Recalibrate:        cfg.GetRecalibrate(),
		Cosmics:            cfg.GetCosmics(),
		HoleResidualCut:    cfg.GetHoleResidualCut(),
		SplitDirectionCut:  cfg.GetSplitDirectionCut(),
		SplitPullCut:       cfg.GetSplitPullCut(),
		SplitMatchFraction: cfg.GetSplitMatchFraction(),
	}
}
