package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the track finder.
// Every field is optional; the Get* accessors supply the default for any
// field omitted from the JSON file.
type TuningConfig struct {
	// Search strategies, "name[opt,opt]: CH,CH; CH; all"
	Strategies []string `json:"strategies,omitempty"`

	// Seeding and extension cuts
	SeedQualityCut          *int     `json:"seed_quality_cut,omitempty"`
	SecondSegmentQualityCut *int     `json:"second_segment_quality_cut,omitempty"`
	OtherSegmentQualityCut  *int     `json:"other_segment_quality_cut,omitempty"`
	SeedQualityMargin       *int     `json:"seed_quality_margin,omitempty"`
	CongestionThreshold     *int     `json:"congestion_threshold,omitempty"`
	CongestionAngle         *float64 `json:"congestion_angle,omitempty"`
	EventTimeBudget         *string  `json:"event_time_budget,omitempty"` // duration string like "2s"

	// Toggles
	TightMatching       *bool `json:"tight_matching,omitempty"`
	DynamicSeeding      *bool `json:"dynamic_seeding,omitempty"`
	CombineInStation    *bool `json:"combine_in_station,omitempty"`
	AmbiguitySolving    *bool `json:"ambiguity_solving,omitempty"`
	Refinement          *bool `json:"refinement,omitempty"`
	UseExclusionList    *bool `json:"use_exclusion_list,omitempty"`
	UseTrackingHistory  *bool `json:"use_tracking_history,omitempty"`
	Cosmics             *bool `json:"cosmics,omitempty"`
	SingleStationTracks *bool `json:"single_station_tracks,omitempty"`
	SLOverlapRecovery   *bool `json:"sl_overlap_recovery,omitempty"`
	Recalibrate         *bool `json:"recalibrate,omitempty"`

	// Field
	FieldOn    *bool    `json:"field_on,omitempty"`
	FieldTesla *float64 `json:"field_tesla,omitempty"`

	// Matching cuts (radians)
	MatchThetaCut *float64 `json:"match_theta_cut,omitempty"`
	MatchPhiCut   *float64 `json:"match_phi_cut,omitempty"`
	TightThetaCut *float64 `json:"tight_theta_cut,omitempty"`
	TightPhiCut   *float64 `json:"tight_phi_cut,omitempty"`

	// Fit quality gates
	OpeningAngleCut  *float64 `json:"opening_angle_cut,omitempty"`
	PreCleanChi2Cut  *float64 `json:"pre_clean_chi2_cut,omitempty"`
	PostCleanChi2Cut *float64 `json:"post_clean_chi2_cut,omitempty"`
	OutlierPullCut   *float64 `json:"outlier_pull_cut,omitempty"`
	MinEntryEtaHits  *int     `json:"min_entry_eta_hits,omitempty"`
	MinCleanEtaHits  *int     `json:"min_clean_eta_hits,omitempty"`

	// Fake phi hit placement (mm)
	PhiSeparation    *float64 `json:"phi_separation,omitempty"`
	FakeErrorNoPhi   *float64 `json:"fake_error_no_phi,omitempty"`
	FakeErrorWithPhi *float64 `json:"fake_error_with_phi,omitempty"`
	FakeErrorOverlap *float64 `json:"fake_error_overlap,omitempty"`
	FakeClampBound   *float64 `json:"fake_clamp_bound,omitempty"`

	// Split track detection
	SplitDirectionCut  *float64 `json:"split_direction_cut,omitempty"`
	SplitPullCut       *float64 `json:"split_pull_cut,omitempty"`
	SplitMatchFraction *float64 `json:"split_match_fraction,omitempty"`

	// Hole recovery and phi cleaning (mm, MeV·mm)
	HoleResidualCut *float64 `json:"hole_residual_cut,omitempty"`
	PhiWindowBase   *float64 `json:"phi_window_base,omitempty"`
	PhiWindowScale  *float64 `json:"phi_window_scale,omitempty"`
	MaxPhiDistance  *float64 `json:"max_phi_distance,omitempty"`

	// Momentum (MeV)
	DefaultMomentum       *float64 `json:"default_momentum,omitempty"`
	MinMomentum           *float64 `json:"min_momentum,omitempty"`
	MaxMomentum           *float64 `json:"max_momentum,omitempty"`
	PrefitOutlierMomentum *float64 `json:"prefit_outlier_momentum,omitempty"`
	PrefitOutlierCut      *float64 `json:"prefit_outlier_cut,omitempty"` // mm
}

// DefaultStrategies is used when the configuration names none.
var DefaultStrategies = []string{
	"BarrelCombined[CutSeedsOnTracks,CombineSegInStation,DynamicSeeding]: BML,BMS; BOL,BOS; BIL,BIS",
	"EndcapCombined[CutSeedsOnTracks,CombineSegInStation,DynamicSeeding]: EML,EMS; EOL,EOS; EIL,EIS; CSL,CSS; EEL,EES; BEE",
	"BarrelEndcap[CutSeedsOnTracks,CombineSegInStation,DynamicSeeding]: EML,EMS; EOL,EOS; EIL,EIS; BIL,BIS; BML,BMS; BOL,BOS",
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/muon/fitter/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for i, s := range c.Strategies {
		head, _, ok := strings.Cut(s, ":")
		if !ok || strings.TrimSpace(head) == "" {
			return fmt.Errorf("strategy %d %q: expected \"name[options]: groups\"", i, s)
		}
	}

	nonNegInt := map[string]*int{
		"seed_quality_cut":           c.SeedQualityCut,
		"second_segment_quality_cut": c.SecondSegmentQualityCut,
		"other_segment_quality_cut":  c.OtherSegmentQualityCut,
		"seed_quality_margin":        c.SeedQualityMargin,
		"congestion_threshold":       c.CongestionThreshold,
		"min_entry_eta_hits":         c.MinEntryEtaHits,
		"min_clean_eta_hits":         c.MinCleanEtaHits,
	}
	for name, v := range nonNegInt {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	positive := map[string]*float64{
		"opening_angle_cut":   c.OpeningAngleCut,
		"pre_clean_chi2_cut":  c.PreCleanChi2Cut,
		"post_clean_chi2_cut": c.PostCleanChi2Cut,
		"outlier_pull_cut":    c.OutlierPullCut,
		"match_theta_cut":     c.MatchThetaCut,
		"match_phi_cut":       c.MatchPhiCut,
		"tight_theta_cut":     c.TightThetaCut,
		"tight_phi_cut":       c.TightPhiCut,
		"fake_error_no_phi":   c.FakeErrorNoPhi,
		"fake_error_with_phi": c.FakeErrorWithPhi,
		"fake_error_overlap":  c.FakeErrorOverlap,
		"fake_clamp_bound":    c.FakeClampBound,
		"default_momentum":    c.DefaultMomentum,
		"min_momentum":        c.MinMomentum,
		"max_momentum":        c.MaxMomentum,
		"prefit_outlier_cut":  c.PrefitOutlierCut,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.PreCleanChi2Cut != nil && c.PostCleanChi2Cut != nil && *c.PostCleanChi2Cut > *c.PreCleanChi2Cut {
		return fmt.Errorf("post_clean_chi2_cut (%f) must not exceed pre_clean_chi2_cut (%f)",
			*c.PostCleanChi2Cut, *c.PreCleanChi2Cut)
	}
	if c.GetMinMomentum() > c.GetMaxMomentum() {
		return fmt.Errorf("min_momentum (%f) must not exceed max_momentum (%f)", c.GetMinMomentum(), c.GetMaxMomentum())
	}
	if c.SplitMatchFraction != nil && (*c.SplitMatchFraction < 0 || *c.SplitMatchFraction > 1) {
		return fmt.Errorf("split_match_fraction must be between 0 and 1, got %f", *c.SplitMatchFraction)
	}

	if c.EventTimeBudget != nil && *c.EventTimeBudget != "" {
		if _, err := time.ParseDuration(*c.EventTimeBudget); err != nil {
			return fmt.Errorf("invalid event_time_budget '%s': %w", *c.EventTimeBudget, err)
		}
	}

	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetStrategies returns the configured strategy strings or DefaultStrategies.
func (c *TuningConfig) GetStrategies() []string {
	if len(c.Strategies) == 0 {
		return append([]string(nil), DefaultStrategies...)
	}
	return append([]string(nil), c.Strategies...)
}

// GetEventTimeBudget parses and returns the per-event search budget.
// Zero disables the guard.
func (c *TuningConfig) GetEventTimeBudget() time.Duration {
	if c.EventTimeBudget == nil || *c.EventTimeBudget == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.EventTimeBudget)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetSeedQualityCut returns the seed_quality_cut value or the default.
func (c *TuningConfig) GetSeedQualityCut() int { return getInt(c.SeedQualityCut, 2) }

// GetSecondSegmentQualityCut returns the second_segment_quality_cut value or the default.
func (c *TuningConfig) GetSecondSegmentQualityCut() int {
	return getInt(c.SecondSegmentQualityCut, 1)
}

// GetOtherSegmentQualityCut returns the other_segment_quality_cut value or the default.
func (c *TuningConfig) GetOtherSegmentQualityCut() int { return getInt(c.OtherSegmentQualityCut, 1) }

// GetSeedQualityMargin returns the seed_quality_margin value or the default.
func (c *TuningConfig) GetSeedQualityMargin() int { return getInt(c.SeedQualityMargin, 2) }

// GetCongestionThreshold returns the congestion_threshold value or the default.
func (c *TuningConfig) GetCongestionThreshold() int { return getInt(c.CongestionThreshold, 4) }

// GetCongestionAngle returns the congestion_angle value or the default.
func (c *TuningConfig) GetCongestionAngle() float64 { return getFloat(c.CongestionAngle, 0.05) }

func (c *TuningConfig) GetTightMatching() bool       { return getBool(c.TightMatching, true) }
func (c *TuningConfig) GetDynamicSeeding() bool      { return getBool(c.DynamicSeeding, false) }
func (c *TuningConfig) GetCombineInStation() bool    { return getBool(c.CombineInStation, false) }
func (c *TuningConfig) GetAmbiguitySolving() bool    { return getBool(c.AmbiguitySolving, true) }
func (c *TuningConfig) GetRefinement() bool          { return getBool(c.Refinement, false) }
func (c *TuningConfig) GetUseExclusionList() bool    { return getBool(c.UseExclusionList, true) }
func (c *TuningConfig) GetUseTrackingHistory() bool  { return getBool(c.UseTrackingHistory, true) }
func (c *TuningConfig) GetCosmics() bool             { return getBool(c.Cosmics, false) }
func (c *TuningConfig) GetSingleStationTracks() bool { return getBool(c.SingleStationTracks, false) }
func (c *TuningConfig) GetSLOverlapRecovery() bool   { return getBool(c.SLOverlapRecovery, true) }
func (c *TuningConfig) GetRecalibrate() bool         { return getBool(c.Recalibrate, false) }
func (c *TuningConfig) GetFieldOn() bool             { return getBool(c.FieldOn, true) }

// GetFieldTesla returns the field_tesla value or the default.
func (c *TuningConfig) GetFieldTesla() float64 { return getFloat(c.FieldTesla, 0.5) }

func (c *TuningConfig) GetMatchThetaCut() float64 { return getFloat(c.MatchThetaCut, 0.2) }
func (c *TuningConfig) GetMatchPhiCut() float64   { return getFloat(c.MatchPhiCut, 0.4) }
func (c *TuningConfig) GetTightThetaCut() float64 { return getFloat(c.TightThetaCut, 0.08) }
func (c *TuningConfig) GetTightPhiCut() float64   { return getFloat(c.TightPhiCut, 0.2) }

// GetOpeningAngleCut returns the opening_angle_cut value or the default.
func (c *TuningConfig) GetOpeningAngleCut() float64 { return getFloat(c.OpeningAngleCut, 0.3) }

// GetPreCleanChi2Cut returns the pre_clean_chi2_cut value or the default.
func (c *TuningConfig) GetPreCleanChi2Cut() float64 { return getFloat(c.PreCleanChi2Cut, 500) }

// GetPostCleanChi2Cut returns the post_clean_chi2_cut value or the default.
func (c *TuningConfig) GetPostCleanChi2Cut() float64 { return getFloat(c.PostCleanChi2Cut, 25) }

// GetOutlierPullCut returns the outlier_pull_cut value or the default.
func (c *TuningConfig) GetOutlierPullCut() float64 { return getFloat(c.OutlierPullCut, 5) }

// GetMinEntryEtaHits returns the min_entry_eta_hits value or the default.
func (c *TuningConfig) GetMinEntryEtaHits() int { return getInt(c.MinEntryEtaHits, 4) }

// GetMinCleanEtaHits returns the on-track eta hits a track must keep after
// outlier cleaning.
func (c *TuningConfig) GetMinCleanEtaHits() int { return getInt(c.MinCleanEtaHits, 5) }

func (c *TuningConfig) GetPhiSeparation() float64    { return getFloat(c.PhiSeparation, 300) }
func (c *TuningConfig) GetFakeErrorNoPhi() float64   { return getFloat(c.FakeErrorNoPhi, 100) }
func (c *TuningConfig) GetFakeErrorWithPhi() float64 { return getFloat(c.FakeErrorWithPhi, 50) }
func (c *TuningConfig) GetFakeErrorOverlap() float64 { return getFloat(c.FakeErrorOverlap, 20) }
func (c *TuningConfig) GetFakeClampBound() float64   { return getFloat(c.FakeClampBound, 2000) }

func (c *TuningConfig) GetSplitDirectionCut() float64  { return getFloat(c.SplitDirectionCut, 0.3) }
func (c *TuningConfig) GetSplitPullCut() float64       { return getFloat(c.SplitPullCut, 5) }
func (c *TuningConfig) GetSplitMatchFraction() float64 { return getFloat(c.SplitMatchFraction, 0.5) }

func (c *TuningConfig) GetHoleResidualCut() float64 { return getFloat(c.HoleResidualCut, 3) }
func (c *TuningConfig) GetPhiWindowBase() float64   { return getFloat(c.PhiWindowBase, 40) }
func (c *TuningConfig) GetPhiWindowScale() float64  { return getFloat(c.PhiWindowScale, 2e5) }
func (c *TuningConfig) GetMaxPhiDistance() float64  { return getFloat(c.MaxPhiDistance, 1500) }

func (c *TuningConfig) GetDefaultMomentum() float64 { return getFloat(c.DefaultMomentum, 20000) }
func (c *TuningConfig) GetMinMomentum() float64     { return getFloat(c.MinMomentum, 2000) }
func (c *TuningConfig) GetMaxMomentum() float64     { return getFloat(c.MaxMomentum, 1e6) }
func (c *TuningConfig) GetPrefitOutlierMomentum() float64 {
	return getFloat(c.PrefitOutlierMomentum, 5000)
}
func (c *TuningConfig) GetPrefitOutlierCut() float64 { return getFloat(c.PrefitOutlierCut, 250) }
