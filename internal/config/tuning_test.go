package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "seed_quality_cut": 3,
  "tight_matching": false,
  "event_time_budget": "250ms",
  "match_theta_cut": 0.15,
  "min_clean_eta_hits": 6,
  "prefit_outlier_cut": 120,
  "strategies": ["Barrel: BML; BOL"]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetSeedQualityCut(); got != 3 {
		t.Errorf("GetSeedQualityCut() = %d, want 3", got)
	}
	if cfg.GetTightMatching() {
		t.Error("GetTightMatching() = true, want false")
	}
	if got := cfg.GetEventTimeBudget(); got != 250*time.Millisecond {
		t.Errorf("GetEventTimeBudget() = %v, want 250ms", got)
	}
	if got := cfg.GetMatchThetaCut(); got != 0.15 {
		t.Errorf("GetMatchThetaCut() = %f, want 0.15", got)
	}
	if got := cfg.GetMinCleanEtaHits(); got != 6 {
		t.Errorf("GetMinCleanEtaHits() = %d, want 6", got)
	}
	if got := cfg.GetPrefitOutlierCut(); got != 120 {
		t.Errorf("GetPrefitOutlierCut() = %f, want 120", got)
	}
	if got := cfg.GetStrategies(); len(got) != 1 || got[0] != "Barrel: BML; BOL" {
		t.Errorf("GetStrategies() = %v", got)
	}
	// Omitted fields fall back to defaults.
	if got := cfg.GetFieldTesla(); got != 0.5 {
		t.Errorf("GetFieldTesla() = %f, want default 0.5", got)
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "seed_quality_cut": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("config.yaml"); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("Expected extension error, got %v", err)
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.json")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("Expected error for oversized file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "empty config is valid", cfg: &TuningConfig{}},
		{name: "defaults file is valid", cfg: MustLoadDefaultConfig()},
		{name: "negative seed cut", cfg: &TuningConfig{SeedQualityCut: ptrInt(-1)}, wantErr: true},
		{name: "zero opening angle", cfg: &TuningConfig{OpeningAngleCut: ptrFloat64(0)}, wantErr: true},
		{name: "negative clean eta hits", cfg: &TuningConfig{MinCleanEtaHits: ptrInt(-1)}, wantErr: true},
		{name: "zero prefit outlier cut", cfg: &TuningConfig{PrefitOutlierCut: ptrFloat64(0)}, wantErr: true},
		{
			name:    "post-clean above pre-clean",
			cfg:     &TuningConfig{PreCleanChi2Cut: ptrFloat64(10), PostCleanChi2Cut: ptrFloat64(20)},
			wantErr: true,
		},
		{
			name:    "min momentum above max",
			cfg:     &TuningConfig{MinMomentum: ptrFloat64(5e5), MaxMomentum: ptrFloat64(1e5)},
			wantErr: true,
		},
		{name: "split fraction above one", cfg: &TuningConfig{SplitMatchFraction: ptrFloat64(1.5)}, wantErr: true},
		{name: "bad time budget", cfg: &TuningConfig{EventTimeBudget: ptrString("soon")}, wantErr: true},
		{name: "strategy without colon", cfg: &TuningConfig{Strategies: []string{"Barrel BML"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEventTimeBudget(t *testing.T) {
	tests := []struct {
		name string
		v    *string
		want time.Duration
	}{
		{"nil uses default", nil, 2 * time.Second},
		{"empty uses default", ptrString(""), 2 * time.Second},
		{"explicit", ptrString("750ms"), 750 * time.Millisecond},
		{"zero disables", ptrString("0s"), 0},
		{"unparsable uses default", ptrString("later"), 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &TuningConfig{EventTimeBudget: tt.v}
			if got := cfg.GetEventTimeBudget(); got != tt.want {
				t.Errorf("GetEventTimeBudget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetStrategiesCopies(t *testing.T) {
	cfg := EmptyTuningConfig()
	got := cfg.GetStrategies()
	if len(got) != len(DefaultStrategies) {
		t.Fatalf("GetStrategies() returned %d strategies, want %d", len(got), len(DefaultStrategies))
	}
	got[0] = "mutated"
	if DefaultStrategies[0] == "mutated" {
		t.Error("GetStrategies() must not alias DefaultStrategies")
	}
}

// TestDefaultsFileMatchesGetters checks that the canonical defaults file
// sets every field and agrees with the built-in getter defaults.
func TestDefaultsFileMatchesGetters(t *testing.T) {
	file := MustLoadDefaultConfig()
	empty := EmptyTuningConfig()

	fv := reflect.ValueOf(file).Elem()
	for i := 0; i < fv.NumField(); i++ {
		f := fv.Field(i)
		name := fv.Type().Field(i).Name
		if f.Kind() == reflect.Ptr && f.IsNil() {
			t.Errorf("defaults file does not set %s", name)
		}
	}

	ft, et := reflect.ValueOf(file), reflect.ValueOf(empty)
	for i := 0; i < ft.NumMethod(); i++ {
		m := ft.Type().Method(i)
		if !strings.HasPrefix(m.Name, "Get") || m.Type.NumIn() != 1 || m.Type.NumOut() != 1 {
			continue
		}
		got := ft.Method(i).Call(nil)[0].Interface()
		want := et.MethodByName(m.Name).Call(nil)[0].Interface()
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: defaults file %v, getter default %v", m.Name, got, want)
		}
	}
}
