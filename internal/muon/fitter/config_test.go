package fitter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/muontrack/internal/config"
)

func TestConfigFromTuning_CleaningKeys(t *testing.T) {
	t.Parallel()

	def := DefaultConfig()
	assert.Equal(t, 5, def.MinCleanEtaHits)
	assert.Equal(t, 250.0, def.PrefitOutlierCut)

	minEta, cut := 7, 120.0
	tuning := config.EmptyTuningConfig()
	tuning.MinCleanEtaHits = &minEta
	tuning.PrefitOutlierCut = &cut
	cfg := ConfigFromTuning(tuning)
	assert.Equal(t, 7, cfg.MinCleanEtaHits)
	assert.Equal(t, 120.0, cfg.PrefitOutlierCut)

	f := NewDefault(cfg)
	cleaner, ok := f.cleaner.(*PullCleaner)
	if assert.True(t, ok) {
		assert.Equal(t, 7, cleaner.MinEtaHits)
	}
}

func TestClampMomentum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		p        float64
		lo, hi   float64
		expected float64
	}{
		{"inside", 5000, 2000, 1e6, 5000},
		{"below", 100, 2000, 1e6, 2000},
		{"above", 5e6, 2000, 1e6, 1e6},
		{"open bounds", 5e6, 0, 0, 5e6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, clampMomentum(tt.p, tt.lo, tt.hi))
		})
	}
}
