package fitter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/testutil"
)

func straightConfig() Config {
	cfg := DefaultConfig()
	cfg.FieldOn = false
	return cfg
}

func entries(t *testing.T, m testutil.Muon, specs ...testutil.SegmentSpec) (*muon.SegmentStore, []muon.Entry) {
	t.Helper()
	det := testutil.NewDetector(0, 1)
	store := muon.NewSegmentStore()
	var out []muon.Entry
	for _, s := range specs {
		seg := det.Segment(m, s)
		require.NotNil(t, seg, "chamber %s not in test geometry", s.Chamber)
		out = append(out, muon.NewSegmentEntry(store.Add(seg)))
	}
	return store, out
}

func hitList(es ...muon.Entry) *muon.HitList {
	var hits []*muon.Hit
	for _, e := range es {
		for _, h := range e.Hits() {
			hits = append(hits, h.Clone())
		}
	}
	ref := muon.Line{Origin: r3.Vec{}, Direction: r3.Unit(es[0].EntryPars().Position)}
	return muon.NewHitList(ref, hits)
}

func TestExtractData_MeasurementThresholds(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.3, 0.1)

	cases := []struct {
		name       string
		eta1, eta2 int
		phi1, phi2 int
		ok         bool
	}{
		{"six eta hits", 3, 3, 2, 2, false},
		{"seven eta no phi", 4, 3, 0, 0, true},
		{"seven eta with phi", 4, 3, 2, 1, true},
		{"plenty", 6, 6, 2, 2, true},
		{"phi cannot compensate", 2, 2, 3, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, es := entries(t, m,
				testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: tc.eta1, NPhi: tc.phi1, Quality: 3},
				testutil.SegmentSpec{Chamber: muon.ChBML, NEta: tc.eta2, NPhi: tc.phi2, Quality: 3},
			)
			data, ok := f.ExtractData(hitList(es...), false, nil)
			total := tc.eta1 + tc.eta2 + tc.phi1 + tc.phi2
			eta := tc.eta1 + tc.eta2
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, !(total < MinMeasurements || eta < MinEtaMeasurements), ok)
			if ok {
				assert.Len(t, data.Eta, eta)
				assert.Len(t, data.Phi, tc.phi1+tc.phi2)
				assert.Equal(t, tc.eta1+tc.phi1, data.LargeChambers[muon.StationBI])
				assert.Zero(t, data.SmallChambers[muon.StationBI])
			}
		})
	}
}

func TestExtractData_SeedOutlierRemoval(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.3, 0.1)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 6, NPhi: 1, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 6, NPhi: 1, Quality: 3},
	)
	hl := hitList(es...)
	// Push one eta hit a metre off the trajectory.
	var moved *muon.Hit
	for _, h := range hl.Hits {
		if !h.MeasuresPhi() {
			moved = h
			break
		}
	}
	moved.Position.Z += 1000

	seed := muon.Parameters{Position: r3.Vec{}, Direction: muon.DirectionFromAngles(1.3, 0.1), QOverP: 1.0 / 50000, HasMomentum: true}
	data, ok := f.ExtractData(hl, false, &seed)
	require.True(t, ok)
	assert.Equal(t, muon.HitOutlier, moved.Status)
	assert.Len(t, data.Eta, 11)
}

func TestCorruptEntry(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.3, 0.1)

	t.Run("single station with three eta hits", func(t *testing.T) {
		_, es := entries(t, m, testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 3, NPhi: 1, Quality: 1})
		assert.True(t, f.CorruptEntry(es[0]))
	})
	t.Run("single station with four eta hits", func(t *testing.T) {
		_, es := entries(t, m, testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: 1, Quality: 1})
		assert.False(t, f.CorruptEntry(es[0]))
	})
	t.Run("three eta hits never reach the fit", func(t *testing.T) {
		_, es := entries(t, m,
			testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 3, NPhi: 1, Quality: 1},
			testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 6, NPhi: 1, Quality: 3},
		)
		track, fail := f.FitEntries(es[0], es[1], Options{})
		assert.Nil(t, track)
		assert.Equal(t, FailCorruptEntry, fail)
	})
}

func TestGetMinMaxPhi(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())

	t.Run("compatible segments", func(t *testing.T) {
		m := testutil.StraightMuon(1.3, 0.05)
		_, es := entries(t, m,
			testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: 1, Quality: 3},
			testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: 1, Quality: 2},
		)
		data, ok := f.ExtractData(hitList(es...), false, nil)
		require.True(t, ok)
		require.True(t, f.GetMinMaxPhi(data))
		assert.LessOrEqual(t, data.PhiMin, data.PhiMax)
		assert.InDelta(t, 0.05, data.PhiAverage, 0.2)
	})

	t.Run("opening angle above cut", func(t *testing.T) {
		det := testutil.NewDetector(0, 1)
		store := muon.NewSegmentStore()
		a := det.Segment(testutil.StraightMuon(1.3, 0), testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: 1, Quality: 3})
		b := det.Segment(testutil.StraightMuon(1.3, math.Pi/2), testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: 1, Quality: 2})
		ea, eb := muon.NewSegmentEntry(store.Add(a)), muon.NewSegmentEntry(store.Add(b))
		data, ok := f.ExtractData(hitList(ea, eb), false, nil)
		require.True(t, ok)
		assert.False(t, f.GetMinMaxPhi(data))

		track, fail := f.FitEntries(ea, eb, Options{StraightLine: true})
		assert.Nil(t, track)
		assert.Equal(t, FailPhiBracket, fail)
	})

	t.Run("wraps around pi", func(t *testing.T) {
		m := testutil.StraightMuon(1.3, math.Pi-0.01)
		_, es := entries(t, m,
			testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: 0, Quality: 3},
			testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: 0, Quality: 2},
		)
		data, ok := f.ExtractData(hitList(es...), false, nil)
		require.True(t, ok)
		require.True(t, f.GetMinMaxPhi(data))
		assert.InDelta(t, 0, muon.DeltaPhi(data.PhiAverage, math.Pi-0.01), 0.2)
	})
}

func TestAddFakePhiHits(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.3, 0.05)
	seed := muon.Parameters{Position: m.At(5000), Direction: muon.DirectionFromAngles(1.3, 0.05)}

	prepare := func(t *testing.T, nPhi1, nPhi2 int) *FitterData {
		_, es := entries(t, m,
			testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: nPhi1, Quality: 3},
			testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: nPhi2, Quality: 2},
		)
		data, ok := f.ExtractData(hitList(es...), false, nil)
		require.True(t, ok)
		return data
	}

	t.Run("enough constraints adds nothing", func(t *testing.T) {
		data := prepare(t, 1, 1)
		before := data.Hits.Len()
		require.True(t, f.AddFakePhiHits(data, seed))
		assert.Equal(t, before, data.Hits.Len())
		assert.Empty(t, data.Garbage)
	})

	t.Run("no phi hits gets two fakes", func(t *testing.T) {
		data := prepare(t, 0, 0)
		require.True(t, f.AddFakePhiHits(data, seed))
		assert.Len(t, data.Phi, 2)
		assert.Len(t, data.Garbage, 2)
		for _, h := range data.Phi {
			assert.Equal(t, muon.HitPseudo, h.Status)
			assert.True(t, h.MeasuresPhi())
			assert.Equal(t, f.cfg.FakeErrorNoPhi, h.PreciseError)
		}
		data.Release()
		assert.Empty(t, data.Garbage)
	})

	t.Run("one phi hit gets a fake at the far end", func(t *testing.T) {
		data := prepare(t, 1, 0)
		realBefore := len(data.RealPhi())
		require.True(t, f.AddFakePhiHits(data, seed))
		assert.Len(t, data.RealPhi(), realBefore)
		require.Len(t, data.Garbage, 1)
		assert.Equal(t, muon.StationBM, data.Garbage[0].ID.Station())
		assert.Equal(t, f.cfg.FakeErrorWithPhi, data.Garbage[0].PreciseError)
	})

	t.Run("clamp beyond bound rejects", func(t *testing.T) {
		data := prepare(t, 0, 0)
		before := len(data.Phi)
		far := seed
		far.Position = r3.Add(seed.Position, r3.Vec{X: -20000 * math.Sin(0.05), Y: 20000 * math.Cos(0.05)})
		assert.False(t, f.AddFakePhiHits(data, far))
		assert.GreaterOrEqual(t, len(data.Phi), before)
	})
}

func TestFitEntries_StraightTwoStations(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.2, 0.15)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: 1, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: 1, Quality: 2},
	)
	track, fail := f.FitEntries(es[0], es[1], Options{StraightLine: true})
	require.Equal(t, FailNone, fail)
	require.NotNil(t, track)

	eta, phi := track.Counts()
	assert.GreaterOrEqual(t, eta, 8)
	assert.Equal(t, 2, phi)
	assert.Less(t, track.Chi2PerDof(), 1.0)
	assert.InDelta(t, 1.2, track.Pars.Theta(), 1e-3)
	assert.InDelta(t, 0.15, track.Pars.Phi(), 5e-3)
	assert.Equal(t, 2, track.Stations().Len())
}

func TestFitEntries_CurvedMomentum(t *testing.T) {
	t.Parallel()
	f := NewDefault(DefaultConfig())
	m := testutil.CurvedMuon(1.1, 0.2, 40000, -1)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 6, NPhi: 2, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBOL, NEta: 6, NPhi: 2, Quality: 3},
	)
	track, fail := f.FitEntries(es[0], es[1], Options{})
	require.Equal(t, FailNone, fail)
	require.True(t, track.Curved)
	require.True(t, track.Pars.HasMomentum)
	assert.InEpsilon(t, 40000, track.Pars.Momentum(), 0.2)
	assert.Equal(t, -1.0, track.Pars.Charge())
}

func TestCleanAndEvaluateTrack(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.3, 0.1)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 6, NPhi: 1, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 6, NPhi: 1, Quality: 3},
	)
	hl := hitList(es...)
	var bad *muon.Hit
	for _, h := range hl.Hits {
		if !h.MeasuresPhi() && h.ID.Station() == muon.StationBM {
			bad = h
		}
	}
	bad.Position.Z += 15 // 30 sigma

	start := muon.Parameters{Position: es[0].EntryPars().Position, Direction: es[0].EntryPars().Direction}
	raw := f.Fit(start, hl.Hits, false, false)
	require.NotNil(t, raw)
	require.Greater(t, raw.Chi2PerDof(), f.cfg.PostCleanChi2Cut)

	t.Run("outlier removed", func(t *testing.T) {
		cleaned := f.CleanAndEvaluateTrack(raw.Clone(), nil)
		require.NotNil(t, cleaned)
		assert.Equal(t, 1, cleaned.Outliers())
		assert.Less(t, cleaned.Chi2PerDof(), 1.0)
		for _, h := range cleaned.Hits.Hits {
			if h.ID == bad.ID {
				assert.Equal(t, muon.HitOutlier, h.Status)
			}
		}
	})

	t.Run("excluded chamber is never blamed", func(t *testing.T) {
		// The displaced hit cannot be removed, so only the loose gate applies.
		loose := straightConfig()
		loose.PostCleanChi2Cut = loose.PreCleanChi2Cut
		g := NewDefault(loose)
		excluded := map[muon.ChamberKey]bool{bad.Chamber(): true}
		cleaned := g.CleanAndEvaluateTrack(raw.Clone(), excluded)
		require.NotNil(t, cleaned)
		inChamber := 0
		for _, h := range cleaned.Hits.Hits {
			if h.Chamber() == bad.Chamber() {
				inChamber++
				assert.NotEqual(t, muon.HitOutlier, h.Status, "%s blamed", h.ID)
			}
		}
		assert.Positive(t, inChamber)
	})

	t.Run("pre-clean gate", func(t *testing.T) {
		strict := straightConfig()
		strict.PreCleanChi2Cut = 1
		strict.PostCleanChi2Cut = 1
		g := NewDefault(strict)
		assert.Nil(t, g.CleanAndEvaluateTrack(raw.Clone(), nil))
	})
}

func TestLeastSquaresFit_RecoversLine(t *testing.T) {
	t.Parallel()
	cfg := straightConfig()
	lsq := NewLeastSquaresFit(cfg)
	m := testutil.StraightMuon(0.9, -0.4)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 6, NPhi: 2, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBOL, NEta: 6, NPhi: 2, Quality: 3},
	)
	hl := hitList(es...)
	start := muon.Parameters{
		Position:  r3.Add(es[0].EntryPars().Position, r3.Vec{Z: 20}),
		Direction: muon.DirectionFromAngles(0.92, -0.38),
	}
	track := lsq.Fit(start, hl.Hits, FitOptions{Precise: true})
	require.NotNil(t, track)
	assert.InDelta(t, 0.9, track.Pars.Theta(), 1e-4)
	assert.InDelta(t, -0.4, track.Pars.Phi(), 1e-3)
	assert.Less(t, track.Chi2, 1e-3)
	assert.Equal(t, hl.Len()-4, track.Ndof)

	t.Run("too few measurements", func(t *testing.T) {
		assert.Nil(t, lsq.Fit(start, hl.Hits[:4], FitOptions{Precise: true}))
	})
}

func TestDeflectionEstimator(t *testing.T) {
	t.Parallel()
	m := testutil.CurvedMuon(1.2, 0.1, 30000, 1)
	_, es := entries(t, m,
		testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 6, Quality: 3},
		testutil.SegmentSpec{Chamber: muon.ChBOL, NEta: 6, Quality: 3},
	)
	est := DeflectionEstimator{FieldTesla: testutil.FieldTesla, MinMomentum: 1000, MaxMomentum: 1e7}
	q, ok := est.EstimateMomentum(es[0], es[1])
	require.True(t, ok)
	assert.Greater(t, q, 0.0)
	assert.InEpsilon(t, 30000, 1/q, 0.1)

	capped := est
	capped.MaxMomentum = 10000
	q, ok = capped.EstimateMomentum(es[0], es[1])
	require.True(t, ok)
	assert.InDelta(t, 10000, 1/q, 1e-6)

	_, ok = DeflectionEstimator{}.EstimateMomentum(es[0], es[1])
	assert.False(t, ok, "no field, no estimate")
}

func TestNew_RequiresFitService(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultConfig(), Services{})
	assert.ErrorIs(t, err, ErrNoFitService)
}

func TestResidual(t *testing.T) {
	t.Parallel()
	m := testutil.CurvedMuon(1.2, 0.1, 20000, 1)
	_, es := entries(t, m, testutil.SegmentSpec{Chamber: muon.ChBOL, NEta: 4, NPhi: 1, Quality: 3})
	pars := muon.Parameters{
		Position:    m.At(0),
		Direction:   m.DirectionAt(0),
		QOverP:      1.0 / 20000,
		HasMomentum: true,
	}
	for _, h := range es[0].Hits() {
		if h.MeasuresPhi() {
			continue
		}
		curvedRes, s, ok := Residual(pars, true, testutil.FieldTesla, h)
		require.True(t, ok)
		assert.Greater(t, s, 0.0)
		assert.InDelta(t, 0, curvedRes, 1.0)

		straightRes, _, _ := Residual(pars, false, testutil.FieldTesla, h)
		assert.Greater(t, math.Abs(straightRes), 10.0, "sagitta ignored")
	}
}
