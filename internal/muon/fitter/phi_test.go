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

func phiHit(ch muon.ChamberIndex, layer, channel int, pos r3.Vec) *muon.Hit {
	return &muon.Hit{
		ID:           muon.NewIdentifier(muon.TechRPC, ch, 1, 1, layer, channel, true),
		Position:     pos,
		PreciseError: testutil.PhiError,
		BroadError:   testutil.PhiBroadError,
		Tech:         muon.TechRPC,
	}
}

func phiHitsOf(seg *muon.Segment) []*muon.Hit {
	var out []*muon.Hit
	for _, h := range seg.Hits {
		if h.MeasuresPhi() {
			out = append(out, h)
		}
	}
	return out
}

func realPhiIDs(data *FitterData) []muon.Identifier {
	var ids []muon.Identifier
	for _, h := range data.Hits.Hits {
		if h.MeasuresPhi() && !h.IsPseudo() {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

// etaRange returns the first and last eta hit along the line.
func etaRange(data *FitterData, ref muon.Line) (float64, float64) {
	first, last := math.Inf(1), math.Inf(-1)
	for _, h := range data.Eta {
		s := ref.Distance(h.Position)
		first = math.Min(first, s)
		last = math.Max(last, s)
	}
	return first, last
}

func TestWindowPhiSelector(t *testing.T) {
	t.Parallel()
	sel := WindowPhiSelector{Base: 40, Scale: 2e5}
	pars := muon.Parameters{Direction: muon.DirectionFromAngles(1.2, 0.1)}
	off := func(s, res float64) r3.Vec {
		return r3.Add(r3.Scale(s, pars.Direction), r3.Scale(res, pars.AzimuthalAxis()))
	}

	t.Run("window widens at low momentum", func(t *testing.T) {
		h := phiHit(muon.ChBIL, 0, 600, off(5000, 100))
		tests := []struct {
			name     string
			momentum float64
			kept     int
		}{
			{"2 GeV", 2000, 1},
			{"20 GeV", 20000, 0},
			{"unknown momentum uses the base", 0, 0},
		}
		for _, tt := range tests {
			assert.Len(t, sel.SelectPhiHits(tt.momentum, pars, []*muon.Hit{h}), tt.kept, tt.name)
		}
	})

	t.Run("best hit per chamber layer", func(t *testing.T) {
		near := phiHit(muon.ChBIL, 0, 601, off(5000, 5))
		far := phiHit(muon.ChBIL, 0, 602, off(5010, 30))
		other := phiHit(muon.ChBIL, 1, 603, off(5030, 20))
		got := sel.SelectPhiHits(20000, pars, []*muon.Hit{far, other, near})
		require.Len(t, got, 2)
		assert.Same(t, near, got[0])
		assert.Same(t, other, got[1])
	})
}

func TestCleanPhiHits(t *testing.T) {
	t.Parallel()
	f := NewDefault(straightConfig())
	m := testutil.StraightMuon(1.2, 0.1)
	pars := muon.Parameters{Direction: muon.DirectionFromAngles(1.2, 0.1)}
	det := testutil.NewDetector(0, 1)

	prepare := func(t *testing.T, nPhiInner int) *FitterData {
		_, es := entries(t, m,
			testutil.SegmentSpec{Chamber: muon.ChBIL, NEta: 4, NPhi: nPhiInner, Quality: 3},
			testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 4, NPhi: 0, Quality: 3},
		)
		data, ok := f.ExtractData(hitList(es...), false, nil)
		require.True(t, ok)
		data.StartPars = pars
		return data
	}

	t.Run("hits only in the event pool are picked up", func(t *testing.T) {
		data := prepare(t, 0)
		require.Empty(t, data.RealPhi())
		pool := phiHitsOf(det.Segment(m, testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 0, NPhi: 2, Quality: 1}))
		require.Len(t, pool, 2)

		require.True(t, f.CleanPhiHits(20000, data, pool))
		require.Len(t, data.RealPhi(), 2)
		for i, h := range data.RealPhi() {
			assert.NotSame(t, pool[i], h, "pool hits are cloned onto the track")
			assert.Equal(t, muon.HitOnTrack, h.Status)
		}
		assert.ElementsMatch(t, []muon.Identifier{pool[0].ID, pool[1].ID}, realPhiIDs(data))
	})

	t.Run("previous phi hits are replaced", func(t *testing.T) {
		data := prepare(t, 2)
		require.Len(t, data.RealPhi(), 2)
		stray := data.RealPhi()[0]
		kept := data.RealPhi()[1]
		stray.Position = r3.Add(stray.Position, r3.Scale(500, pars.AzimuthalAxis()))
		pool := phiHitsOf(det.Segment(m, testutil.SegmentSpec{Chamber: muon.ChBML, NEta: 0, NPhi: 1, Quality: 1}))
		require.Len(t, pool, 1)

		require.True(t, f.CleanPhiHits(20000, data, pool))
		assert.ElementsMatch(t, []muon.Identifier{kept.ID, pool[0].ID}, realPhiIDs(data))
		assert.False(t, data.Hits.Contains(stray.ID))
		assert.Len(t, data.Phi, 2)
	})

	t.Run("bounded by the first and last eta hit", func(t *testing.T) {
		data := prepare(t, 0)
		first, last := etaRange(data, pars.Line())
		limit := f.cfg.MaxPhiDistance
		before := phiHit(muon.ChBOL, 0, 600, r3.Scale(first-limit-200, pars.Direction))
		insideLow := phiHit(muon.ChBOL, 1, 601, r3.Scale(first-limit+200, pars.Direction))
		insideHigh := phiHit(muon.ChBOL, 2, 602, r3.Scale(last+limit-200, pars.Direction))
		after := phiHit(muon.ChBOL, 3, 603, r3.Scale(last+limit+200, pars.Direction))

		require.True(t, f.CleanPhiHits(20000, data, []*muon.Hit{before, insideLow, insideHigh, after}))
		assert.ElementsMatch(t, []muon.Identifier{insideLow.ID, insideHigh.ID}, realPhiIDs(data))
	})

	t.Run("nothing inside the window", func(t *testing.T) {
		data := prepare(t, 0)
		n := data.Hits.Len()
		_, last := etaRange(data, pars.Line())
		wide := phiHit(muon.ChBML, 0, 600, r3.Add(r3.Scale(last, pars.Direction), r3.Scale(1000, pars.AzimuthalAxis())))
		assert.False(t, f.CleanPhiHits(20000, data, []*muon.Hit{wide}))
		assert.Equal(t, n, data.Hits.Len())
		assert.False(t, f.CleanPhiHits(20000, data, nil), "empty pool")
	})
}

func TestFitEntries_PhiHitsFromEventPool(t *testing.T) {
	t.Parallel()
	f := NewDefault(DefaultConfig())
	m := testutil.CurvedMuon(1.1, 0.2, 40000, -1)
	specs := []testutil.SegmentSpec{
		{Chamber: muon.ChBIL, NEta: 6, NPhi: 0, Quality: 3},
		{Chamber: muon.ChBOL, NEta: 6, NPhi: 0, Quality: 3},
	}
	_, es := entries(t, m, specs...)

	bare, fail := f.FitEntries(es[0], es[1], Options{})
	require.Equal(t, FailNone, fail)
	_, phi := bare.Counts()
	require.Zero(t, phi)

	det := testutil.NewDetector(0, 1)
	var pool []*muon.Hit
	for _, s := range specs {
		s.NPhi = 2
		pool = append(pool, phiHitsOf(det.Segment(m, s))...)
	}
	require.Len(t, pool, 4)

	track, fail := f.FitEntries(es[0], es[1], Options{ExtraPhiHits: pool})
	require.Equal(t, FailNone, fail)
	require.True(t, track.Pars.HasMomentum)
	eta, phi := track.Counts()
	assert.Equal(t, 4, phi)
	assert.Equal(t, 12, eta)
	assert.LessOrEqual(t, track.Chi2PerDof(), bare.Chi2PerDof())
}
