package muon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func newTestStore(t *testing.T, chambers ...ChamberIndex) (*SegmentStore, []*SegmentRecord) {
	t.Helper()
	store := NewSegmentStore()
	var recs []*SegmentRecord
	for i, ch := range chambers {
		seg := &Segment{
			Chamber:   NewChamberKey(ch, 1, 1),
			Position:  r3.Vec{X: 5000 + 2500*float64(i)},
			Direction: r3.Vec{X: 1},
			Quality:   2,
			Hits:      []*Hit{hitAt(5000+2500*float64(i), 0, false)},
		}
		recs = append(recs, store.Add(seg))
	}
	require.Equal(t, len(chambers), store.Len())
	return store, recs
}

func testTrack() *Track {
	pars := Parameters{Direction: r3.Vec{X: 1}}
	return NewTrack(pars, NewHitList(pars.Line(), []*Hit{hitAt(10, 0, false)}), 1, 1)
}

func TestSegmentStore(t *testing.T) {
	t.Parallel()

	store, recs := newTestStore(t, ChBIL, ChBML, ChEIL)
	for i, r := range recs {
		assert.Equal(t, SegmentHandle(i), r.Handle)
		assert.Same(t, r, store.Get(r.Handle))
	}
	assert.Nil(t, store.Get(99))
	assert.Equal(t, StationBM, recs[1].Station())
	assert.Len(t, store.Hits(), 3)

	barrel := store.InChambers(map[ChamberIndex]bool{ChBIL: true, ChBML: true})
	assert.Equal(t, recs[:2], barrel)
}

func TestTrackCandidate_Usage(t *testing.T) {
	t.Parallel()

	store, recs := newTestStore(t, ChBIL, ChBML, ChBOL)

	a := NewTrackCandidate(store, testTrack(), recs[0], recs[1], recs[0])
	assert.Equal(t, 2, a.NumSegments(), "duplicates are ignored")
	assert.Equal(t, 1, recs[0].UsedInFit())
	assert.Equal(t, 0, recs[2].UsedInFit())

	b := a.Clone()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.Sequence(), a.Sequence())
	assert.Equal(t, 2, recs[0].UsedInFit())
	assert.Equal(t, []*TrackCandidate{a, b}, recs[1].Owners())

	b.SetSegments([]*SegmentRecord{recs[1], recs[2], recs[2]})
	assert.Equal(t, 1, recs[0].UsedInFit())
	assert.Equal(t, 2, recs[1].UsedInFit())
	assert.Equal(t, 1, recs[2].UsedInFit())
	assert.Equal(t, []SegmentHandle{1, 2}, b.Handles())

	a.RemoveSegment(recs[1])
	assert.Equal(t, 1, recs[1].UsedInFit())
	assert.False(t, a.Contains(recs[1]))

	a.Release()
	b.Release()
	for _, r := range recs {
		assert.Zero(t, r.UsedInFit(), "segment %d still owned", r.Handle)
		assert.Empty(t, r.Owners())
	}
	assert.Zero(t, store.CheckUsage())

	b.AddSegment(recs[0])
	assert.Zero(t, recs[0].UsedInFit(), "released candidates cannot acquire")
}

func TestTrackCandidate_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	store, recs := newTestStore(t, ChBIL, ChBML)
	a := NewTrackCandidate(store, testTrack(), recs...)
	a.Stage = StageExtended
	a.Seed = recs[0]
	a.Exclude(recs[1])
	a.Exclude(recs[1])

	b := a.Clone()
	assert.Equal(t, StageExtended, b.Stage)
	assert.Same(t, recs[0], b.Seed)
	assert.Equal(t, []*SegmentRecord{recs[1]}, b.Excluded())
	assert.Equal(t, a.Track().ID, b.Track().ID)

	b.Track().Hits.Hits[0].Residual = 7
	assert.Zero(t, a.Track().Hits.Hits[0].Residual)
	assert.Equal(t, StationSet(0).Add(StationBI).Add(StationBM), b.Stations())
	assert.Len(t, b.Chambers(), 2)
}

func TestTrackCandidate_DoubleReleaseLogged(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	store, recs := newTestStore(t, ChBIL)
	c := NewTrackCandidate(store, testTrack(), recs...)
	c.Release()
	assert.Empty(t, buf.String())
	c.Release()
	assert.Contains(t, buf.String(), "released twice")
	assert.True(t, c.Released())
	assert.Zero(t, recs[0].UsedInFit())
}

func TestSegmentStore_CheckUsage(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	store, recs := newTestStore(t, ChBIL, ChBML)
	c := NewTrackCandidate(store, testTrack(), recs...)
	assert.Zero(t, store.CheckUsage())

	recs[1].usedInFit++
	assert.Equal(t, 1, store.CheckUsage())
	assert.Contains(t, buf.String(), "segment 1")
	recs[1].usedInFit--
	c.Release()
}

func TestBetter(t *testing.T) {
	t.Parallel()

	mk := func(nEta, outliers int, chi2 float64) *Track {
		var hits []*Hit
		for i := 0; i < nEta+outliers; i++ {
			h := hitAt(float64(10*i), i, false)
			if i >= nEta {
				h.Status = HitOutlier
			}
			hits = append(hits, h)
		}
		return NewTrack(Parameters{Direction: r3.Vec{X: 1}}, NewHitList(alongX, hits), chi2, 10)
	}

	tests := []struct {
		name string
		a, b *Track
		want bool
	}{
		{"more precision hits", mk(8, 2, 50), mk(6, 0, 1), true},
		{"fewer precision hits", mk(6, 0, 1), mk(8, 2, 50), false},
		{"fewer outliers", mk(6, 0, 30), mk(6, 1, 1), true},
		{"lower chi2", mk(6, 0, 5), mk(6, 0, 9), true},
		{"equal", mk(6, 0, 5), mk(6, 0, 5), false},
		{"against nil", mk(1, 0, 1), nil, true},
		{"nil", nil, mk(1, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Better(tt.a, tt.b))
		})
	}
}

func TestTrack_Chi2PerDof(t *testing.T) {
	t.Parallel()

	tr := testTrack()
	tr.Chi2, tr.Ndof = 6, 3
	assert.Equal(t, 2.0, tr.Chi2PerDof())
	tr.Ndof = 0
	assert.True(t, tr.Chi2PerDof() > 1e300)
}
