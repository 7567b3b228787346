package muon

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var alongX = Line{Direction: r3.Vec{X: 1}}

func hitAt(x float64, layer int, phi bool) *Hit {
	return &Hit{
		ID:           NewIdentifier(TechMDT, ChBIL, 1, 1, layer, int(x), phi),
		Position:     r3.Vec{X: x, Y: 10},
		PreciseError: 0.5,
		BroadError:   2,
	}
}

func assertOrdered(t *testing.T, hl *HitList) {
	t.Helper()
	ok := sort.SliceIsSorted(hl.Hits, func(i, j int) bool {
		return hl.Ref.Distance(hl.Hits[i].Position) < hl.Ref.Distance(hl.Hits[j].Position)
	})
	assert.True(t, ok, "hits are not ordered along the reference: %v", hl.IDs())
	seen := make(map[Identifier]bool)
	for _, h := range hl.Hits {
		assert.False(t, seen[h.ID], "duplicate identifier %s", h.ID)
		seen[h.ID] = true
	}
}

func TestNewHitList_SortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	first := hitAt(30, 1, false)
	dup := hitAt(30, 1, false)
	dup.Position.Y = 99
	hl := NewHitList(alongX, []*Hit{hitAt(50, 2, false), first, nil, dup, hitAt(10, 0, false)})

	require.Equal(t, 3, hl.Len())
	assertOrdered(t, hl)
	assert.Same(t, first, hl.Hits[1], "first occurrence of a duplicate wins")
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := NewHitList(alongX, []*Hit{hitAt(10, 0, false), hitAt(40, 3, false)})
	shared := hitAt(40, 3, false)
	b := NewHitList(Line{Direction: r3.Vec{X: -1}}, []*Hit{hitAt(20, 1, true), shared, hitAt(5, 4, true)})
	aIDs, bIDs := a.IDs(), b.IDs()

	m := Merge(a, b)

	assert.Equal(t, alongX, m.Ref, "merge keeps the first list's reference")
	assert.Equal(t, 4, m.Len())
	assertOrdered(t, m)
	for _, id := range append(aIDs, bIDs...) {
		assert.True(t, m.Contains(id), "merged list lost %s", id)
	}
	for _, h := range m.Hits {
		assert.NotSame(t, shared, h, "hit of b shadowed by a must be dropped")
	}
	assert.Equal(t, aIDs, a.IDs())
	assert.Equal(t, bIDs, b.IDs())

	assert.Equal(t, 2, Merge(nil, a).Len())
	assert.Equal(t, 0, Merge(nil, nil).Len())
}

func TestHitList_InsertRemove(t *testing.T) {
	t.Parallel()

	hl := NewHitList(alongX, []*Hit{hitAt(10, 0, false), hitAt(30, 1, false)})
	hl.Insert(hitAt(20, 2, true), hitAt(10, 0, false), nil)
	require.Equal(t, 3, hl.Len())
	assertOrdered(t, hl)

	removed := hl.Remove(func(h *Hit) bool { return h.MeasuresPhi() })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, hl.Len())
	assertOrdered(t, hl)
}

func TestHitList_CountsAndStations(t *testing.T) {
	t.Parallel()

	outlier := hitAt(40, 3, false)
	outlier.Status = HitOutlier
	pseudo := hitAt(50, 4, true)
	pseudo.Tech = TechPseudo
	pseudo.ID = NewIdentifier(TechPseudo, ChBOL, 1, 1, 4, 50, true)
	hl := NewHitList(alongX, []*Hit{hitAt(10, 0, false), hitAt(20, 1, false), hitAt(30, 2, true), outlier, pseudo})

	eta, phi := hl.Counts()
	assert.Equal(t, 2, eta)
	assert.Equal(t, 1, phi)
	assert.Equal(t, []StationIndex{StationBI}, hl.Stations().Stations(), "pseudo hits do not add stations")
}

func TestHitList_CloneIsDeep(t *testing.T) {
	t.Parallel()

	hl := NewHitList(alongX, []*Hit{hitAt(10, 0, false)})
	c := hl.Clone()
	c.Hits[0].Residual = 3
	assert.Zero(t, hl.Hits[0].Residual)
}

func TestHit_Error(t *testing.T) {
	t.Parallel()

	h := hitAt(0, 0, false)
	assert.Equal(t, 0.5, h.Error(true))
	assert.Equal(t, 2.0, h.Error(false))
	h.BroadError = 0
	assert.Equal(t, 0.5, h.Error(false))
}

func TestElement_Ends(t *testing.T) {
	t.Parallel()

	e := Element{Center: r3.Vec{X: 1}, Axis: r3.Vec{Z: 1}, HalfLength: 2}
	a, b := e.Ends()
	assert.Equal(t, r3.Vec{X: 1, Z: -2}, a)
	assert.Equal(t, r3.Vec{X: 1, Z: 2}, b)
	assert.InDelta(t, 1.5, e.LocalCoordinate(r3.Vec{X: 7, Z: 1.5}), 1e-12)
}

func TestDeltaPhi(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.2, DeltaPhi(math.Pi-0.1, -math.Pi+0.1)*-1, 1e-12)
	assert.InDelta(t, 0.5, DeltaPhi(1.0, 0.5), 1e-12)
}
