// Package ambiguity selects a consistent subset from a pool of competing
// track candidates.
package ambiguity

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/banshee-data/muontrack/internal/muon"
)

// Solver picks the tracks to keep. The result must be a subset of the
// input.
type Solver interface {
	Solve(tracks []*muon.Track) []*muon.Track
}

// SharedHitSolver keeps tracks greedily in quality order, rejecting a
// track that shares more than MaxSharedHits measurements with the tracks
// already kept.
type SharedHitSolver struct {
	MaxSharedHits int
}

func hitSet(t *muon.Track) *roaring.Bitmap {
	bm := roaring.New()
	for _, h := range t.Hits.Hits {
		if h.IsPseudo() || h.Status != muon.HitOnTrack {
			continue
		}
		bm.Add(uint32(h.ID))
	}
	return bm
}

// Solve implements Solver.
func (s SharedHitSolver) Solve(tracks []*muon.Track) []*muon.Track {
	ordered := append([]*muon.Track(nil), tracks...)
	sort.SliceStable(ordered, func(i, j int) bool { return muon.Better(ordered[i], ordered[j]) })

	used := roaring.New()
	var kept []*muon.Track
	for _, t := range ordered {
		if t == nil {
			continue
		}
		hits := hitSet(t)
		if shared := int(used.AndCardinality(hits)); shared > s.MaxSharedHits {
			tracef("solver: track %s shares %d hits, dropped", t.ID, shared)
			continue
		}
		used.Or(hits)
		kept = append(kept, t)
	}
	return kept
}

// Resolver applies a Solver to track candidates.
type Resolver struct {
	solver Solver
}

// New returns a resolver using solver, or a SharedHitSolver allowing no
// shared hits when solver is nil.
func New(solver Solver) *Resolver {
	if solver == nil {
		solver = SharedHitSolver{}
	}
	return &Resolver{solver: solver}
}

// Resolve returns the candidates whose tracks the solver keeps, in the
// solver's order, and releases every other candidate.
func (r *Resolver) Resolve(cands []*muon.TrackCandidate) (kept, dropped []*muon.TrackCandidate) {
	byTrack := make(map[*muon.Track]*muon.TrackCandidate, len(cands))
	tracks := make([]*muon.Track, 0, len(cands))
	for _, c := range cands {
		if c == nil || c.Released() || c.Track() == nil {
			opsf("resolve: skipping unusable candidate")
			continue
		}
		if _, dup := byTrack[c.Track()]; dup {
			opsf("resolve: track %s owned by two candidates", c.Track().ID)
			continue
		}
		byTrack[c.Track()] = c
		tracks = append(tracks, c.Track())
	}

	keep := make(map[*muon.TrackCandidate]bool, len(tracks))
	for _, t := range r.solver.Solve(tracks) {
		c, ok := byTrack[t]
		if !ok {
			opsf("resolve: solver returned unknown track %s", t.ID)
			continue
		}
		if keep[c] {
			continue
		}
		keep[c] = true
		kept = append(kept, c)
	}
	for _, c := range cands {
		if c == nil || c.Released() || keep[c] {
			continue
		}
		c.Release()
		dropped = append(dropped, c)
	}
	diagf("resolve: %d candidates in, %d kept", len(cands), len(kept))
	return kept, dropped
}
