package builder

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
)

// splitPathTolerance widens the cross-extrapolation error with the path
// length to the hit (mm per mm).
const splitPathTolerance = 2e-3

// IsSplitTrack reports whether t1 and t2 look like two halves of one
// trajectory: same hemisphere, compatible directions, and most hits of
// each track close to the other track's extrapolation.
func (b *Builder) IsSplitTrack(t1, t2 *muon.Track) bool {
	if t1 == nil || t2 == nil || t1 == t2 {
		return false
	}
	p1, p2 := t1.Pars, t2.Pars
	if !b.cfg.Cosmics && r3.Dot(p1.Position, p2.Position) <= 0 {
		return false
	}
	cos := r3.Dot(p1.Direction, p2.Direction)
	if b.cfg.Cosmics {
		cos = math.Abs(cos)
	}
	if math.Acos(math.Min(cos, 1)) > b.cfg.SplitDirectionCut {
		return false
	}
	if sharedHits(t1, t2) {
		return false
	}
	return b.crossCompatible(t1, t2) && b.crossCompatible(t2, t1)
}

func sharedHits(t1, t2 *muon.Track) bool {
	ids := make(map[muon.Identifier]bool, t1.Hits.Len())
	for _, h := range t1.Hits.Hits {
		if !h.IsPseudo() {
			ids[h.ID] = true
		}
	}
	for _, h := range t2.Hits.Hits {
		if !h.IsPseudo() && ids[h.ID] {
			return true
		}
	}
	return false
}

// crossCompatible reports whether enough of other's real hits are within
// the pull tolerance of ref's trajectory.
func (b *Builder) crossCompatible(ref, other *muon.Track) bool {
	tesla := b.svc.Field.Tesla(ref.Pars.Position)
	n, good := 0, 0
	for _, h := range other.Hits.Hits {
		if h.IsPseudo() || h.Status != muon.HitOnTrack {
			continue
		}
		res, s, ok := fitter.Residual(ref.Pars, ref.Curved, tesla, h)
		if !ok {
			continue
		}
		n++
		sigma := math.Hypot(h.Error(false), splitPathTolerance*math.Abs(s))
		if math.Abs(res/sigma) < b.cfg.SplitPullCut {
			good++
		}
	}
	if n == 0 {
		return false
	}
	frac := float64(good) / float64(n)
	tracef("split: %d/%d hits of %s compatible with %s", good, n, other.ID, ref.ID)
	return frac >= b.cfg.SplitMatchFraction
}

// mergeTracks fits the hits of two split halves as one track carrying two
// perigee markers, one at the start of each half.
func (b *Builder) mergeTracks(t1, t2 *muon.Track) *muon.Track {
	inner, outer := t1, t2
	if r3.Norm(t2.Pars.Position) < r3.Norm(t1.Pars.Position) {
		inner, outer = t2, t1
	}
	hits := muon.Merge(inner.Hits, outer.Hits)
	hits.Ref = inner.Pars.Line()
	hits.Sort()
	merged, fail := b.fit.FitHits(inner.Pars, hits, fitter.Options{StraightLine: !(inner.Curved || outer.Curved)})
	if merged == nil {
		diagf("merge: %s + %s failed: %s", inner.ID, outer.ID, fail)
		return nil
	}

	outerIDs := make(map[muon.Identifier]bool, outer.Hits.Len())
	for _, h := range outer.Hits.Hits {
		if !h.IsPseudo() {
			outerIDs[h.ID] = true
		}
	}
	marker := -1
	for i, h := range merged.Hits.Hits {
		if outerIDs[h.ID] {
			marker = i
			break
		}
	}
	if marker <= 0 {
		diagf("merge: no boundary between %s and %s", inner.ID, outer.ID)
		return nil
	}
	merged.Perigees = []muon.Perigee{
		{Pars: merged.Pars, HitIndex: 0},
		{Pars: outer.Pars, HitIndex: marker},
	}
	return merged
}

// MergeSplitTracks replaces every pair of candidates recognised as split
// halves by one candidate fitted on both. Replaced candidates are
// released. The order of the surviving candidates is preserved, merged
// ones taking the place of their first half.
func (b *Builder) MergeSplitTracks(cands []*muon.TrackCandidate) []*muon.TrackCandidate {
	out := append([]*muon.TrackCandidate(nil), cands...)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			ci, cj := out[i], out[j]
			if !b.IsSplitTrack(ci.Track(), cj.Track()) {
				continue
			}
			merged := b.mergeTracks(ci.Track(), cj.Track())
			if merged == nil {
				continue
			}
			segs := ci.Segments()
			for _, r := range cj.Segments() {
				if !ci.Contains(r) {
					segs = append(segs, r)
				}
			}
			n := muon.NewTrackCandidate(b.store, merged, segs...)
			n.Stage = ci.Stage
			n.Seed = ci.Seed
			b.history.Add(n)
			ci.Release()
			cj.Release()
			out[i] = n
			out = append(out[:j], out[j+1:]...)
			b.stats.Merged++
			diagf("merge: %s and %s merged into %s", ci.ID, cj.ID, n.ID)
			j = i
		}
	}
	return out
}

// SplitTrack splits a track with exactly two perigee markers into two
// independently fitted tracks. It returns a nil pair when the track does
// not have two markers, when either half crosses fewer than two stations,
// or when either fit fails.
func (b *Builder) SplitTrack(t *muon.Track) (*muon.Track, *muon.Track) {
	if t == nil || len(t.Perigees) != 2 {
		return nil, nil
	}
	k := t.Perigees[1].HitIndex
	if k <= 0 || k >= t.Hits.Len() {
		opsf("split: perigee index %d out of range on %s", k, t.ID)
		return nil, nil
	}
	first := b.splitHalf(t, t.Hits.Hits[:k], t.Perigees[0].Pars)
	if first == nil {
		return nil, nil
	}
	second := b.splitHalf(t, t.Hits.Hits[k:], t.Perigees[1].Pars)
	if second == nil {
		return nil, nil
	}
	b.stats.Split++
	return first, second
}

// splitHalf fits one half; the fitter adds fake phi hits when the half
// lacks phi constraints.
func (b *Builder) splitHalf(t *muon.Track, hits []*muon.Hit, start muon.Parameters) *muon.Track {
	var kept []*muon.Hit
	for _, h := range hits {
		if !h.IsPseudo() {
			kept = append(kept, h)
		}
	}
	list := muon.NewHitList(start.Line(), kept)
	if list.Stations().Len() < 2 {
		diagf("split: half of %s crosses %d stations", t.ID, list.Stations().Len())
		return nil
	}
	half, fail := b.fit.FitHits(start, list, fitter.Options{StraightLine: !t.Curved})
	if half == nil {
		diagf("split: half of %s failed: %s", t.ID, fail)
		return nil
	}
	return half
}
