package builder

import (
	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/matching"
)

// recoverOverlap adds, for every station where the candidate has a single
// chamber, the best segment from the small/large partner chamber when the
// refit including it beats the current track. Stations are visited in
// StationIndex order.
func (b *Builder) recoverOverlap(c *muon.TrackCandidate) {
	perStation := make(map[muon.StationIndex][]muon.ChamberKey)
	for _, r := range c.Segments() {
		st := r.Station()
		perStation[st] = append(perStation[st], r.Segment.Chamber)
	}

	for _, st := range c.Stations().Stations() {
		keys := perStation[st]
		if len(keys) != 1 {
			continue
		}
		key := keys[0]
		entry := muon.NewTrackEntry(c)

		var best *muon.Track
		var bestSeg *muon.SegmentRecord
		for _, r := range b.store.Records() {
			if c.Contains(r) || c.IsExcluded(r) || !matching.IsOverlapPair(key, r.Segment.Chamber) {
				continue
			}
			if !b.match.Match(entry, r, false) {
				continue
			}
			seg := muon.NewSegmentEntry(r)
			opts := b.fitOptions(entry, seg)
			opts.ExcludedChambers = map[muon.ChamberKey]bool{r.Segment.Chamber: true}
			track, fail := b.fit.FitEntries(entry, seg, opts)
			if track == nil {
				tracef("overlap: segment %d rejected for %s: %s", r.Handle, c.ID, fail)
				c.Exclude(r)
				continue
			}
			if muon.Better(track, best) {
				best, bestSeg = track, r
			}
		}
		if best == nil || !muon.Better(best, c.Track()) {
			continue
		}
		c.AddSegment(bestSeg)
		c.UpdateTrack(best)
		b.stats.OverlapsRecovered++
		diagf("overlap: segment %d (%s) added to candidate %s", bestSeg.Handle, bestSeg.Segment.Chamber, c.ID)
	}
}
