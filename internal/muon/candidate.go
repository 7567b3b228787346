package muon

import (
	"sort"

	"github.com/google/uuid"
)

// Stage is the processing stage of a candidate.
type Stage uint8

const (
	StageSeeded Stage = iota
	StageExtended
	StageRefined
	StageFinal
)

func (s Stage) String() string {
	switch s {
	case StageSeeded:
		return "seeded"
	case StageExtended:
		return "extended"
	case StageRefined:
		return "refined"
	case StageFinal:
		return "final"
	}
	return "unknown"
}

// TrackCandidate owns one fitted Track and references the segments it was
// built from. Every referenced segment counts the candidate as an owner
// until Release is called.
type TrackCandidate struct {
	ID    uuid.UUID
	Stage Stage
	// Seed is the segment the search started from, if any.
	Seed *SegmentRecord

	seq      uint64
	store    *SegmentStore
	track    *Track
	segments []*SegmentRecord
	excluded []*SegmentRecord
	released bool
}

// NewTrackCandidate creates a candidate owning track and acquires every
// segment in segs. Duplicate records are ignored.
func NewTrackCandidate(store *SegmentStore, track *Track, segs ...*SegmentRecord) *TrackCandidate {
	c := &TrackCandidate{
		ID:    uuid.New(),
		seq:   store.sequence(),
		store: store,
		track: track,
	}
	for _, r := range segs {
		c.AddSegment(r)
	}
	tracef("candidate %s created with %d segments", c.ID, len(c.segments))
	return c
}

// Track returns the owned track.
func (c *TrackCandidate) Track() *Track { return c.track }

// UpdateTrack replaces the owned track.
func (c *TrackCandidate) UpdateTrack(t *Track) { c.track = t }

// Segments returns a copy of the ordered segment list.
func (c *TrackCandidate) Segments() []*SegmentRecord {
	return append([]*SegmentRecord(nil), c.segments...)
}

// NumSegments returns the number of owned segments.
func (c *TrackCandidate) NumSegments() int { return len(c.segments) }

// Contains reports whether the segment is owned by the candidate.
func (c *TrackCandidate) Contains(r *SegmentRecord) bool {
	for _, s := range c.segments {
		if s == r {
			return true
		}
	}
	return false
}

// AddSegment appends r and acquires it. It is a no-op for segments the
// candidate already holds or after Release.
func (c *TrackCandidate) AddSegment(r *SegmentRecord) {
	if r == nil || c.released || c.Contains(r) {
		return
	}
	c.segments = append(c.segments, r)
	r.acquire(c)
}

// RemoveSegment drops r and releases it.
func (c *TrackCandidate) RemoveSegment(r *SegmentRecord) {
	for i, s := range c.segments {
		if s == r {
			c.segments = append(c.segments[:i], c.segments[i+1:]...)
			r.release(c)
			return
		}
	}
}

// SetSegments replaces the segment list. New segments are acquired before
// old ones are released so shared segments never drop to zero owners.
func (c *TrackCandidate) SetSegments(segs []*SegmentRecord) {
	if c.released {
		return
	}
	old := c.segments
	c.segments = nil
	keep := make(map[*SegmentRecord]bool, len(segs))
	for _, r := range segs {
		if r == nil || keep[r] {
			continue
		}
		keep[r] = true
		c.segments = append(c.segments, r)
	}
	wasOwned := make(map[*SegmentRecord]bool, len(old))
	for _, r := range old {
		wasOwned[r] = true
	}
	for _, r := range c.segments {
		if !wasOwned[r] {
			r.acquire(c)
		}
	}
	for _, r := range old {
		if !keep[r] {
			r.release(c)
		}
	}
}

// Exclude records that r was tried and rejected for this candidate.
func (c *TrackCandidate) Exclude(r *SegmentRecord) {
	if r == nil || c.IsExcluded(r) {
		return
	}
	c.excluded = append(c.excluded, r)
}

// IsExcluded reports whether r is on the exclusion list.
func (c *TrackCandidate) IsExcluded(r *SegmentRecord) bool {
	for _, e := range c.excluded {
		if e == r {
			return true
		}
	}
	return false
}

// Excluded returns a copy of the exclusion list.
func (c *TrackCandidate) Excluded() []*SegmentRecord {
	return append([]*SegmentRecord(nil), c.excluded...)
}

// Stations returns the stations of the owned segments.
func (c *TrackCandidate) Stations() StationSet {
	var s StationSet
	for _, r := range c.segments {
		s = s.Add(r.Station())
	}
	return s
}

// Chambers returns the chamber keys of the owned segments.
func (c *TrackCandidate) Chambers() map[ChamberKey]bool {
	out := make(map[ChamberKey]bool, len(c.segments))
	for _, r := range c.segments {
		out[r.Segment.Chamber] = true
	}
	return out
}

// Handles returns the sorted segment handles.
func (c *TrackCandidate) Handles() []SegmentHandle {
	out := make([]SegmentHandle, len(c.segments))
	for i, r := range c.segments {
		out[i] = r.Handle
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a new candidate with a deep copy of the track, sharing the
// segment records by pointer. The clone acquires every segment.
func (c *TrackCandidate) Clone() *TrackCandidate {
	var t *Track
	if c.track != nil {
		t = c.track.Clone()
	}
	n := NewTrackCandidate(c.store, t, c.segments...)
	n.Stage = c.Stage
	n.Seed = c.Seed
	n.excluded = append([]*SegmentRecord(nil), c.excluded...)
	return n
}

// Release gives up ownership of every segment. The candidate must not be
// used afterwards; a second call is logged and ignored.
func (c *TrackCandidate) Release() {
	if c.released {
		opsf("candidate %s released twice", c.ID)
		return
	}
	for _, r := range c.segments {
		r.release(c)
	}
	c.released = true
	tracef("candidate %s released (%d segments)", c.ID, len(c.segments))
}

// Released reports whether Release was called.
func (c *TrackCandidate) Released() bool { return c.released }

// Sequence returns the creation order of the candidate within its event.
func (c *TrackCandidate) Sequence() uint64 { return c.seq }
