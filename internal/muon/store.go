package muon

import (
	"sort"

	"github.com/google/uuid"
)

// SegmentHandle is the stable index of a segment in its store.
type SegmentHandle uint32

// SegmentRecord wraps a Segment with its usage bookkeeping. The record is
// mutable; the segment is not.
//
// usedInFit always equals the number of owning candidates. Both are only
// changed through acquire and release, which the TrackCandidate calls.
type SegmentRecord struct {
	Handle  SegmentHandle
	Segment *Segment

	station   StationIndex
	usedInFit int
	owners    map[uuid.UUID]*TrackCandidate
}

// Station returns the cached station index of the wrapped segment.
func (r *SegmentRecord) Station() StationIndex { return r.station }

// UsedInFit returns how many live candidates currently own the segment.
func (r *SegmentRecord) UsedInFit() int { return r.usedInFit }

// Owners returns the owning candidates ordered by creation sequence.
func (r *SegmentRecord) Owners() []*TrackCandidate {
	out := make([]*TrackCandidate, 0, len(r.owners))
	for _, c := range r.owners {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *SegmentRecord) acquire(c *TrackCandidate) {
	if r.owners == nil {
		r.owners = make(map[uuid.UUID]*TrackCandidate)
	}
	if _, ok := r.owners[c.ID]; ok {
		opsf("segment %d acquired twice by candidate %s", r.Handle, c.ID)
		return
	}
	r.owners[c.ID] = c
	r.usedInFit++
}

func (r *SegmentRecord) release(c *TrackCandidate) {
	if _, ok := r.owners[c.ID]; !ok {
		opsf("segment %d released by non-owner candidate %s", r.Handle, c.ID)
		return
	}
	delete(r.owners, c.ID)
	r.usedInFit--
}

// consistent reports whether the usage count matches the owner set.
func (r *SegmentRecord) consistent() bool { return r.usedInFit == len(r.owners) }

// SegmentStore is the per-event arena of segments. Segments are added once
// and addressed by handle for the rest of the event.
type SegmentStore struct {
	records []*SegmentRecord
	nextSeq uint64
}

// NewSegmentStore creates an empty store.
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{}
}

// Add wraps seg in a record and returns it.
func (s *SegmentStore) Add(seg *Segment) *SegmentRecord {
	r := &SegmentRecord{
		Handle:  SegmentHandle(len(s.records)),
		Segment: seg,
		station: seg.Station(),
	}
	s.records = append(s.records, r)
	return r
}

// Get returns the record for a handle, or nil when out of range.
func (s *SegmentStore) Get(h SegmentHandle) *SegmentRecord {
	if int(h) >= len(s.records) {
		return nil
	}
	return s.records[h]
}

// Len returns the number of stored segments.
func (s *SegmentStore) Len() int { return len(s.records) }

// Records returns all records in handle order.
func (s *SegmentStore) Records() []*SegmentRecord { return s.records }

// InChambers returns the records whose chamber index is in the set, in
// handle order.
func (s *SegmentStore) InChambers(chambers map[ChamberIndex]bool) []*SegmentRecord {
	var out []*SegmentRecord
	for _, r := range s.records {
		if chambers[r.Segment.ChamberIndex()] {
			out = append(out, r)
		}
	}
	return out
}

// Hits returns every hit of every stored segment.
func (s *SegmentStore) Hits() []*Hit {
	var out []*Hit
	for _, r := range s.records {
		out = append(out, r.Segment.Hits...)
	}
	return out
}

// CheckUsage verifies usedInFit == |owners| for every record and logs
// violations. It returns the number of inconsistent records.
func (s *SegmentStore) CheckUsage() int {
	bad := 0
	for _, r := range s.records {
		if !r.consistent() {
			opsf("segment %d: usedInFit=%d owners=%d", r.Handle, r.usedInFit, len(r.owners))
			bad++
		}
	}
	return bad
}

func (s *SegmentStore) sequence() uint64 {
	s.nextSeq++
	return s.nextSeq
}
