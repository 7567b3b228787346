package builder

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/banshee-data/muontrack/internal/muon"
)

// historyEntry is the segment set of one produced candidate.
type historyEntry struct {
	segments  *roaring.Bitmap
	candidate *muon.TrackCandidate
}

// History remembers the segment sets of every candidate produced in an
// event, bucketed by a fingerprint of the sorted handles.
type History struct {
	buckets map[uint64][]historyEntry
	size    int
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{buckets: make(map[uint64][]historyEntry)}
}

// Len returns the number of recorded segment sets.
func (h *History) Len() int { return h.size }

func fingerprint(handles []muon.SegmentHandle) uint64 {
	buf := make([]byte, 0, 4*len(handles))
	for _, x := range handles {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(x))
	}
	return xxhash.Sum64(buf)
}

func bitmapOf(handles []muon.SegmentHandle) *roaring.Bitmap {
	bm := roaring.New()
	for _, x := range handles {
		bm.Add(uint32(x))
	}
	return bm
}

// Add records the segment set of c.
func (h *History) Add(c *muon.TrackCandidate) {
	handles := c.Handles()
	key := fingerprint(handles)
	bm := bitmapOf(handles)
	for _, e := range h.buckets[key] {
		if e.segments.Equals(bm) {
			return
		}
	}
	h.buckets[key] = append(h.buckets[key], historyEntry{segments: bm, candidate: c})
	h.size++
}

func (h *History) lookup(handles []muon.SegmentHandle) *historyEntry {
	bucket := h.buckets[fingerprint(handles)]
	if len(bucket) == 0 {
		return nil
	}
	bm := bitmapOf(handles)
	for i := range bucket {
		if bucket[i].segments.Equals(bm) {
			return &bucket[i]
		}
	}
	return nil
}

// Duplicate reports whether exactly this sorted set of handles was
// already produced.
func (h *History) Duplicate(handles []muon.SegmentHandle) bool {
	return h.lookup(handles) != nil
}

// ExcludedExtension reports whether the set is a produced set plus one
// segment that the producing candidate already tried and excluded.
func (h *History) ExcludedExtension(handles []muon.SegmentHandle, store *muon.SegmentStore) bool {
	if len(handles) < 2 {
		return false
	}
	rest := make([]muon.SegmentHandle, 0, len(handles)-1)
	for i, extra := range handles {
		rest = append(rest[:0], handles[:i]...)
		rest = append(rest, handles[i+1:]...)
		e := h.lookup(rest)
		if e == nil {
			continue
		}
		if r := store.Get(extra); r != nil && e.candidate.IsExcluded(r) {
			return true
		}
	}
	return false
}

// sortedWith returns the sorted union of handles and extra.
func sortedWith(handles []muon.SegmentHandle, extra ...muon.SegmentHandle) []muon.SegmentHandle {
	bm := bitmapOf(handles)
	for _, x := range extra {
		bm.Add(uint32(x))
	}
	out := make([]muon.SegmentHandle, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, muon.SegmentHandle(it.Next()))
	}
	return out
}
