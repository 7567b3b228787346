// Package muon owns the event data model of the muon track finder.
//
// Responsibilities: hit identifiers, measurements and ordered hit lists,
// locally reconstructed segments, the per-event segment store with usage
// bookkeeping, fitted tracks and the track candidates that own them.
// Key types: Identifier, Hit, HitList, Segment, SegmentStore,
// SegmentRecord, Track, TrackCandidate, Entry.
//
// Dependency rule: this package depends on nothing else in the module.
// Pattern recognition (strategy), fitting (fitter) and combination
// (builder) live in sub-packages and import it, never the other way round.
package muon
