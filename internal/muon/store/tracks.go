package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/muontrack/internal/muon"
)

// EventRecord is the output of one event as written to the database.
type EventRecord struct {
	ID         string
	Segments   int
	TimedOut   bool
	Candidates []*muon.TrackCandidate
}

// TrackRow is a stored track summary.
type TrackRow struct {
	TrackID  string
	EventID  string
	Chi2     float64
	Ndof     int
	Curved   bool
	Theta    float64
	Phi      float64
	Position [3]float64
	QOverP   sql.NullFloat64
	NEta     int
	NPhi     int
	Stations muon.StationSet
	Segments []muon.SegmentHandle
}

// HitRow is a stored hit on a track.
type HitRow struct {
	Seq      int
	ID       muon.Identifier
	Status   string
	Position [3]float64
	Residual float64
	Pull     float64
}

// SaveEvent writes the event and its tracks in one transaction,
// replacing any earlier result for the same event ID.
func (db *DB) SaveEvent(ctx context.Context, ev EventRecord) error {
	if ev.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save event tx: %w", err)
	}
	if err := saveEvent(ctx, tx, ev); err != nil {
		tx.Rollback()
		opsf("save event %s: %v", ev.ID, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save event tx: %w", err)
	}
	diagf("saved event %s: %d tracks", ev.ID, len(ev.Candidates))
	return nil
}

func saveEvent(ctx context.Context, tx *sql.Tx, ev EventRecord) error {
	for _, q := range []string{
		`DELETE FROM track_hits WHERE track_id IN (SELECT track_id FROM tracks WHERE event_id = ?)`,
		`DELETE FROM tracks WHERE event_id = ?`,
		`DELETE FROM events WHERE event_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, ev.ID); err != nil {
			return fmt.Errorf("delete previous event: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, n_segments, n_tracks, timed_out)
		VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Segments, len(ev.Candidates), ev.TimedOut,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for _, c := range ev.Candidates {
		t := c.Track()
		if t == nil {
			continue
		}
		eta, phi := t.Counts()
		var qOverP interface{}
		if t.Pars.HasMomentum {
			qOverP = t.Pars.QOverP
		}
		p := t.Pars.Position
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (
				track_id, event_id, chi2, ndof, curved, theta, phi,
				pos_x, pos_y, pos_z, q_over_p, n_eta, n_phi, stations, segments
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), ev.ID, t.Chi2, t.Ndof, t.Curved, t.Pars.Theta(), t.Pars.Phi(),
			p.X, p.Y, p.Z, qOverP, eta, phi, int(t.Stations()), joinHandles(c.Handles()),
		); err != nil {
			return fmt.Errorf("insert track %s: %w", t.ID, err)
		}
		for i, h := range t.Hits.Hits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO track_hits (track_id, seq, hit_id, status, x, y, z, residual, pull)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID.String(), i, int64(h.ID), h.Status.String(),
				h.Position.X, h.Position.Y, h.Position.Z, h.Residual, h.Pull,
			); err != nil {
				return fmt.Errorf("insert hit %d of track %s: %w", i, t.ID, err)
			}
		}
		tracef("track %s: %d hits", t.ID, t.Hits.Len())
	}
	return nil
}

func joinHandles(hs []muon.SegmentHandle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = strconv.Itoa(int(h))
	}
	return strings.Join(parts, ",")
}

func splitHandles(s string) ([]muon.SegmentHandle, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]muon.SegmentHandle, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse segment handle %q: %w", p, err)
		}
		out[i] = muon.SegmentHandle(v)
	}
	return out, nil
}

// Tracks returns the tracks stored for an event, ordered by track ID.
func (db *DB) Tracks(ctx context.Context, eventID string) ([]TrackRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT track_id, event_id, chi2, ndof, curved, theta, phi,
			pos_x, pos_y, pos_z, q_over_p, n_eta, n_phi, stations, segments
		FROM tracks WHERE event_id = ? ORDER BY track_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackRow
	for rows.Next() {
		var r TrackRow
		var stations int
		var segs string
		if err := rows.Scan(&r.TrackID, &r.EventID, &r.Chi2, &r.Ndof, &r.Curved, &r.Theta, &r.Phi,
			&r.Position[0], &r.Position[1], &r.Position[2], &r.QOverP,
			&r.NEta, &r.NPhi, &stations, &segs); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		r.Stations = muon.StationSet(stations)
		if r.Segments, err = splitHandles(segs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Hits returns the hits of a stored track in fit order.
func (db *DB) Hits(ctx context.Context, trackID string) ([]HitRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, hit_id, status, x, y, z, residual, pull
		FROM track_hits WHERE track_id = ? ORDER BY seq`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query track hits: %w", err)
	}
	defer rows.Close()

	var out []HitRow
	for rows.Next() {
		var r HitRow
		var id int64
		if err := rows.Scan(&r.Seq, &id, &r.Status, &r.Position[0], &r.Position[1], &r.Position[2],
			&r.Residual, &r.Pull); err != nil {
			return nil, fmt.Errorf("scan track hit: %w", err)
		}
		r.ID = muon.Identifier(id)
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventRow is a stored event summary.
type EventRow struct {
	EventID  string
	Segments int
	Tracks   int
	TimedOut bool
}

// Event returns the stored summary of an event, or nil when the event
// is not stored.
func (db *DB) Event(ctx context.Context, eventID string) (*EventRow, error) {
	r := EventRow{EventID: eventID}
	err := db.QueryRowContext(ctx, `
		SELECT n_segments, n_tracks, timed_out FROM events WHERE event_id = ?`, eventID,
	).Scan(&r.Segments, &r.Tracks, &r.TimedOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return &r, nil
}
