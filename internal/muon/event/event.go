// Package event reads and writes muon events: the segments of one
// bunch crossing with their hits, stored as JSON or YAML.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/muontrack/internal/muon"
)

// Format is the encoding of an event file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// maxFileSize bounds the size of an event file.
const maxFileSize = 64 * 1024 * 1024

// ErrUnknownFormat is returned for files whose extension names no format.
var ErrUnknownFormat = errors.New("event: unknown file format")

// FormatFor returns the format implied by the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Vec is a position or direction as [x, y, z] in mm.
type Vec [3]float64

func (v Vec) r3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func vecOf(v r3.Vec) Vec { return Vec{v.X, v.Y, v.Z} }

// ElementRecord describes the active area of a tube or strip.
type ElementRecord struct {
	Center     Vec     `json:"center" yaml:"center"`
	Axis       Vec     `json:"axis" yaml:"axis"`
	HalfLength float64 `json:"half_length" yaml:"half_length"`
}

// HitRecord is the file form of a measurement.
type HitRecord struct {
	Tech        string        `json:"tech" yaml:"tech"`
	Layer       int           `json:"layer" yaml:"layer"`
	Channel     int           `json:"channel" yaml:"channel"`
	MeasuresPhi bool          `json:"measures_phi,omitempty" yaml:"measures_phi,omitempty"`
	Position    Vec           `json:"position" yaml:"position"`
	Element     ElementRecord `json:"element" yaml:"element"`
	Error       float64       `json:"error" yaml:"error"`
	BroadError  float64       `json:"broad_error,omitempty" yaml:"broad_error,omitempty"`
}

// SegmentRecord is the file form of a segment.
type SegmentRecord struct {
	Chamber   string      `json:"chamber" yaml:"chamber"`
	Sector    int         `json:"sector" yaml:"sector"`
	Eta       int         `json:"eta" yaml:"eta"`
	Quality   int         `json:"quality" yaml:"quality"`
	Position  Vec         `json:"position" yaml:"position"`
	Direction Vec         `json:"direction" yaml:"direction"`
	Hits      []HitRecord `json:"hits" yaml:"hits"`
}

// Event is one bunch crossing.
type Event struct {
	ID       string          `json:"id" yaml:"id"`
	Segments []SegmentRecord `json:"segments" yaml:"segments"`
}

// File is the top-level document: a list of events.
type File struct {
	Events []Event `json:"events" yaml:"events"`
}

// Load reads every event of the file at path.
func Load(path string) ([]Event, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat event file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("event file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	events, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	diagf("loaded %d events from %s", len(events), path)
	return events, nil
}

// Decode reads a File document from r.
func Decode(r io.Reader, format Format) ([]Event, error) {
	var doc File
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode JSON events: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode YAML events: %w", err)
		}
	default:
		return nil, ErrUnknownFormat
	}
	for i := range doc.Events {
		if doc.Events[i].ID == "" {
			doc.Events[i].ID = fmt.Sprintf("event-%d", i)
		}
	}
	return doc.Events, nil
}

// Encode writes events to w in the given format.
func Encode(w io.Writer, format Format, events []Event) error {
	doc := File{Events: events}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode YAML events: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	}
	return ErrUnknownFormat
}

// Save writes events to path, choosing the format from the extension.
func Save(path string, events []Event) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create event file: %w", err)
	}
	if err := Encode(f, format, events); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Store converts the event into a segment store. Segments that fail
// validation are logged and skipped; the error lists how many were
// dropped only when none survive.
func (e *Event) Store() (*muon.SegmentStore, error) {
	store := muon.NewSegmentStore()
	dropped := 0
	for i := range e.Segments {
		seg, err := e.Segments[i].Segment()
		if err != nil {
			opsf("event %s segment %d: %v", e.ID, i, err)
			dropped++
			continue
		}
		store.Add(seg)
	}
	if store.Len() == 0 && dropped > 0 {
		return nil, fmt.Errorf("event %s: all %d segments invalid", e.ID, dropped)
	}
	tracef("event %s: %d segments (%d dropped)", e.ID, store.Len(), dropped)
	return store, nil
}

// Segment validates the record and builds the segment with its hits.
func (r *SegmentRecord) Segment() (*muon.Segment, error) {
	ch, err := muon.ParseChamberIndex(r.Chamber)
	if err != nil {
		return nil, err
	}
	if r.Sector < 1 || r.Sector > muon.NumSectors {
		return nil, fmt.Errorf("sector %d out of range 1..%d", r.Sector, muon.NumSectors)
	}
	if r.Eta < -7 || r.Eta > 7 {
		return nil, fmt.Errorf("eta index %d out of range -7..7", r.Eta)
	}
	dir := r.Direction.r3()
	if n := r3.Norm(dir); n == 0 || math.IsNaN(n) {
		return nil, fmt.Errorf("segment direction %v is not a direction", r.Direction)
	}

	seg := &muon.Segment{
		Position:  r.Position.r3(),
		Direction: r3.Unit(dir),
		Quality:   r.Quality,
		Chamber:   muon.NewChamberKey(ch, r.Sector, r.Eta),
	}
	for j, h := range r.Hits {
		hit, err := h.hit(ch, r.Sector, r.Eta)
		if err != nil {
			return nil, fmt.Errorf("hit %d: %w", j, err)
		}
		seg.Hits = append(seg.Hits, hit)
	}
	return seg, nil
}

func (h *HitRecord) hit(ch muon.ChamberIndex, sector, eta int) (*muon.Hit, error) {
	tech, err := muon.ParseTechnology(h.Tech)
	if err != nil {
		return nil, err
	}
	if tech == muon.TechPseudo {
		return nil, errors.New("pseudo measurements cannot be read from file")
	}
	if h.Error <= 0 {
		return nil, fmt.Errorf("error %g must be positive", h.Error)
	}
	broad := h.BroadError
	if broad < h.Error {
		broad = h.Error
	}
	axis := h.Element.Axis.r3()
	if n := r3.Norm(axis); n > 0 {
		axis = r3.Unit(axis)
	}
	return &muon.Hit{
		ID:       muon.NewIdentifier(tech, ch, sector, eta, h.Layer, h.Channel, h.MeasuresPhi),
		Position: h.Position.r3(),
		Element: muon.Element{
			Center:     h.Element.Center.r3(),
			Axis:       axis,
			HalfLength: h.Element.HalfLength,
		},
		PreciseError: h.Error,
		BroadError:   broad,
		Tech:         tech,
	}, nil
}

// FromSegments builds the file form of an event.
func FromSegments(id string, segs []*muon.Segment) Event {
	ev := Event{ID: id}
	for _, s := range segs {
		rec := SegmentRecord{
			Chamber:   s.ChamberIndex().String(),
			Sector:    s.Chamber.Sector(),
			Eta:       s.Chamber.Eta(),
			Quality:   s.Quality,
			Position:  vecOf(s.Position),
			Direction: vecOf(s.Direction),
		}
		for _, h := range s.Hits {
			rec.Hits = append(rec.Hits, HitRecord{
				Tech:        h.Tech.String(),
				Layer:       h.ID.Layer(),
				Channel:     h.ID.Channel(),
				MeasuresPhi: h.MeasuresPhi(),
				Position:    vecOf(h.Position),
				Element: ElementRecord{
					Center:     vecOf(h.Element.Center),
					Axis:       vecOf(h.Element.Axis),
					HalfLength: h.Element.HalfLength,
				},
				Error:      h.PreciseError,
				BroadError: h.BroadError,
			})
		}
		ev.Segments = append(ev.Segments, rec)
	}
	return ev
}
