// Package display renders events and fitted tracks with gonum/plot.
package display

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/security"
)

// View selects the projection.
type View int

const (
	// ViewRZ plots z against the transverse radius, signed by y.
	ViewRZ View = iota
	// ViewXY plots the transverse plane.
	ViewXY
)

func (v View) String() string {
	if v == ViewXY {
		return "x-y"
	}
	return "r-z"
}

// ParseView accepts "rz" or "xy".
func ParseView(s string) (View, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "rz":
		return ViewRZ, nil
	case "xy":
		return ViewXY, nil
	}
	return 0, fmt.Errorf("unknown view %q (want rz or xy)", s)
}

const (
	segmentHalfLength = 400.0 // mm drawn either side of a segment position
	trackSamples      = 60
)

var (
	etaColor     = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	phiColor     = color.RGBA{R: 30, G: 110, B: 200, A: 255}
	segmentColor = color.RGBA{R: 200, G: 120, B: 20, A: 255}
)

// Event holds what is drawn.
type Event struct {
	Title    string
	Segments []*muon.Segment
	Tracks   []*muon.Track
	// FieldTesla bends the drawn trajectory of curved tracks.
	FieldTesla float64
}

// FromStore collects the segments of a store.
func FromStore(title string, store *muon.SegmentStore, tracks []*muon.Track, field float64) Event {
	ev := Event{Title: title, Tracks: tracks, FieldTesla: field}
	for _, r := range store.Records() {
		ev.Segments = append(ev.Segments, r.Segment)
	}
	return ev
}

func project(v View, p r3.Vec) plotter.XY {
	if v == ViewXY {
		return plotter.XY{X: p.X, Y: p.Y}
	}
	r := math.Hypot(p.X, p.Y)
	if p.Y < 0 {
		r = -r
	}
	return plotter.XY{X: p.Z, Y: r}
}

// Plot builds the plot of ev in the given view.
func Plot(ev Event, v View) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s)", ev.Title, v)
	if v == ViewXY {
		p.X.Label.Text = "x (mm)"
		p.Y.Label.Text = "y (mm)"
	} else {
		p.X.Label.Text = "z (mm)"
		p.Y.Label.Text = "r (mm)"
	}
	p.Add(plotter.NewGrid())

	var eta, phi plotter.XYs
	for _, s := range ev.Segments {
		for _, h := range s.Hits {
			if h.MeasuresPhi() {
				phi = append(phi, project(v, h.Position))
			} else {
				eta = append(eta, project(v, h.Position))
			}
		}
	}
	if err := addScatter(p, "eta hits", eta, etaColor, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	if err := addScatter(p, "phi hits", phi, phiColor, draw.TriangleGlyph{}); err != nil {
		return nil, err
	}

	for i, s := range ev.Segments {
		d := r3.Scale(segmentHalfLength, r3.Unit(s.Direction))
		l, err := plotter.NewLine(plotter.XYs{
			project(v, r3.Sub(s.Position, d)),
			project(v, r3.Add(s.Position, d)),
		})
		if err != nil {
			return nil, err
		}
		l.Color = segmentColor
		l.Width = vg.Points(2)
		p.Add(l)
		if i == 0 {
			p.Legend.Add("segments", l)
		}
	}

	colors := generateColors(len(ev.Tracks))
	for i, t := range ev.Tracks {
		pts := trajectory(t, ev.FieldTesla)
		if len(pts) < 2 {
			continue
		}
		xys := make(plotter.XYs, len(pts))
		for j, q := range pts {
			xys[j] = project(v, q)
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		l.Color = colors[i]
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(trackLabel(t), l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func addScatter(p *plot.Plot, name string, xys plotter.XYs, c color.Color, g draw.GlyphDrawer) error {
	if len(xys) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(1.5)
	s.GlyphStyle.Shape = g
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

func trackLabel(t *muon.Track) string {
	if p := t.Pars.Momentum(); p > 0 {
		return fmt.Sprintf("track %.0f GeV, chi2/ndof %.1f", t.Pars.Charge()*p/1000, t.Chi2PerDof())
	}
	return fmt.Sprintf("track chi2/ndof %.1f", t.Chi2PerDof())
}

// trajectory samples the fitted track between its first and last hit.
func trajectory(t *muon.Track, field float64) []r3.Vec {
	if t == nil || t.Hits == nil || t.Hits.Len() == 0 {
		return nil
	}
	pars := t.Pars
	dir := r3.Unit(pars.Direction)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range t.Hits.Hits {
		s := r3.Dot(r3.Sub(h.Position, pars.Position), dir)
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	kappa := 0.0
	if t.Curved && pars.HasMomentum {
		kappa = pars.QOverP * 0.3 * field
	}
	bend := pars.BendingAxis()
	out := make([]r3.Vec, trackSamples)
	for i := range out {
		s := lo + (hi-lo)*float64(i)/float64(trackSamples-1)
		q := r3.Add(pars.Position, r3.Scale(s, dir))
		out[i] = r3.Add(q, r3.Scale(0.5*kappa*s*s, bend))
	}
	return out
}

// Size of saved images.
var (
	Width  = 10 * vg.Inch
	Height = 7 * vg.Inch
)

// Save renders ev to path. The format follows the file extension
// (png, svg, pdf, ...).
func Save(path string, ev Event, v View) error {
	p, err := Plot(ev, v)
	if err != nil {
		return err
	}
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("save %s display: %w", v, err)
	}
	return nil
}

// Write renders ev to w in the given format ("png", "svg", ...).
func Write(w io.Writer, format string, ev Event, v View) error {
	p, err := Plot(ev, v)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(Width, Height, strings.TrimPrefix(format, "."))
	if err != nil {
		return fmt.Errorf("%s display: %w", v, err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// FileNames returns the r-z and x-y output names for an event under dir.
// The event ID is sanitized and the names are checked to stay inside dir.
func FileNames(dir, eventID, ext string) (rz, xy string, err error) {
	ext = strings.TrimPrefix(ext, ".")
	if rz, err = security.Join(dir, eventID+"_rz."+ext); err != nil {
		return "", "", err
	}
	if xy, err = security.Join(dir, eventID+"_xy."+ext); err != nil {
		return "", "", err
	}
	return rz, xy, nil
}

// generateColors returns n distinct colours around the hue circle.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		t -= math.Floor(t)
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(v * 255)
	}
	return conv(h + 1.0/3), conv(h), conv(h - 1.0/3)
}
