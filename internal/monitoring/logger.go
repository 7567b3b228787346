// Package monitoring holds the process-level logger, the routing of the
// per-package log streams and the prometheus metrics of the track search.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/banshee-data/muontrack/internal/muon"
	"github.com/banshee-data/muontrack/internal/muon/ambiguity"
	"github.com/banshee-data/muontrack/internal/muon/builder"
	"github.com/banshee-data/muontrack/internal/muon/event"
	"github.com/banshee-data/muontrack/internal/muon/fitter"
	"github.com/banshee-data/muontrack/internal/muon/matching"
	"github.com/banshee-data/muontrack/internal/muon/store"
	"github.com/banshee-data/muontrack/internal/muon/strategy"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects which per-package streams are written.
type Level int

const (
	LevelQuiet Level = iota
	LevelOps
	LevelDiag
	LevelTrace
)

// ParseLevel accepts quiet, ops, diag or trace.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "quiet", "off", "none":
		return LevelQuiet, nil
	case "ops", "":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelQuiet, fmt.Errorf("unknown log level %q", s)
}

var streamSetters = []func(ops, diag, trace io.Writer){
	muon.SetLogWriters,
	fitter.SetLogWriters,
	matching.SetLogWriters,
	builder.SetLogWriters,
	ambiguity.SetLogWriters,
	strategy.SetLogWriters,
	event.SetLogWriters,
	store.SetLogWriters,
}

// SetStreams routes the ops, diag and trace streams of every track
// finding package to w, enabling the streams up to level.
func SetStreams(level Level, w io.Writer) {
	var ops, diag, trace io.Writer
	if level >= LevelOps {
		ops = w
	}
	if level >= LevelDiag {
		diag = w
	}
	if level >= LevelTrace {
		trace = w
	}
	for _, set := range streamSetters {
		set(ops, diag, trace)
	}
}
