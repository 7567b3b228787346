package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/muon/display"
	"github.com/banshee-data/muontrack/internal/muon/event"
	"github.com/banshee-data/muontrack/internal/muon/strategy"
)

type displayOptions struct {
	events  string
	eventID string
	outDir  string
	format  string
}

func newDisplayCmd(g *globalOptions) *cobra.Command {
	o := &displayOptions{}
	cmd := &cobra.Command{
		Use:   "display",
		Short: "Reconstruct events and render r-z and x-y views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning, err := g.loadTuning()
			if err != nil {
				return err
			}
			return runDisplay(cmd.Context(), tuning, o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.events, "events", "", "event file (.json, .yaml)")
	cmd.Flags().StringVar(&o.eventID, "event", "", "only this event ID")
	cmd.Flags().StringVar(&o.outDir, "out", ".", "output directory")
	cmd.Flags().StringVar(&o.format, "format", "png", "image format: png, svg or pdf")
	cmd.MarkFlagRequired("events")
	return cmd
}

func runDisplay(ctx context.Context, tuning *config.TuningConfig, o *displayOptions, out io.Writer) error {
	ctrl, err := strategy.NewFromTuning(tuning)
	if err != nil {
		return err
	}
	events, err := event.Load(o.events)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	field := 0.0
	if tuning.GetFieldOn() {
		field = tuning.GetFieldTesla()
	}

	n := 0
	for i := range events {
		ev := &events[i]
		if o.eventID != "" && ev.ID != o.eventID {
			continue
		}
		segs, err := ev.Store()
		if err != nil {
			return err
		}
		res := ctrl.Find(ctx, segs, nil)
		tracks := res.Tracks()

		d := display.FromStore(ev.ID, segs, tracks, field)
		rz, xy, err := display.FileNames(o.outDir, ev.ID, o.format)
		if err != nil {
			return err
		}
		if err := display.Save(rz, d, display.ViewRZ); err != nil {
			return err
		}
		if err := display.Save(xy, d, display.ViewXY); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d tracks -> %s, %s\n", ev.ID, len(tracks), rz, xy)
		n++
	}
	if n == 0 {
		return fmt.Errorf("no event matched %q in %s", o.eventID, o.events)
	}
	return nil
}
