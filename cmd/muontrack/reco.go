package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/monitoring"
	"github.com/banshee-data/muontrack/internal/muon/event"
	"github.com/banshee-data/muontrack/internal/muon/store"
	"github.com/banshee-data/muontrack/internal/muon/strategy"
)

type recoOptions struct {
	events      []string
	dbPath      string
	metricsFile string
	jobs        int
}

func newRecoCmd(g *globalOptions) *cobra.Command {
	o := &recoOptions{}
	cmd := &cobra.Command{
		Use:   "reco",
		Short: "Run the track search over event files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning, err := g.loadTuning()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err = runReco(ctx, tuning, o, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringSliceVar(&o.events, "events", nil, "event files (.json, .yaml); repeatable")
	cmd.Flags().StringVar(&o.dbPath, "db", "", "sqlite database for the output tracks")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "write prometheus metrics to this textfile")
	cmd.Flags().IntVar(&o.jobs, "jobs", 4, "events processed concurrently")
	cmd.MarkFlagRequired("events")
	return cmd
}

// runReco processes every event of every file and returns the summed
// statistics.
func runReco(ctx context.Context, tuning *config.TuningConfig, o *recoOptions, out io.Writer) (*strategy.Stats, error) {
	if len(o.events) == 0 {
		return nil, errors.New("no event files given")
	}
	ctrl, err := strategy.NewFromTuning(tuning)
	if err != nil {
		return nil, err
	}

	var db *store.DB
	if o.dbPath != "" {
		if db, err = store.Open(o.dbPath); err != nil {
			return nil, err
		}
		defer db.Close()
	}
	metrics := monitoring.NewMetrics()

	var events []event.Event
	for _, path := range o.events {
		evs, err := event.Load(path)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	var (
		mu    sync.Mutex
		total strategy.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.jobs, 1))
	for i := range events {
		ev := &events[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			segs, err := ev.Store()
			if err != nil {
				monitoring.Logf("skipping event %s: %v", ev.ID, err)
				return nil
			}
			stats := &strategy.Stats{}
			start := time.Now()
			res := ctrl.Find(gctx, segs, stats)
			elapsed := time.Since(start)
			metrics.Record(stats, elapsed)

			if db != nil {
				if err := db.SaveEvent(gctx, store.EventRecord{
					ID:         ev.ID,
					Segments:   segs.Len(),
					TimedOut:   res.TimedOut,
					Candidates: res.Candidates,
				}); err != nil {
					return fmt.Errorf("event %s: %w", ev.ID, err)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			total.Add(stats)
			fmt.Fprintf(out, "%s: %d segments, %d tracks, %s", ev.ID, segs.Len(), len(res.Candidates), elapsed.Round(time.Microsecond))
			if res.TimedOut {
				fmt.Fprint(out, " (timed out)")
			}
			fmt.Fprintln(out)
			for _, t := range res.Tracks() {
				eta, phi := t.Counts()
				fmt.Fprintf(out, "  track %s theta %.4f phi %.4f p %.1f GeV chi2/ndof %.2f eta %d phi %d\n",
					t.ID, t.Pars.Theta(), t.Pars.Phi(), t.Pars.Momentum()/1000, t.Chi2PerDof(), eta, phi)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &total, err
	}

	fmt.Fprintf(out, "events %d, tracks %d, seeds tried %d, combinations %d, timeouts %d\n",
		total.Events, total.TracksFound, total.SeedsTried, total.CombineAttempts, total.Timeouts)
	if o.metricsFile != "" {
		if err := metrics.WriteTextfile(o.metricsFile); err != nil {
			return &total, fmt.Errorf("write metrics: %w", err)
		}
	}
	return &total, nil
}
