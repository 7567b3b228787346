// Command muontrack reconstructs muon tracks from segment events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/muontrack/internal/config"
	"github.com/banshee-data/muontrack/internal/monitoring"
	"github.com/banshee-data/muontrack/internal/version"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "muontrack",
		Short:         "Muon track finding and fitting on segment events",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := monitoring.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			monitoring.SetStreams(level, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "tuning config JSON (defaults apply when empty)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "ops", "algorithm log streams: quiet, ops, diag or trace")

	root.AddCommand(newRecoCmd(g), newDisplayCmd(g), newStrategiesCmd(g))
	return root
}

// loadTuning reads the tuning file, or returns an empty config whose
// accessors supply the defaults.
func (g *globalOptions) loadTuning() (*config.TuningConfig, error) {
	if g.configPath == "" {
		return config.EmptyTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load tuning config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		monitoring.Logf("muontrack: %v", err)
		os.Exit(1)
	}
}
