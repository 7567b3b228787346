package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/muontrack/internal/muon/strategy"
)

func newStrategiesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "Parse and print the configured search strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning, err := g.loadTuning()
			if err != nil {
				return err
			}
			strategies, err := strategy.ParseAll(tuning.GetStrategies())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, s := range strategies {
				fmt.Fprintf(out, "%d  %s\n", i+1, s)
				for j, group := range s.Groups {
					fmt.Fprintf(out, "     layer %d: %v\n", j+1, group)
				}
			}
			return nil
		},
	}
}
