package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"taintgrid.ai/internal/sim/tuning"
)

var tuningCmd = &cobra.Command{
	Use:   "tuning",
	Short: "Tuning file tools",
}

var tuningCheckFlags struct {
	factors bool
}

var tuningCheckCmd = &cobra.Command{
	Use:   "check <tuning.yaml>",
	Short: "Validate a tuning file the way contamd would on reload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tuning.Load(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ok digest=%s tick_rate_hz=%d snapshot_every_ticks=%d\n", t.Digest(), t.TickRateHz, t.SnapshotEveryTicks)
		if !tuningCheckFlags.factors {
			return nil
		}
		factors := t.Contamination.Factors()
		keys := make([]string, 0, len(factors))
		for k := range factors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-22s %g\n", k, factors[k])
		}
		return nil
	},
}

func init() {
	tuningCheckCmd.Flags().BoolVar(&tuningCheckFlags.factors, "factors", false, "print every factor")
	tuningCmd.AddCommand(tuningCheckCmd)
	rootCmd.AddCommand(tuningCmd)
}
