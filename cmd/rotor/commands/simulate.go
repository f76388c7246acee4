package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/Rotor/rotor"
)

// simulate: run an in-process endpoint against a fast rotating feed.
func simulateCmd() *cobra.Command {
	var (
		rotations   int
		interval    time.Duration
		maxDeferred int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race message injection against session rotation in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-deferred") {
				maxDeferred = cfg.MaxDeferred
			}
			st, err := rotor.Simulate(cmd.Context(), rotor.SimulationConfig{
				Rotations:   rotations,
				Interval:    interval,
				MaxDeferred: maxDeferred,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rotations        crypto=%d scheduler=%d\n", st.CryptoRotations, st.SchedulerRotations)
			fmt.Fprintf(out, "accepted         %d\n", st.Accepted)
			fmt.Fprintf(out, "no match         %d\n", st.NoMatch)
			fmt.Fprintf(out, "mismatch         %d\n", st.Mismatch)
			fmt.Fprintf(out, "retried          %d\n", st.Retried)
			fmt.Fprintf(out, "dropped          %d\n", st.Dropped)
			fmt.Fprintf(out, "still deferred   %d\n", st.Deferred)
			return nil
		},
	}
	cmd.Flags().IntVar(&rotations, "rotations", 100, "sessions to publish after the initial one")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Millisecond, "time between rotations")
	cmd.Flags().IntVar(&maxDeferred, "max-deferred", 0, "messages held for the scheduler to catch up (env ROTOR_MAX_DEFERRED)")
	return cmd
}
