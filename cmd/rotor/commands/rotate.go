package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/Rotor/rotor"
	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

// rotate: publish a fresh session on the Redis stream every interval.
func rotateCmd() *cobra.Command {
	var (
		interval time.Duration
		count    int
		end      bool
	)
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Publish rotating sessions to the Redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = cfg.RotationInterval
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}

			ctx := cmd.Context()
			f, client, err := openFeed(ctx)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()

			chain, err := rotor.NewLocalChain()
			if err != nil {
				return err
			}

			published := 0
			next := func() (session.Session, error) {
				if count > 0 && published >= count {
					return session.Session{}, errDone
				}
				s, err := chain.Next()
				if err != nil {
					return session.Session{}, err
				}
				published++
				logger.Info("publishing session", slog.Uint64("epoch", s.Epoch()), slog.String("stream", f.Key()))
				return s, nil
			}

			first, err := next()
			if err != nil {
				return err
			}
			if err := f.Publish(ctx, first); err != nil {
				return err
			}

			err = feed.Interval(ctx, f, interval, next)
			if err != nil && !errors.Is(err, errDone) && !errors.Is(err, context.Canceled) {
				return err
			}

			if end {
				return f.Close()
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between rotations (env ROTOR_ROTATION_INTERVAL)")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many sessions (0 runs until interrupted)")
	cmd.Flags().BoolVar(&end, "end", false, "append the end marker on exit, terminating every subscriber")
	return cmd
}

var errDone = errors.New("done")
