package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/Rotor/rotor"
	"github.com/TheusHen/Rotor/rotor/crypto"
)

// serve: accept QUIC links and deliver messages through a feed-driven endpoint.
func serveCmd() *cobra.Command {
	var (
		listen string
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive sealed messages over QUIC and schedule them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = cfg.ListenAddr
			}
			if every <= 0 {
				return fmt.Errorf("flush interval must be positive")
			}

			ctx := cmd.Context()
			f, client, err := openFeed(ctx)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()

			logger.Info("waiting for first session")
			ep, err := rotor.Join(ctx, f, rotor.Options{
				Logger:      logger,
				MaxDeferred: cfg.MaxDeferred,
				OnRotate: func(c rotor.Component) {
					logger.Info("rotated", slog.String("component", c.String()))
				},
			})
			if err != nil {
				return err
			}
			defer ep.Close()

			peer := rotor.NewPeer(logger)
			if err := peer.Listen(listen); err != nil {
				return err
			}
			defer peer.Close()
			logger.Info("listening", slog.String("addr", peer.ListenAddr()))

			inbound := make(chan crypto.Message, 256)
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error { return ep.Run(gctx, inbound) })

			g.Go(func() error {
				for {
					link, err := peer.Accept(gctx)
					if err != nil {
						if gctx.Err() != nil {
							return nil
						}
						return fmt.Errorf("accept: %w", err)
					}
					g.Go(func() error {
						defer link.Close()
						log := logger.With(slog.String("link", link.ID().String()))
						log.Info("link accepted")
						if err := link.Receive(gctx, inbound); err != nil && gctx.Err() == nil {
							log.Warn("link failed", slog.Any("err", err))
						}
						return nil
					})
				}
			})

			g.Go(func() error {
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				out := cmd.OutOrStdout()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
					}
					payloads, err := ep.Drain(gctx)
					if err != nil {
						return nil
					}
					for _, p := range payloads {
						fmt.Fprintf(out, "%s\n", p)
					}
					st := ep.Stats()
					logger.Debug("stats",
						slog.Uint64("accepted", st.Accepted),
						slog.Uint64("no_match", st.NoMatch),
						slog.Uint64("mismatch", st.Mismatch),
						slog.Uint64("dropped", st.Dropped),
						slog.Int("deferred", st.Deferred),
					)
				}
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "QUIC listen address (env ROTOR_LISTEN_ADDR)")
	cmd.Flags().DurationVar(&every, "flush", 500*time.Millisecond, "how often scheduled messages are delivered")
	return cmd
}
