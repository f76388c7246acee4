package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/Rotor/rotor"
	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

// latest tracks the newest session seen on a subscription.
type latest struct {
	mu        sync.Mutex
	processor *crypto.Processor
}

func (l *latest) set(s session.Session) error {
	p, err := crypto.NewProcessor(s)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.processor = p
	l.mu.Unlock()
	return nil
}

func (l *latest) seal(payload []byte) (crypto.Message, session.Session, error) {
	l.mu.Lock()
	p := l.processor
	l.mu.Unlock()
	msg, err := p.Encapsulate(payload)
	return msg, p.Session(), err
}

// send <message>...: seal each message under the latest session and send it.
func sendCmd() *cobra.Command {
	var (
		addr  string
		every time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Seal messages under the current session and send them over QUIC",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = cfg.ListenAddr
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			f, client, err := openFeed(ctx)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()

			sub, err := f.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer sub.Close()

			logger.Info("waiting for first session")
			initial, err := feed.First(ctx, sub)
			if err != nil {
				return err
			}
			var cur latest
			if err := cur.set(initial); err != nil {
				return err
			}

			link, err := rotor.NewPeer(logger).Dial(ctx, addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				for {
					select {
					case s, ok := <-sub.C():
						if !ok {
							return nil
						}
						if err := cur.set(s); err != nil {
							return err
						}
						logger.Debug("sender rotated", slog.Uint64("epoch", s.Epoch()))
					case <-gctx.Done():
						return nil
					}
				}
			})

			g.Go(func() error {
				defer cancel()
				for i, text := range args {
					if i > 0 && every > 0 {
						select {
						case <-time.After(every):
						case <-gctx.Done():
							return gctx.Err()
						}
					}
					msg, s, err := cur.seal([]byte(text))
					if err != nil {
						return err
					}
					if err := link.Send(msg); err != nil {
						return err
					}
					logger.Info("sent", slog.Uint64("epoch", s.Epoch()), slog.Int("bytes", len(text)))
				}
				return nil
			})

			err = g.Wait()
			return errors.Join(err, link.Close())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "receiver address (env ROTOR_LISTEN_ADDR)")
	cmd.Flags().DurationVar(&every, "every", 0, "pause between messages")
	return cmd
}
