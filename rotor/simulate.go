package rotor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/crypto/ratchet"
	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrRootMismatch = errors.New("rotor: agreement produced different roots")
)

type SimulationConfig struct {
	// Rotations is how many sessions are published after the initial one.
	Rotations   int
	Interval    time.Duration
	MaxDeferred int
	Logger      *slog.Logger
	OnRotate    func(Component)
}

// Simulate runs an Endpoint against an in-memory feed driven by a ratchet
// chain. A third subscriber observes every rotation and injects one message
// under the new session and one under the previous session. Those messages
// race the endpoint's own subscriptions, so the returned Stats show how often
// the components were caught out of step.
func Simulate(ctx context.Context, cfg SimulationConfig) (Stats, error) {
	if cfg.Rotations <= 0 {
		return Stats{}, fmt.Errorf("rotor: rotations must be positive, got %d", cfg.Rotations)
	}
	if cfg.Interval <= 0 {
		return Stats{}, fmt.Errorf("rotor: interval must be positive, got %v", cfg.Interval)
	}

	chain, err := NewLocalChain()
	if err != nil {
		return Stats{}, err
	}
	initial, err := chain.Next()
	if err != nil {
		return Stats{}, err
	}

	b := feed.NewBroadcast()
	defer b.Close()

	ep, err := NewEndpoint(ctx, b, initial, Options{
		Logger:      cfg.Logger,
		MaxDeferred: cfg.MaxDeferred,
		OnRotate:    cfg.OnRotate,
	})
	if err != nil {
		return Stats{}, err
	}
	defer ep.Close()

	observer, err := b.Subscribe(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer observer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan crypto.Message, 2*cfg.Rotations)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := feed.Interval(gctx, b, cfg.Interval, chain.Next)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		// The publisher has nothing left to do once the endpoint is done.
		defer cancel()
		return ep.Run(gctx, inbound)
	})

	g.Go(func() error {
		defer close(inbound)
		prev := initial
		for i := 0; i < cfg.Rotations; i++ {
			var next session.Session
			select {
			case s, ok := <-observer.C():
				if !ok {
					return nil
				}
				next = s
			case <-gctx.Done():
				return gctx.Err()
			}
			for _, s := range [2]session.Session{next, prev} {
				msg, err := crypto.BuildMessage(s)
				if err != nil {
					return err
				}
				inbound <- msg
			}
			prev = next
		}
		return nil
	})

	err = g.Wait()
	return ep.Stats(), err
}

// NewLocalChain seeds a ratchet chain from an agreement whose both sides run
// in this process. Sessions leave it only through a feed.
func NewLocalChain() (*ratchet.Chain, error) {
	root, err := agreeRoot()
	if err != nil {
		return nil, err
	}
	return ratchet.NewChain(root)
}

// agreeRoot runs both sides of an ephemeral agreement locally.
func agreeRoot() ([]byte, error) {
	initiator, err := crypto.NewAgreementInitiator()
	if err != nil {
		return nil, err
	}
	responder, err := crypto.NewAgreementResponder()
	if err != nil {
		return nil, err
	}
	a, err := initiator.Complete(responder.LocalEphemeralPublic())
	if err != nil {
		return nil, err
	}
	b, err := responder.Complete(initiator.LocalEphemeralPublic())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(a, b) {
		return nil, ErrRootMismatch
	}
	return a, nil
}
