package rotor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/scheduler"
	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrAlreadyRunning = errors.New("rotor: endpoint already running")
)

// Component names the state machine a rotation notification refers to.
type Component int

const (
	ComponentCrypto Component = iota + 1
	ComponentScheduler
)

func (c Component) String() string {
	switch c {
	case ComponentCrypto:
		return "crypto"
	case ComponentScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

// Options tune an Endpoint. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// MaxDeferred bounds messages held for retry after a scheduler mismatch.
	// Zero drops them immediately.
	MaxDeferred int
	// OnRotate runs on the loop goroutine after a component rotates.
	// It is not given the new session.
	OnRotate func(Component)
}

// Stats counts what happened to inbound messages and rotations.
type Stats struct {
	Accepted           uint64
	NoMatch            uint64
	DecryptFailed      uint64
	// Mismatch counts inbound messages the scheduler refused on arrival.
	Mismatch           uint64
	// Retried counts deferred messages given their one retry; those the
	// scheduler still refuses are counted in Dropped.
	Retried            uint64
	Dropped            uint64
	CryptoRotations    uint64
	SchedulerRotations uint64
	Deferred           int
	Buffered           int
}

type deferredMessage struct {
	payload []byte
	session session.Session
}

// Endpoint owns one crypto Processors and one Scheduler, each on its own
// subscription of the same feed, and drives both from a single loop.
//
// Inbound messages are decapsulated and then scheduled. A message whose
// session the crypto side already knows but the scheduler does not yet is
// held back and retried once, on the scheduler's next rotation.
type Endpoint struct {
	cryptos *crypto.Processors
	sched   *scheduler.Scheduler[[]byte]
	log     *slog.Logger
	opts    Options

	deferred []deferredMessage
	requests chan func()
	running  atomic.Bool

	accepted      atomic.Uint64
	noMatch       atomic.Uint64
	decryptFailed atomic.Uint64
	mismatch      atomic.Uint64
	retried       atomic.Uint64
	dropped       atomic.Uint64
	cryptoRot     atomic.Uint64
	schedRot      atomic.Uint64
	deferredLen   atomic.Int64
	buffered      atomic.Int64
}

// NewEndpoint subscribes twice to f, once per component, and starts both at
// initial. Sessions published before the subscriptions exist are not seen, so
// initial must still be current when NewEndpoint returns; use Join when it
// cannot be known in advance.
func NewEndpoint(ctx context.Context, f feed.Feed, initial session.Session, opts Options) (*Endpoint, error) {
	cryptoSub, schedSub, err := subscribePair(ctx, f)
	if err != nil {
		return nil, err
	}
	return newEndpoint(initial, initial, cryptoSub, schedSub, opts)
}

// Join subscribes both components and then starts each at the first session
// its own subscription delivers. A rotation published between the two
// subscriptions leaves the components one session apart, which they resolve
// like any other skew.
func Join(ctx context.Context, f feed.Feed, opts Options) (*Endpoint, error) {
	cryptoSub, schedSub, err := subscribePair(ctx, f)
	if err != nil {
		return nil, err
	}
	cryptoInitial, err := feed.First(ctx, cryptoSub)
	if err == nil {
		var schedInitial session.Session
		schedInitial, err = feed.First(ctx, schedSub)
		if err == nil {
			return newEndpoint(cryptoInitial, schedInitial, cryptoSub, schedSub, opts)
		}
	}
	_ = cryptoSub.Close()
	_ = schedSub.Close()
	return nil, fmt.Errorf("wait for first session: %w", err)
}

func subscribePair(ctx context.Context, f feed.Feed) (feed.Subscription, feed.Subscription, error) {
	cryptoSub, err := f.Subscribe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe crypto: %w", err)
	}
	schedSub, err := f.Subscribe(ctx)
	if err != nil {
		_ = cryptoSub.Close()
		return nil, nil, fmt.Errorf("subscribe scheduler: %w", err)
	}
	return cryptoSub, schedSub, nil
}

func newEndpoint(cryptoInitial, schedInitial session.Session, cryptoSub, schedSub feed.Subscription, opts Options) (*Endpoint, error) {
	cryptos, err := crypto.NewProcessors(cryptoInitial, cryptoSub)
	if err != nil {
		_ = cryptoSub.Close()
		_ = schedSub.Close()
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.MaxDeferred < 0 {
		opts.MaxDeferred = 0
	}

	return &Endpoint{
		cryptos:  cryptos,
		sched:    scheduler.New[[]byte](schedInitial, schedSub),
		log:      log,
		opts:     opts,
		requests: make(chan func()),
	}, nil
}

// Run drives rotations and inbound messages until ctx ends or inbound is
// closed and drained. Closing inbound returns nil.
func (e *Endpoint) Run(ctx context.Context, inbound <-chan crypto.Message) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	cryptoRotations := e.cryptos.Rotations()
	schedRotations := e.sched.Rotations()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-cryptoRotations:
			if !ok {
				e.log.Debug("crypto feed ended")
				cryptoRotations = nil
				continue
			}
			if err := e.applyCrypto(r); err != nil {
				return err
			}

		case r, ok := <-schedRotations:
			if !ok {
				e.log.Debug("scheduler feed ended")
				schedRotations = nil
				continue
			}
			if err := e.applyScheduler(r); err != nil {
				return err
			}

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			e.handle(msg)

		case req := <-e.requests:
			req()
		}
	}
}

// Drain takes the scheduled payloads out of the scheduler. It runs on the
// loop, so Run must be active.
func (e *Endpoint) Drain(ctx context.Context) ([][]byte, error) {
	result := make(chan [][]byte, 1)
	req := func() {
		result <- e.sched.Drain()
		e.buffered.Store(0)
	}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-result, nil
}

func (e *Endpoint) Stats() Stats {
	return Stats{
		Accepted:           e.accepted.Load(),
		NoMatch:            e.noMatch.Load(),
		DecryptFailed:      e.decryptFailed.Load(),
		Mismatch:           e.mismatch.Load(),
		Retried:            e.retried.Load(),
		Dropped:            e.dropped.Load(),
		CryptoRotations:    e.cryptoRot.Load(),
		SchedulerRotations: e.schedRot.Load(),
		Deferred:           int(e.deferredLen.Load()),
		Buffered:           int(e.buffered.Load()),
	}
}

// Close detaches both subscriptions.
func (e *Endpoint) Close() error {
	return errors.Join(e.cryptos.Close(), e.sched.Close())
}

func (e *Endpoint) applyCrypto(r feed.Rotation) error {
	if err := e.cryptos.Apply(r); err != nil {
		return fmt.Errorf("rotate crypto: %w", err)
	}
	e.cryptoRot.Add(1)
	e.log.Debug("rotated", slog.String("component", ComponentCrypto.String()))
	e.notify(ComponentCrypto)
	return nil
}

func (e *Endpoint) applyScheduler(r feed.Rotation) error {
	discarded := e.sched.Len()
	if err := e.sched.Apply(r); err != nil {
		return fmt.Errorf("rotate scheduler: %w", err)
	}
	e.buffered.Store(0)
	e.schedRot.Add(1)
	e.log.Debug("rotated",
		slog.String("component", ComponentScheduler.String()),
		slog.Int("discarded", discarded),
	)
	e.notify(ComponentScheduler)
	e.retryDeferred()
	return nil
}

func (e *Endpoint) notify(c Component) {
	if e.opts.OnRotate != nil {
		e.opts.OnRotate(c)
	}
}

func (e *Endpoint) handle(msg crypto.Message) {
	sess, payload, err := e.cryptos.Decapsulate(msg)
	switch {
	case err == nil:
	case errors.Is(err, crypto.ErrNoMatchingSession):
		e.noMatch.Add(1)
		e.log.Warn("dropping message outside grace window")
		return
	default:
		e.decryptFailed.Add(1)
		e.log.Warn("dropping message", slog.Any("err", err))
		return
	}

	err = e.schedule(payload, sess)
	if err == nil {
		return
	}
	e.mismatch.Add(1)
	// Only a scheduler that lags behind can catch up; an older session never
	// becomes current again.
	if sess.Epoch() > e.sched.Session().Epoch() && len(e.deferred) < e.opts.MaxDeferred {
		e.deferred = append(e.deferred, deferredMessage{payload: payload, session: sess})
		e.deferredLen.Store(int64(len(e.deferred)))
		e.log.Debug("deferring message until scheduler rotates", slog.Int("deferred", len(e.deferred)))
		return
	}
	e.dropped.Add(1)
	e.log.Warn("dropping message", slog.Any("err", err))
}

func (e *Endpoint) schedule(payload []byte, sess session.Session) error {
	if err := e.sched.Schedule(payload, sess); err != nil {
		return err
	}
	e.accepted.Add(1)
	e.buffered.Store(int64(e.sched.Len()))
	return nil
}

// retryDeferred gives every deferred message its single retry.
func (e *Endpoint) retryDeferred() {
	if len(e.deferred) == 0 {
		return
	}
	pending := e.deferred
	e.deferred = nil
	e.deferredLen.Store(0)
	for _, d := range pending {
		e.retried.Add(1)
		if err := e.schedule(d.payload, d.session); err != nil {
			e.dropped.Add(1)
			e.log.Warn("dropping deferred message", slog.Any("err", err))
		}
	}
}
