package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrForeignRotation    = errors.New("feed: rotation issued by another follower")
	ErrRotationOutOfOrder = errors.New("feed: rotation applied out of order")
)

// Rotation announces that the subscription behind a Follower produced its next
// session. The session itself stays sealed inside; only the issuing Follower
// can apply it.
type Rotation struct {
	issuer *Follower
	seq    uint64
	next   session.Session
}

// Follower wraps a Subscription so its sessions can only be consumed in
// order, each exactly once, by the component that owns the Follower.
//
// C may be selected on from any goroutine. Apply is not safe for concurrent
// use and belongs to the owning loop.
type Follower struct {
	sub     Subscription
	out     chan Rotation
	quit    chan struct{}
	once    sync.Once
	applied uint64
}

func NewFollower(sub Subscription) *Follower {
	f := &Follower{
		sub:  sub,
		out:  make(chan Rotation),
		quit: make(chan struct{}),
	}
	go f.run()
	return f
}

// C delivers one Rotation per session received on the subscription. It closes
// when the subscription ends.
func (f *Follower) C() <-chan Rotation { return f.out }

// Apply hands the session inside r to rotate. r is consumed only if rotate
// succeeds, so a failed rotation can be retried with the same r.
func (f *Follower) Apply(r Rotation, rotate func(session.Session) error) error {
	if r.issuer != f {
		return ErrForeignRotation
	}
	if want := f.applied + 1; r.seq != want {
		return fmt.Errorf("%w: got %d, want %d", ErrRotationOutOfOrder, r.seq, want)
	}
	if err := rotate(r.next); err != nil {
		return err
	}
	f.applied = r.seq
	return nil
}

// Applied returns how many rotations have been applied.
func (f *Follower) Applied() uint64 { return f.applied }

func (f *Follower) Close() error {
	f.once.Do(func() { close(f.quit) })
	return f.sub.Close()
}

func (f *Follower) run() {
	defer close(f.out)
	var seq uint64
	for {
		select {
		case s, ok := <-f.sub.C():
			if !ok {
				return
			}
			seq++
			select {
			case f.out <- Rotation{issuer: f, seq: seq, next: s}:
			case <-f.quit:
				return
			}
		case <-f.quit:
			return
		}
	}
}

// First waits for the next session on sub. It is how a component learns its
// initial session from the same subscription it will rotate on.
func First(ctx context.Context, sub Subscription) (session.Session, error) {
	select {
	case s, ok := <-sub.C():
		if !ok {
			return session.Session{}, ErrClosed
		}
		return s, nil
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
}
