package scheduler

import (
	"errors"
	"fmt"

	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrSessionMismatch = errors.New("scheduler: session mismatch")
)

// Scheduler buffers messages accepted under its current session and discards
// them all when the session rotates.
//
// Its session changes only through rotations received on its own feed
// subscription. Schedule, Drain and Apply mutate it; they must be called from
// the single goroutine that owns the scheduler.
type Scheduler[M any] struct {
	follow  *feed.Follower
	current session.Session
	buf     []M
}

// New starts a scheduler at initial with an empty buffer. sub must be a
// subscription of its own.
func New[M any](initial session.Session, sub feed.Subscription) *Scheduler[M] {
	return &Scheduler[M]{follow: feed.NewFollower(sub), current: initial}
}

// Schedule appends msg iff s is the scheduler's current session.
// A mismatch leaves the scheduler untouched.
func (s *Scheduler[M]) Schedule(msg M, sess session.Session) error {
	if sess != s.current {
		return fmt.Errorf("%w: got %v, current %v", ErrSessionMismatch, sess, s.current)
	}
	s.buf = append(s.buf, msg)
	return nil
}

// Rotations signals each session published on the feed, to be passed to Apply
// in order. The channel closes when the feed terminates.
func (s *Scheduler[M]) Rotations() <-chan feed.Rotation { return s.follow.C() }

// Apply makes the session behind r current and empties the buffer. Buffered
// messages are not carried over.
func (s *Scheduler[M]) Apply(r feed.Rotation) error {
	return s.follow.Apply(r, func(next session.Session) error {
		s.rotate(next)
		return nil
	})
}

func (s *Scheduler[M]) rotate(next session.Session) {
	s.current = next
	clear(s.buf)
	s.buf = s.buf[:0]
}

func (s *Scheduler[M]) Session() session.Session { return s.current }

func (s *Scheduler[M]) Len() int { return len(s.buf) }

// Messages returns a copy of the buffer in acceptance order.
func (s *Scheduler[M]) Messages() []M {
	out := make([]M, len(s.buf))
	copy(out, s.buf)
	return out
}

// Drain hands the buffered messages to the caller and empties the buffer.
// The session does not change.
func (s *Scheduler[M]) Drain() []M {
	out := s.buf
	s.buf = nil
	return out
}

// Close detaches the feed subscription.
func (s *Scheduler[M]) Close() error { return s.follow.Close() }
