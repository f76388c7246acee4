package feed

import (
	"context"
	"errors"

	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrClosed = errors.New("feed: closed")
)

// Feed is a multi-subscriber source of sessions.
// Every subscription owns an independent cursor that starts at the moment of
// subscribing; past sessions are never replayed.
type Feed interface {
	// Publish appends a session and fans it out to every live subscription.
	Publish(ctx context.Context, s session.Session) error

	// Subscribe returns a new cursor starting from "now".
	Subscribe(ctx context.Context) (Subscription, error)

	// Close terminates the feed. Subscriptions drain their backlog and then
	// close their channel.
	Close() error
}

// Subscription is one subscriber's view of a Feed.
type Subscription interface {
	// C delivers sessions in publish order, never reordered or skipped.
	// A session is delivered only when the receiver takes it from C.
	// C is closed once the feed has terminated and the backlog is empty.
	C() <-chan session.Session

	// Backlog reports the number of published sessions not yet received.
	Backlog() int

	// Close detaches the subscription and discards undelivered sessions.
	// A receive racing with Close may still observe the head of the queue.
	Close() error
}
