package feed

import (
	"context"
	"sync"

	"github.com/TheusHen/Rotor/rotor/session"
)

// Broadcast is an in-memory Feed. A single publisher fans every session out to
// one Pipe per subscriber, so subscribers advance independently.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[*Pipe]struct{}
	closed bool
}

func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[*Pipe]struct{})}
}

func (b *Broadcast) Publish(ctx context.Context, s session.Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for p := range b.subs {
		p.Push(s)
	}
	return nil
}

func (b *Broadcast) Subscribe(ctx context.Context) (Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	var p *Pipe
	p = NewPipe(func() {
		b.mu.Lock()
		delete(b.subs, p)
		b.mu.Unlock()
	})
	b.subs[p] = struct{}{}
	return p, nil
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for p := range b.subs {
		p.End()
	}
	b.subs = make(map[*Pipe]struct{})
	return nil
}

var _ Feed = (*Broadcast)(nil)
