package feed

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/TheusHen/Rotor/rotor/session"
)

// Pipe is a single subscriber cursor backed by an unbounded queue.
// Producers Push sessions without blocking; a session leaves the queue only
// when the subscriber receives it from C. Feed backends build their
// Subscriptions on top of Pipe.
//
// An unpolled Pipe grows without bound. Bounding it is the feed owner's job;
// Backlog exposes the current depth.
type Pipe struct {
	id uuid.UUID

	mu    sync.Mutex
	queue []session.Session
	ended bool

	signal  chan struct{}
	quit    chan struct{}
	out     chan session.Session
	closed  atomic.Bool
	onClose func()
}

// NewPipe creates a Pipe. onClose, if non-nil, runs once when the subscriber
// calls Close.
func NewPipe(onClose func()) *Pipe {
	p := &Pipe{
		id:      uuid.New(),
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		out:     make(chan session.Session),
		onClose: onClose,
	}
	go p.run()
	return p
}

// ID identifies the subscription in logs.
func (p *Pipe) ID() uuid.UUID { return p.id }

// Push enqueues s. It reports false if the pipe has ended or was closed.
func (p *Pipe) Push(s session.Session) bool {
	if p.closed.Load() {
		return false
	}
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, s)
	p.mu.Unlock()
	p.wake()
	return true
}

// End marks the producer side as finished. C closes after the backlog drains.
func (p *Pipe) End() {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
	p.wake()
}

func (p *Pipe) C() <-chan session.Session { return p.out }

func (p *Pipe) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipe) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.quit)
	p.mu.Lock()
	p.queue = nil
	p.ended = true
	p.mu.Unlock()
	if p.onClose != nil {
		p.onClose()
	}
	return nil
}

func (p *Pipe) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Pipe) run() {
	defer close(p.out)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			ended := p.ended
			p.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-p.signal:
				continue
			case <-p.quit:
				return
			}
		}
		// The head stays queued until the receiver takes it, so Backlog
		// counts it as undelivered.
		next := p.queue[0]
		p.mu.Unlock()

		select {
		case p.out <- next:
			p.mu.Lock()
			if len(p.queue) > 0 {
				p.queue[0] = session.Session{}
				p.queue = p.queue[1:]
			}
			p.mu.Unlock()
		case <-p.quit:
			return
		}
	}
}

var _ Subscription = (*Pipe)(nil)
