package crypto

import (
	"errors"

	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrNoMatchingSession = errors.New("crypto: no matching session")
)

// errNotBound means the message belongs to some other session.
var errNotBound = errors.New("crypto: message not bound to session")

// Processor binds one session to seal and open capability.
// It is immutable once created.
type Processor struct {
	session session.Session
	binding session.Fingerprint
	aead    *AEAD
}

func NewProcessor(s session.Session) (*Processor, error) {
	aead, err := NewAEAD(s.Key())
	if err != nil {
		return nil, err
	}
	return &Processor{session: s, binding: s.Fingerprint(), aead: aead}, nil
}

// newOneShotProcessor seals with fully random nonces, for processors created
// per message rather than per session.
func newOneShotProcessor(s session.Session) (*Processor, error) {
	aead, err := NewRandomNonceAEAD(s.Key())
	if err != nil {
		return nil, err
	}
	return &Processor{session: s, binding: s.Fingerprint(), aead: aead}, nil
}

func (p *Processor) Session() session.Session { return p.session }

func (p *Processor) Encapsulate(payload []byte) (Message, error) {
	sealed := p.aead.Seal(framePayload(payload), p.binding[:])
	return Message{binding: p.binding, sealed: sealed}, nil
}

// Decapsulate opens msg iff it is bound to this processor's session.
func (p *Processor) Decapsulate(msg Message) ([]byte, error) {
	if msg.binding != p.binding {
		return nil, errNotBound
	}
	plain, err := p.aead.Open(msg.sealed, p.binding[:])
	if err != nil {
		return nil, err
	}
	return unframePayload(plain)
}

// Processors holds the current processor and at most one old one.
//
// It rotates only on sessions received from its own feed subscription, applied
// in order by the goroutine that owns it. Decapsulate never changes state.
type Processors struct {
	current *Processor
	old     *Processor
	follow  *feed.Follower
}

// NewProcessors starts with initial as the current session and no old one.
// sub must be a subscription of its own; sharing it with another component
// would steal that component's rotations.
func NewProcessors(initial session.Session, sub feed.Subscription) (*Processors, error) {
	current, err := NewProcessor(initial)
	if err != nil {
		return nil, err
	}
	return &Processors{current: current, follow: feed.NewFollower(sub)}, nil
}

// Decapsulate tries the current session, then the old one. It returns the
// session that accepted msg with the opened payload.
func (ps *Processors) Decapsulate(msg Message) (session.Session, []byte, error) {
	for _, p := range [2]*Processor{ps.current, ps.old} {
		if p == nil {
			continue
		}
		payload, err := p.Decapsulate(msg)
		switch {
		case err == nil:
			return p.Session(), payload, nil
		case errors.Is(err, errNotBound):
			continue
		default:
			return session.Session{}, nil, err
		}
	}
	return session.Session{}, nil, ErrNoMatchingSession
}

// Rotations signals each session published on the feed. Every value must be
// passed to Apply, in order. The channel closes when the feed terminates; the
// existing generations stay usable after that.
func (ps *Processors) Rotations() <-chan feed.Rotation { return ps.follow.C() }

// Apply shifts current into the old slot and makes the session behind r
// current. The previous old processor is dropped for good. On error nothing
// changes.
func (ps *Processors) Apply(r feed.Rotation) error {
	return ps.follow.Apply(r, ps.rotate)
}

func (ps *Processors) rotate(next session.Session) error {
	p, err := NewProcessor(next)
	if err != nil {
		return err
	}
	ps.old, ps.current = ps.current, p
	return nil
}

func (ps *Processors) Current() session.Session { return ps.current.Session() }

func (ps *Processors) Old() (session.Session, bool) {
	if ps.old == nil {
		return session.Session{}, false
	}
	return ps.old.Session(), true
}

// Close detaches the feed subscription.
func (ps *Processors) Close() error { return ps.follow.Close() }
