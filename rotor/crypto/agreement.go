package crypto

import (
	"errors"
	"sync"
)

var (
	ErrAgreementComplete = errors.New("crypto: agreement already completed")
)

// Agreement is one side of an ephemeral X25519 exchange. Completing it yields
// the root key both peers feed into their session ratchet.
type Agreement struct {
	mu          sync.Mutex
	isInitiator bool
	localEph    *EphemeralKey
	done        bool
}

func NewAgreementInitiator() (*Agreement, error) {
	return newAgreement(true)
}

func NewAgreementResponder() (*Agreement, error) {
	return newAgreement(false)
}

func newAgreement(initiator bool) (*Agreement, error) {
	eph, err := NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	return &Agreement{isInitiator: initiator, localEph: eph}, nil
}

// LocalEphemeralPublic is the key to send to the peer.
func (a *Agreement) LocalEphemeralPublic() [32]byte {
	return a.localEph.Public
}

// Complete derives the 32-byte root key from the peer's ephemeral public key.
// The ephemeral private key is wiped afterwards; an Agreement completes once.
func (a *Agreement) Complete(peerEphPub [32]byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return nil, ErrAgreementComplete
	}

	shared, err := a.localEph.Shared(peerEphPub)
	if err != nil {
		return nil, err
	}
	defer clear(shared)

	initiatorPub, responderPub := a.localEph.Public, peerEphPub
	if !a.isInitiator {
		initiatorPub, responderPub = peerEphPub, a.localEph.Public
	}

	root, err := DeriveRootKey(shared, initiatorPub, responderPub)
	if err != nil {
		return nil, err
	}

	a.localEph.Wipe()
	a.done = true
	return root, nil
}
