package ratchet

import (
	"errors"
	"sync"

	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrChainExhausted = errors.New("ratchet: maximum epoch reached")
	ErrInvalidRootKey = errors.New("ratchet: root key must be 32 bytes")
)

const (
	// MaxEpoch bounds the chain before a fresh agreement is required.
	MaxEpoch = 1 << 32

	stepInfo = "rotor-ratchet-step"
)

// Chain derives successive sessions from a root key.
// Each step expands the chain key with HKDF into the next chain key and the
// session key; the old chain key is overwritten, so earlier sessions cannot
// be recomputed from the chain's current state.
type Chain struct {
	mu       sync.Mutex
	chainKey [32]byte
	epoch    uint64
}

func NewChain(root []byte) (*Chain, error) {
	if len(root) != 32 {
		return nil, ErrInvalidRootKey
	}
	c := &Chain{}
	copy(c.chainKey[:], root)
	return c, nil
}

// Next advances the chain and returns the session for the new epoch.
// Epochs start at 1.
func (c *Chain) Next() (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch >= MaxEpoch {
		return session.Session{}, ErrChainExhausted
	}

	material, err := crypto.DeriveKey(c.chainKey[:], nil, []byte(stepInfo), 64)
	if err != nil {
		return session.Session{}, err
	}
	copy(c.chainKey[:], material[:32])
	var key [session.KeySize]byte
	copy(key[:], material[32:])
	clear(material)

	c.epoch++
	return session.New(c.epoch, key), nil
}

// Epoch returns the epoch of the last session handed out, 0 before the first.
func (c *Chain) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}
