package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

var ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")

// EphemeralKey is a single-use X25519 key. Only the public half leaves the
// value; the scalar is kept private and wiped once the agreement is done.
type EphemeralKey struct {
	Public [curve25519.PointSize]byte
	scalar [curve25519.ScalarSize]byte
}

func NewEphemeralKey() (*EphemeralKey, error) {
	k := &EphemeralKey{}
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(k.scalar[:])
	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(k.Public[:], pub)
	return k, nil
}

// Shared computes the raw X25519 secret with peer. It is key material only
// after HKDF. Low-order peer points are rejected by curve25519.X25519.
func (k *EphemeralKey) Shared(peer [curve25519.PointSize]byte) ([]byte, error) {
	if peer == [curve25519.PointSize]byte{} {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(k.scalar[:], peer[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return shared, nil
}

// Wipe zeroes the scalar. A wiped key must not be used again.
func (k *EphemeralKey) Wipe() { clear(k.scalar[:]) }
