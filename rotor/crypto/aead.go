package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/TheusHen/Rotor/rotor/session"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// AEAD is ChaCha20-Poly1305 keyed by one session key.
// Nonces are a 32-bit random prefix followed by a 64-bit counter, so a single
// AEAD never repeats a nonce. Many AEADs sharing a key only have the prefix
// to tell them apart; use NewRandomNonceAEAD for those. Open does not touch
// the counter and is safe to call repeatedly.
type AEAD struct {
	aead   cipher.AEAD
	prefix [4]byte
	seq    atomic.Uint64
	random bool
}

func NewAEAD(key [session.KeySize]byte) (*AEAD, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	a := &AEAD{aead: aead}
	if _, err := io.ReadFull(rand.Reader, a.prefix[:]); err != nil {
		return nil, err
	}
	return a, nil
}

// NewRandomNonceAEAD draws every nonce fully at random. It is meant for
// short-lived instances created per message under a long-lived key, where a
// 32-bit prefix would collide after tens of thousands of instances.
func NewRandomNonceAEAD(key [session.KeySize]byte) (*AEAD, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead, random: true}, nil
}

// Seal returns nonce (12 bytes) || ciphertext || tag (16 bytes).
func (a *AEAD) Seal(plaintext, additionalData []byte) []byte {
	out := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+len(plaintext)+a.aead.Overhead())
	if a.random {
		// crypto/rand.Read never returns an error.
		_, _ = rand.Read(out)
	} else {
		copy(out[:4], a.prefix[:])
		binary.BigEndian.PutUint64(out[4:], a.seq.Add(1))
	}
	return a.aead.Seal(out, out[:chacha20poly1305.NonceSize], plaintext, additionalData)
}

func (a *AEAD) Open(sealed, additionalData []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSize
	if len(sealed) < nonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead is the nonce plus tag size added by Seal.
func (a *AEAD) Overhead() int { return chacha20poly1305.NonceSize + a.aead.Overhead() }
