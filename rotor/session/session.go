// Package session defines the opaque Session value that names one generation of key material.
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	KeySize         = 32
	FingerprintSize = 16

	// encodedSize is epoch (8) || key (32).
	encodedSize = 8 + KeySize
)

var (
	ErrInvalidEncoding = errors.New("session: invalid encoding")
)

// Session names one generation of key material.
// It is immutable and compared by value only; the zero Session names nothing.
type Session struct {
	epoch uint64
	key   [KeySize]byte
}

// Fingerprint binds a message to exactly one Session.
type Fingerprint [FingerprintSize]byte

func New(epoch uint64, key [KeySize]byte) Session {
	return Session{epoch: epoch, key: key}
}

// Epoch is the position of the session in arrival order.
func (s Session) Epoch() uint64 { return s.epoch }

// Key returns the session key.
// WARNING: this is live keying material.
func (s Session) Key() [KeySize]byte { return s.key }

func (s Session) Equal(other Session) bool { return s == other }

func (s Session) IsZero() bool { return s == Session{} }

// Fingerprint returns SHA-256(epoch || key) truncated to FingerprintSize.
func (s Session) Fingerprint() Fingerprint {
	var buf [encodedSize]byte
	binary.BigEndian.PutUint64(buf[:8], s.epoch)
	copy(buf[8:], s.key[:])
	sum := sha256.Sum256(buf[:])
	var fp Fingerprint
	copy(fp[:], sum[:FingerprintSize])
	return fp
}

func (s Session) String() string {
	return fmt.Sprintf("epoch %d", s.epoch)
}

// MarshalBinary encodes the session as epoch (8 bytes, big endian) || key (32 bytes).
func (s Session) MarshalBinary() ([]byte, error) {
	out := make([]byte, encodedSize)
	binary.BigEndian.PutUint64(out[:8], s.epoch)
	copy(out[8:], s.key[:])
	return out, nil
}

func (s *Session) UnmarshalBinary(data []byte) error {
	if len(data) != encodedSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidEncoding, len(data))
	}
	s.epoch = binary.BigEndian.Uint64(data[:8])
	copy(s.key[:], data[8:])
	return nil
}
