package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const rootKeyInfo = "rotor-root-key"

// DeriveKey derives length bytes with HKDF-SHA256. A nil salt means a zero salt.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveRootKey derives the 32-byte ratchet root from an X25519 shared secret.
// Both public keys are bound into the info so the root is unique to this exchange.
func DeriveRootKey(sharedSecret []byte, initiatorPub, responderPub [32]byte) ([]byte, error) {
	info := make([]byte, 0, len(rootKeyInfo)+64)
	info = append(info, rootKeyInfo...)
	info = append(info, initiatorPub[:]...)
	info = append(info, responderPub[:]...)
	return DeriveKey(sharedSecret, nil, info, 32)
}
