// Package ratchet turns an agreed root key into an endless sequence of
// sessions.
//
// Peers that complete the same agreement hold the same root and therefore
// derive the same session for every epoch, without exchanging key material
// on rotation. The chain only moves forward: compromise of the current chain
// key does not reveal earlier session keys.
package ratchet
