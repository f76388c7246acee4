// Package crypto binds sessions to seal/open capability and keeps the
// two-generation window of processors used to decapsulate inbound messages.
//
// Primitives:
//   - ChaCha20-Poly1305 AEAD per session, with the session fingerprint as
//     additional data so a message is bound to exactly one session
//   - Ephemeral X25519 agreement and HKDF-SHA256 to derive the root key that
//     seeds the session ratchet
//   - LZ4 payload compression when it pays off
//
// Processors accepts messages bound to the current session or the one
// immediately before it. Anything older, and anything from a session not yet
// observed, fails with ErrNoMatchingSession.
package crypto
