// Package scheduler holds messages accepted under the current session.
//
// The scheduler follows its own feed subscription. It can lag behind, or run
// ahead of, the crypto processors that hand it messages: a message accepted
// by decapsulation may still be refused here with ErrSessionMismatch. That
// skew is reported, never hidden.
package scheduler
