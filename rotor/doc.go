// Package rotor keeps encryption and message scheduling in step with a shared
// session sequence.
//
// Sessions are published on a feed.Feed. A crypto.Processors and a
// scheduler.Scheduler each follow their own subscription of that feed, so
// they rotate independently and may briefly disagree about the current
// session. Endpoint drives both from one loop and decides what to do with
// messages caught in between; Peer carries sealed messages between hosts over
// QUIC.
package rotor
