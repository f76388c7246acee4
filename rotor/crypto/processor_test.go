package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

func testSession(epoch uint64) session.Session {
	var key [session.KeySize]byte
	for i := range key {
		key[i] = byte(epoch*31) + byte(i)
	}
	return session.New(epoch, key)
}

func mustBuild(t testing.TB, s session.Session) Message {
	t.Helper()
	msg, err := BuildMessage(s)
	if err != nil {
		t.Fatalf("BuildMessage(%v): %v", s, err)
	}
	return msg
}

// newProcessors returns processors fed by a fresh broadcast.
func newProcessors(t *testing.T, initial session.Session) (*Processors, *feed.Broadcast) {
	t.Helper()
	b := feed.NewBroadcast()
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ps, err := NewProcessors(initial, sub)
	if err != nil {
		t.Fatalf("NewProcessors: %v", err)
	}
	return ps, b
}

// publishAndRotate publishes s and applies the rotation the way an owner loop does.
func publishAndRotate(t *testing.T, ps *Processors, b *feed.Broadcast, s session.Session) {
	t.Helper()
	if err := b.Publish(context.Background(), s); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := ps.Apply(nextRotation(t, ps)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func nextRotation(t *testing.T, ps *Processors) feed.Rotation {
	t.Helper()
	select {
	case r, ok := <-ps.Rotations():
		if !ok {
			t.Fatalf("rotations channel closed")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rotation")
	}
	return feed.Rotation{}
}

func expectAccepted(t *testing.T, ps *Processors, msg Message, want session.Session) {
	t.Helper()
	got, _, err := ps.Decapsulate(msg)
	if err != nil {
		t.Fatalf("Decapsulate(%v): %v", want, err)
	}
	if got != want {
		t.Fatalf("accepted under %v, want %v", got, want)
	}
}

func expectRejected(t *testing.T, ps *Processors, msg Message) {
	t.Helper()
	if _, _, err := ps.Decapsulate(msg); !errors.Is(err, ErrNoMatchingSession) {
		t.Fatalf("expected ErrNoMatchingSession, got %v", err)
	}
}

func TestProcessorsInitialState(t *testing.T) {
	s0 := testSession(0)
	ps, _ := newProcessors(t, s0)

	if ps.Current() != s0 {
		t.Fatalf("unexpected current %v", ps.Current())
	}
	if _, ok := ps.Old(); ok {
		t.Fatalf("expected no old generation")
	}
	expectAccepted(t, ps, mustBuild(t, s0), s0)
	expectRejected(t, ps, mustBuild(t, testSession(1)))
}

func TestProcessorsGraceWindow(t *testing.T) {
	const n = 8
	sessions := make([]session.Session, n)
	messages := make([]Message, n)
	for i := range sessions {
		sessions[i] = testSession(uint64(i))
		messages[i] = mustBuild(t, sessions[i])
	}

	ps, b := newProcessors(t, sessions[0])
	for k := 1; k < n; k++ {
		publishAndRotate(t, ps, b, sessions[k])

		expectAccepted(t, ps, messages[k], sessions[k])
		expectAccepted(t, ps, messages[k-1], sessions[k-1])
		for stale := 0; stale <= k-2; stale++ {
			expectRejected(t, ps, messages[stale])
		}

		old, ok := ps.Old()
		if !ok || old != sessions[k-1] {
			t.Fatalf("after rotation %d: old = %v, %v", k, old, ok)
		}
	}
}

func TestProcessorsScenarioA(t *testing.T) {
	s0, s1, s2 := testSession(0), testSession(1), testSession(2)
	m0, m1 := mustBuild(t, s0), mustBuild(t, s1)

	ps, b := newProcessors(t, s0)
	publishAndRotate(t, ps, b, s1)
	expectAccepted(t, ps, m1, s1)
	expectAccepted(t, ps, m0, s0)

	publishAndRotate(t, ps, b, s2)
	expectRejected(t, ps, m0)
	expectAccepted(t, ps, m1, s1)
}

func TestProcessorsFutureSessionRejectedUntilObserved(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	m1 := mustBuild(t, s1)

	ps, b := newProcessors(t, s0)
	expectRejected(t, ps, m1)

	// Published but not yet polled: still unknown to this component.
	if err := b.Publish(context.Background(), s1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectRejected(t, ps, m1)

	if err := ps.Apply(nextRotation(t, ps)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	expectAccepted(t, ps, m1, s1)
}

func TestDecapsulateIdempotent(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	ps, b := newProcessors(t, s0)
	publishAndRotate(t, ps, b, s1)

	valid := mustBuild(t, s0)
	stale := mustBuild(t, testSession(7))
	for i := 0; i < 10; i++ {
		expectAccepted(t, ps, valid, s0)
		expectRejected(t, ps, stale)
	}

	if ps.Current() != s1 {
		t.Fatalf("current changed to %v", ps.Current())
	}
	if old, ok := ps.Old(); !ok || old != s0 {
		t.Fatalf("old changed to %v, %v", old, ok)
	}
}

func TestProcessorsFeedTermination(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	ps, b := newProcessors(t, s0)
	publishAndRotate(t, ps, b, s1)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-ps.Rotations():
		if ok {
			t.Fatalf("expected rotations channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("rotations channel did not close")
	}

	expectAccepted(t, ps, mustBuild(t, s1), s1)
	expectAccepted(t, ps, mustBuild(t, s0), s0)
}

func TestDecapsulatePayloadRoundTrip(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	ps, b := newProcessors(t, s0)
	publishAndRotate(t, ps, b, s1)

	payloads := [][]byte{
		nil,
		[]byte("short"),
		bytes.Repeat([]byte("compressible "), 512),
	}
	for _, s := range []session.Session{s0, s1} {
		for _, payload := range payloads {
			msg, err := Encapsulate(s, payload)
			if err != nil {
				t.Fatalf("Encapsulate: %v", err)
			}
			got, opened, err := ps.Decapsulate(msg)
			if err != nil {
				t.Fatalf("Decapsulate: %v", err)
			}
			if got != s {
				t.Fatalf("accepted under %v, want %v", got, s)
			}
			if !bytes.Equal(opened, payload) {
				t.Fatalf("payload mismatch (%d bytes)", len(payload))
			}
		}
	}
}

func TestEncapsulateCompressesLargePayloads(t *testing.T) {
	s := testSession(3)
	payload := bytes.Repeat([]byte("a"), 4096)
	msg, err := Encapsulate(s, payload)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if len(msg.Encode()) >= len(payload) {
		t.Fatalf("expected compressed message, got %d bytes", len(msg.Encode()))
	}
}

func TestEncapsulateNoncesAreIndependent(t *testing.T) {
	s := testSession(4)
	ps, _ := newProcessors(t, s)
	counterOne := []byte{0, 0, 0, 0, 0, 0, 0, 1}

	seen := make(map[[12]byte]struct{})
	for i := range 2000 {
		msg, err := Encapsulate(s, []byte("one shot"))
		if err != nil {
			t.Fatalf("Encapsulate %d: %v", i, err)
		}
		var nonce [12]byte
		copy(nonce[:], msg.sealed[:12])
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce repeated after %d messages", i)
		}
		seen[nonce] = struct{}{}
		if bytes.Equal(nonce[4:], counterOne) {
			t.Fatalf("message %d uses a counter nonce", i)
		}
		if i%500 == 0 {
			expectAccepted(t, ps, msg, s)
		}
	}
}

func TestMessageEncodeDecode(t *testing.T) {
	s := testSession(5)
	ps, _ := newProcessors(t, s)

	msg, err := Encapsulate(s, []byte("over the wire"))
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	decoded, err := DecodeMessage(msg.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	_, payload, err := ps.Decapsulate(decoded)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if string(payload) != "over the wire" {
		t.Fatalf("unexpected payload %q", payload)
	}

	if _, err := DecodeMessage(make([]byte, 3)); err != ErrMessageTooShort {
		t.Fatalf("expected ErrMessageTooShort, got %v", err)
	}
}

func TestDecapsulateTamperedMessage(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	ps, b := newProcessors(t, s0)
	publishAndRotate(t, ps, b, s1)

	for _, s := range []session.Session{s0, s1} {
		data := mustBuild(t, s).Encode()
		data[len(data)-1] ^= 0xff
		msg, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if _, _, err := ps.Decapsulate(msg); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("expected ErrDecryptionFailed for %v, got %v", s, err)
		}
	}
}

func TestRotateDropsOldestGeneration(t *testing.T) {
	s0, s1, s2 := testSession(0), testSession(1), testSession(2)
	ps, _ := newProcessors(t, s0)

	if err := ps.rotate(s1); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := ps.rotate(s2); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ps.Current() != s2 {
		t.Fatalf("unexpected current %v", ps.Current())
	}
	if old, ok := ps.Old(); !ok || old != s1 {
		t.Fatalf("unexpected old %v, %v", old, ok)
	}
	expectRejected(t, ps, mustBuild(t, s0))
}

func TestApplyRejectsForeignRotation(t *testing.T) {
	s0, s1 := testSession(0), testSession(1)
	b := feed.NewBroadcast()
	defer b.Close()

	subA, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	subB, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	a, _ := NewProcessors(s0, subA)
	defer a.Close()
	other, _ := NewProcessors(s0, subB)
	defer other.Close()

	if err := b.Publish(context.Background(), s1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	foreign := nextRotation(t, other)
	if err := a.Apply(foreign); !errors.Is(err, feed.ErrForeignRotation) {
		t.Fatalf("expected ErrForeignRotation, got %v", err)
	}
	if err := a.Apply(feed.Rotation{}); !errors.Is(err, feed.ErrForeignRotation) {
		t.Fatalf("expected ErrForeignRotation for zero rotation, got %v", err)
	}
	if a.Current() != s0 {
		t.Fatalf("current changed to %v", a.Current())
	}
	if _, ok := a.Old(); ok {
		t.Fatalf("expected no old generation")
	}
}

func TestApplyRejectsSkippedRotation(t *testing.T) {
	s0, s1, s2 := testSession(0), testSession(1), testSession(2)
	ps, b := newProcessors(t, s0)

	for _, s := range []session.Session{s1, s2} {
		if err := b.Publish(context.Background(), s); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	first := nextRotation(t, ps)
	second := nextRotation(t, ps)

	if err := ps.Apply(second); !errors.Is(err, feed.ErrRotationOutOfOrder) {
		t.Fatalf("expected ErrRotationOutOfOrder, got %v", err)
	}
	if ps.Current() != s0 {
		t.Fatalf("current changed to %v", ps.Current())
	}

	if err := ps.Apply(first); err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	if err := ps.Apply(first); !errors.Is(err, feed.ErrRotationOutOfOrder) {
		t.Fatalf("expected ErrRotationOutOfOrder on replay, got %v", err)
	}
	if err := ps.Apply(second); err != nil {
		t.Fatalf("Apply second: %v", err)
	}
	if old, ok := ps.Old(); ps.Current() != s2 || !ok || old != s1 {
		t.Fatalf("unexpected generations %v / %v", ps.Current(), old)
	}
}

func BenchmarkProcessorsDecapsulateOld(b *testing.B) {
	s0, s1 := testSession(0), testSession(1)
	sub := feed.NewPipe(nil)
	defer sub.Close()
	ps, _ := NewProcessors(s0, sub)
	_ = ps.rotate(s1)
	msg := mustBuild(b, s0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = ps.Decapsulate(msg)
	}
}
