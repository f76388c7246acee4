package rotor

import (
	"context"
	"testing"
	"time"

	"github.com/TheusHen/Rotor/rotor/crypto"
	"github.com/TheusHen/Rotor/rotor/feed"
)

func TestPeerLinkCarriesMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewPeer(nil)
	if err := server.Listen("[::1]:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	addr := server.ListenAddr()
	if addr == "" {
		t.Fatalf("expected listener addr")
	}

	received := make(chan crypto.Message, 8)
	errCh := make(chan error, 1)
	go func() {
		link, err := server.Accept(ctx)
		if err != nil {
			errCh <- err
			return
		}
		defer link.Close()
		errCh <- link.Receive(ctx, received)
	}()

	client := NewPeer(nil)
	link, err := client.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	s0 := testSession(0)
	payloads := []string{"one", "two", "three"}
	for _, p := range payloads {
		if err := link.Send(message(t, s0, p)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Send(message(t, s0, "late")); err != ErrLinkClosed {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Receive: %v", err)
	}
	close(received)

	b := feed.NewBroadcast()
	defer b.Close()
	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ps, err := crypto.NewProcessors(s0, sub)
	if err != nil {
		t.Fatalf("NewProcessors: %v", err)
	}
	defer ps.Close()

	var got []string
	for msg := range received {
		_, payload, err := ps.Decapsulate(msg)
		if err != nil {
			t.Fatalf("Decapsulate: %v", err)
		}
		got = append(got, string(payload))
	}
	if len(got) != len(payloads) {
		t.Fatalf("received %d messages, want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if got[i] != payloads[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i], payloads[i])
		}
	}
}

func TestPeerAcceptWithoutListen(t *testing.T) {
	p := NewPeer(nil)
	if _, err := p.Accept(context.Background()); err != ErrNotListening {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
	if p.ListenAddr() != "" {
		t.Fatalf("expected empty addr")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
