package incognito

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/incognito-chat/incognito/incognito/client"
	"github.com/incognito-chat/incognito/incognito/server"
)

type endpointEvents struct {
	ready chan string
	msgs  chan [2]string
	gone  chan string
}

func newEndpointEvents() *endpointEvents {
	return &endpointEvents{
		ready: make(chan string, 1),
		msgs:  make(chan [2]string, 4),
		gone:  make(chan string, 1),
	}
}

func (e *endpointEvents) events() client.Events {
	return client.Events{
		OnChatReady:        func(peer string) { e.ready <- peer },
		OnMessage:          func(sender, text string) { e.msgs <- [2]string{sender, text} },
		OnPeerDisconnected: func(peer string) { e.gone <- peer },
	}
}

func startTestRelay(t *testing.T) *Relay {
	t.Helper()
	relay, err := StartRelay(&server.Config{
		Address: "127.0.0.1:0",
		Logging: server.Logging{Disable: true, Level: "DEBUG"},
	})
	if err != nil {
		t.Fatalf("StartRelay: %v", err)
	}
	t.Cleanup(relay.Halt)
	return relay
}

func TestChatEndToEnd(t *testing.T) {
	relay := startTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aliceEv := newEndpointEvents()
	alice, err := Connect(ctx, relay.Addr(), "alice", aliceEv.events())
	if err != nil {
		t.Fatalf("Connect alice: %v", err)
	}
	defer alice.Close()

	bobEv := newEndpointEvents()
	bob, err := Connect(ctx, relay.Addr(), "bob", bobEv.events())
	if err != nil {
		t.Fatalf("Connect bob: %v", err)
	}
	defer bob.Close()

	// No key material exists before pairing completes.
	if err := alice.SendText("too early"); !errors.Is(err, client.ErrNoSessionKey) {
		t.Fatalf("premature SendText: got %v, want ErrNoSessionKey", err)
	}

	if _, err := alice.RequestPairing("bob"); err != nil {
		t.Fatalf("alice RequestPairing: %v", err)
	}
	if _, err := bob.RequestPairing("alice"); err != nil {
		t.Fatalf("bob RequestPairing: %v", err)
	}

	waitReady := func(ev *endpointEvents, want string) {
		t.Helper()
		select {
		case peer := <-ev.ready:
			if peer != want {
				t.Fatalf("ready with %q, want %q", peer, want)
			}
		case <-time.After(15 * time.Second):
			t.Fatal("key exchange did not complete")
		}
	}
	waitReady(aliceEv, "bob")
	waitReady(bobEv, "alice")

	if err := alice.SendText("hello over quic"); err != nil {
		t.Fatalf("alice SendText: %v", err)
	}
	select {
	case got := <-bobEv.msgs:
		if got[0] != "alice" || got[1] != "hello over quic" {
			t.Fatalf("bob received %v", got)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("bob never received the message")
	}

	if err := bob.SendText("hi back"); err != nil {
		t.Fatalf("bob SendText: %v", err)
	}
	select {
	case got := <-aliceEv.msgs:
		if got[0] != "bob" || got[1] != "hi back" {
			t.Fatalf("alice received %v", got)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("alice never received the reply")
	}
}

func TestConnectRejectsTakenName(t *testing.T) {
	relay := startTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice, err := Connect(ctx, relay.Addr(), "alice", client.Events{})
	if err != nil {
		t.Fatalf("Connect alice: %v", err)
	}
	defer alice.Close()

	// Uniqueness is case-insensitive.
	if _, err := Connect(ctx, relay.Addr(), "ALICE", client.Events{}); !errors.Is(err, client.ErrNameTaken) {
		t.Fatalf("duplicate Connect: got %v, want ErrNameTaken", err)
	}
}

func TestPeerDepartureEndsSession(t *testing.T) {
	relay := startTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aliceEv := newEndpointEvents()
	alice, err := Connect(ctx, relay.Addr(), "alice", aliceEv.events())
	if err != nil {
		t.Fatalf("Connect alice: %v", err)
	}
	defer alice.Close()

	bobEv := newEndpointEvents()
	bob, err := Connect(ctx, relay.Addr(), "bob", bobEv.events())
	if err != nil {
		t.Fatalf("Connect bob: %v", err)
	}

	if _, err := alice.RequestPairing("bob"); err != nil {
		t.Fatalf("alice RequestPairing: %v", err)
	}
	if _, err := bob.RequestPairing("alice"); err != nil {
		t.Fatalf("bob RequestPairing: %v", err)
	}
	for _, ev := range []*endpointEvents{aliceEv, bobEv} {
		select {
		case <-ev.ready:
		case <-time.After(15 * time.Second):
			t.Fatal("key exchange did not complete")
		}
	}

	bob.Close()

	select {
	case peer := <-aliceEv.gone:
		if peer != "bob" {
			t.Fatalf("departed peer %q, want bob", peer)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("alice never learned of bob's departure")
	}

	// The session key is gone with the session.
	if err := alice.SendText("anyone there"); !errors.Is(err, client.ErrNoSessionKey) {
		t.Fatalf("SendText after departure: got %v, want ErrNoSessionKey", err)
	}
}
