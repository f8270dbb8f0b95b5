package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/incognito-chat/incognito/incognito/log"
	"github.com/incognito-chat/incognito/incognito/protocol"
)

func testOptions(t *testing.T) *Options {
	t.Helper()
	backend, err := log.New("", "DEBUG", true)
	if err != nil {
		t.Fatalf("log backend: %v", err)
	}
	return &Options{LogBackend: backend}
}

// pipeClient builds a client over one end of a net.Pipe and hands the
// test the server end.
func pipeClient(t *testing.T, name string, events Events) (*Client, net.Conn) {
	t.Helper()
	cEnd, sEnd := net.Pipe()
	c, err := New(cEnd, name, events, testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		sEnd.Close()
		c.Wait()
	})
	return c, sEnd
}

func TestRegisterAccepted(t *testing.T) {
	c, srv := pipeClient(t, "alice", Events{})

	errCh := make(chan error, 1)
	go func() {
		m, err := protocol.ReadMessage(srv)
		if err != nil {
			errCh <- err
			return
		}
		if m.Kind != protocol.KindControl || m.Control != protocol.CmdRegister+"alice" {
			errCh <- errors.New("unexpected registration command: " + m.Control)
			return
		}
		errCh <- protocol.WriteMessage(srv, protocol.ControlMessage(protocol.RespNameAccepted))
	}()

	if err := c.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestRegisterTaken(t *testing.T) {
	c, srv := pipeClient(t, "alice", Events{})

	go func() {
		if _, err := protocol.ReadMessage(srv); err != nil {
			return
		}
		protocol.WriteMessage(srv, protocol.ControlMessage(protocol.RespNameTaken))
	}()

	if err := c.Register(); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("Register: got %v, want ErrNameTaken", err)
	}
}

func TestSendTextRequiresSessionKey(t *testing.T) {
	c, _ := pipeClient(t, "alice", Events{})

	if err := c.SendText("hello"); !errors.Is(err, ErrNoSessionKey) {
		t.Fatalf("SendText: got %v, want ErrNoSessionKey", err)
	}
}

func TestServerNotificationsReachCallbacks(t *testing.T) {
	rosterCh := make(chan []string, 1)
	noticeCh := make(chan string, 4)
	_, srv := pipeClient(t, "alice", Events{
		OnRosterUpdate:       func(names []string) { rosterCh <- names },
		OnServerNotification: func(s string) { noticeCh <- s },
	})

	write := func(s string) {
		if err := protocol.WriteMessage(srv, protocol.ControlMessage(s)); err != nil {
			t.Fatalf("write %q: %v", s, err)
		}
	}
	write(protocol.JoinUserList([]string{"bob", "carol"}))
	write(protocol.PrefixServer + "maintenance at noon")

	select {
	case names := <-rosterCh:
		if len(names) != 2 || names[0] != "bob" || names[1] != "carol" {
			t.Fatalf("roster: %v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no roster callback")
	}
	select {
	case s := <-noticeCh:
		if s != protocol.PrefixServer+"maintenance at noon" {
			t.Fatalf("notice: %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification callback")
	}
}

// relay forwards handshake and chat frames from one server end to the
// other, standing in for the routing side of a paired session.
func relay(from, to net.Conn) {
	for {
		m, err := protocol.ReadMessage(from)
		if err != nil {
			return
		}
		switch m.Kind {
		case protocol.KindHandshake, protocol.KindChat:
			if err := protocol.WriteMessage(to, m); err != nil {
				return
			}
		default:
			// Control traffic terminates at the relay.
		}
	}
}

func TestPairedClientsExchangeMessages(t *testing.T) {
	aliceReady := make(chan string, 1)
	bobReady := make(chan string, 1)
	bobMsgs := make(chan [2]string, 1)
	aliceMsgs := make(chan [2]string, 1)

	alice, aliceSrv := pipeClient(t, "alice", Events{
		OnChatReady: func(peer string) { aliceReady <- peer },
		OnMessage:   func(sender, text string) { aliceMsgs <- [2]string{sender, text} },
	})
	bob, bobSrv := pipeClient(t, "bob", Events{
		OnChatReady: func(peer string) { bobReady <- peer },
		OnMessage:   func(sender, text string) { bobMsgs <- [2]string{sender, text} },
	})

	go relay(aliceSrv, bobSrv)
	go relay(bobSrv, aliceSrv)

	pairKey := protocol.PairKey("alice", "bob")
	if err := protocol.WriteMessage(aliceSrv, protocol.ControlMessage(protocol.NotifyPeerConnected+"bob:"+pairKey)); err != nil {
		t.Fatalf("notify alice: %v", err)
	}
	if err := protocol.WriteMessage(bobSrv, protocol.ControlMessage(protocol.NotifyPeerConnected+"alice:"+pairKey)); err != nil {
		t.Fatalf("notify bob: %v", err)
	}

	waitReady := func(ch chan string, want string) {
		select {
		case peer := <-ch:
			if peer != want {
				t.Fatalf("ready with %q, want %q", peer, want)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("key exchange did not complete")
		}
	}
	waitReady(aliceReady, "bob")
	waitReady(bobReady, "alice")

	if err := alice.SendText("hello bob"); err != nil {
		t.Fatalf("alice SendText: %v", err)
	}
	select {
	case got := <-bobMsgs:
		if got[0] != "alice" || got[1] != "hello bob" {
			t.Fatalf("bob received %v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("bob never received the message")
	}

	if err := bob.SendText("hi alice"); err != nil {
		t.Fatalf("bob SendText: %v", err)
	}
	select {
	case got := <-aliceMsgs:
		if got[0] != "bob" || got[1] != "hi alice" {
			t.Fatalf("alice received %v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("alice never received the reply")
	}

	// A broadcast echo of alice's own envelope is suppressed, not
	// surfaced or decrypted twice.
	alice.cipherMu.RLock()
	cipher := alice.cipher
	alice.cipherMu.RUnlock()
	sealed, err := cipher.Encrypt(protocol.PackText("echo"))
	if err != nil {
		t.Fatalf("encrypt echo: %v", err)
	}
	echo := protocol.ChatMessage(protocol.NewEnvelope("alice", sealed))
	if err := protocol.WriteMessage(aliceSrv, echo); err != nil {
		t.Fatalf("write echo: %v", err)
	}
	select {
	case got := <-aliceMsgs:
		t.Fatalf("loopback echo surfaced: %v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPeerDisconnectDropsSessionKey(t *testing.T) {
	goneCh := make(chan string, 1)
	c, srv := pipeClient(t, "alice", Events{
		OnPeerDisconnected: func(peer string) { goneCh <- peer },
	})

	if err := c.installSessionKey(make([]byte, 32)); err != nil {
		t.Fatalf("installSessionKey: %v", err)
	}
	if err := c.SendText("warm"); err != nil {
		t.Fatalf("SendText with key: %v", err)
	}
	go relay(srv, srv) // drain outbound traffic

	if err := protocol.WriteMessage(srv, protocol.ControlMessage(protocol.NotifyPeerDisconnected+"bob")); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	select {
	case peer := <-goneCh:
		if peer != "bob" {
			t.Fatalf("disconnected peer %q", peer)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect callback")
	}

	if err := c.SendText("cold"); !errors.Is(err, ErrNoSessionKey) {
		t.Fatalf("SendText after disconnect: got %v, want ErrNoSessionKey", err)
	}
}
