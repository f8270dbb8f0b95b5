package client

import (
	"context"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/incognito-chat/incognito/incognito/crypto"
	"github.com/incognito-chat/incognito/incognito/log"
	"github.com/incognito-chat/incognito/incognito/protocol"
	"github.com/incognito-chat/incognito/incognito/queue"
	quict "github.com/incognito-chat/incognito/incognito/transport/quic"
	"github.com/incognito-chat/incognito/incognito/worker"
)

const (
	loginTimeout = 5 * time.Second
	closeGrace   = 500 * time.Millisecond
)

// Events is the application callback surface. Callbacks are invoked from
// the client's read pump, one at a time; a nil callback is skipped.
type Events struct {
	// OnMessage is called with a decrypted chat message.
	OnMessage func(sender, text string)

	// OnRosterUpdate is called with the current list of available users.
	OnRosterUpdate func(names []string)

	// OnPeerConnected is called when the server binds this endpoint into
	// a session.
	OnPeerConnected func(peer, pairKey string)

	// OnPeerDisconnected is called when the session partner goes away.
	// The session key is discarded before this fires.
	OnPeerDisconnected func(peer string)

	// OnChatReady is called once the key exchange has completed and
	// SendText may be used.
	OnChatReady func(peer string)

	// OnServerNotification is called with server notices, errors and any
	// control traffic without a dedicated callback.
	OnServerNotification func(text string)
}

// Options tune client construction. The zero value is usable.
type Options struct {
	// GuardTTL bounds how long an unanswered key exchange blocks its
	// pair. Zero means DefaultGuardTTL.
	GuardTTL time.Duration

	// LogBackend, when set, overrides the default stderr backend.
	LogBackend *log.Backend
}

// Client is one chat endpoint: it registers a username, requests pairing,
// runs the key exchange and exchanges encrypted messages. All outbound
// traffic is serialized through a single write pump.
type Client struct {
	worker.Worker

	log    *logging.Logger
	name   string
	kp     *crypto.KeyPair
	rwc    io.ReadWriteCloser
	events Events
	out    *queue.Queue[protocol.Message]
	coord  *Coordinator

	cipherMu sync.RWMutex
	cipher   *crypto.SessionCipher

	loginMu    sync.Mutex
	loginCh    chan string
	loginArmed bool

	closeOnce sync.Once
	doneCh    chan struct{}
}

// New builds a client over an established transport and starts its pumps.
// The caller still needs to Register before chatting.
func New(rwc io.ReadWriteCloser, name string, events Events, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	backend := opts.LogBackend
	if backend == nil {
		var err error
		backend, err = log.NewDefault("INFO")
		if err != nil {
			return nil, err
		}
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	c := &Client{
		log:        backend.GetLogger("client:" + name),
		name:       name,
		kp:         kp,
		rwc:        rwc,
		events:     events,
		out:        queue.New[protocol.Message](),
		loginCh:    make(chan string, 1),
		loginArmed: true,
		doneCh:     make(chan struct{}),
	}
	c.coord = newCoordinator(name, kp, opts.GuardTTL, c.log)
	c.coord.send = func(m *protocol.HandshakeMessage) error {
		return c.enqueue(protocol.HandshakeMsg(m))
	}
	c.coord.establish = c.installSessionKey
	c.coord.ready = func(peer string) {
		if c.events.OnChatReady != nil {
			c.events.OnChatReady(peer)
		}
	}
	c.coord.fail = func(peer, reason string) {
		c.notify(protocol.PrefixError + "key exchange with " + peer + " failed: " + reason)
	}

	c.Go(c.writeLoop)
	c.Go(c.readLoop)
	return c, nil
}

// Dial connects to addr, starts a client and registers name. A rejected
// name returns ErrNameTaken with the connection already closed; the
// caller may Dial again with a different name.
func Dial(ctx context.Context, addr, name string, events Events, opts *Options) (*Client, error) {
	tc, err := quict.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c, err := New(tc, name, events, opts)
	if err != nil {
		tc.Close()
		return nil, err
	}
	if err := c.Register(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Register submits the username and blocks for the login outcome. The
// outcome is delivered through a single-slot channel that accepts only
// the very first login response; re-registration reuses the same slot.
func (c *Client) Register() error {
	c.loginMu.Lock()
	c.loginArmed = true
	c.loginMu.Unlock()

	if err := c.enqueue(protocol.ControlMessage(protocol.CmdRegister + c.name)); err != nil {
		return err
	}

	select {
	case resp := <-c.loginCh:
		if resp == protocol.RespNameAccepted {
			c.log.Noticef("registered as %q", c.name)
			return nil
		}
		return ErrNameTaken
	case <-time.After(loginTimeout):
		return ErrLoginTimeout
	case <-c.doneCh:
		return ErrClosed
	}
}

// Name returns the username this client registered with.
func (c *Client) Name() string { return c.name }

// Fingerprint returns the short fingerprint of this client's public key.
func (c *Client) Fingerprint() string {
	return crypto.Fingerprint(c.kp.PublicKeyBase64())
}

// RequestPairing asks the server to bind this endpoint to target and
// returns the deterministic pair key for the two names.
func (c *Client) RequestPairing(target string) (string, error) {
	pairKey := protocol.PairKey(c.name, target)
	cmd := protocol.CmdPrivateChat + c.name + ":" + pairKey
	if err := c.enqueue(protocol.ControlMessage(cmd)); err != nil {
		return "", err
	}
	return pairKey, nil
}

// RequestRoster asks the server to rebroadcast the available-user list.
func (c *Client) RequestRoster() error {
	return c.enqueue(protocol.ControlMessage(protocol.CmdRequestUserList))
}

// SendText encrypts text under the session key and queues it. The
// absence of a session key is reported here, at enqueue time, not later
// on the pump.
func (c *Client) SendText(text string) error {
	c.cipherMu.RLock()
	cipher := c.cipher
	c.cipherMu.RUnlock()
	if cipher == nil {
		return ErrNoSessionKey
	}
	sealed, err := cipher.Encrypt(protocol.PackText(text))
	if err != nil {
		return err
	}
	return c.enqueue(protocol.ChatMessage(protocol.NewEnvelope(c.name, sealed)))
}

// Close sends a disconnect notice, gives the write pump a short grace
// period to flush it, then tears the transport down. It is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.doneCh)
		_ = c.out.Push(protocol.ControlMessage(protocol.CmdDisconnect + c.name))

		deadline := time.After(closeGrace)
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
	drain:
		for c.out.Len() > 0 {
			select {
			case <-deadline:
				break drain
			case <-tick.C:
			}
		}
		c.out.Close()
		_ = c.rwc.Close()
	})
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.Worker.Wait()
}

func (c *Client) closed() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}

func (c *Client) enqueue(m protocol.Message) error {
	if c.closed() {
		return ErrClosed
	}
	if err := c.out.Push(m); err != nil {
		return ErrClosed
	}
	return nil
}

// installSessionKey swaps in a fresh session cipher after proving it can
// round-trip a probe. Failing closed here aborts the key exchange.
func (c *Client) installSessionKey(key []byte) error {
	cipher, err := crypto.NewSessionCipher(key)
	if err != nil {
		return err
	}
	if err := cipher.SelfCheck(); err != nil {
		return err
	}
	c.cipherMu.Lock()
	c.cipher = cipher
	c.cipherMu.Unlock()
	return nil
}

// dropSessionKey discards the session cipher, forcing a fresh key
// exchange before any further SendText.
func (c *Client) dropSessionKey() {
	c.cipherMu.Lock()
	c.cipher = nil
	c.cipherMu.Unlock()
	c.coord.reset()
}

func (c *Client) notify(text string) {
	if c.events.OnServerNotification != nil {
		c.events.OnServerNotification(text)
	}
}
