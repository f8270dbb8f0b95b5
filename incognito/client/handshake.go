package client

import (
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/incognito-chat/incognito/incognito/crypto"
	"github.com/incognito-chat/incognito/incognito/protocol"
)

// DefaultGuardTTL bounds how long a pair key stays in the exchange guard
// without a COMPLETE or ERROR. The original protocol released guard
// entries only on those messages, so a dropped message blocked that pair
// forever; the TTL is a deliberate change.
const DefaultGuardTTL = 30 * time.Second

// Coordinator drives the four-message key exchange for one endpoint.
//
// Initiator:  INITIATE -> (PUBLIC_KEY_OFFER) -> SESSION_KEY_OFFER -> (COMPLETE)
// Responder:  (INITIATE) -> PUBLIC_KEY_OFFER -> (SESSION_KEY_OFFER) -> COMPLETE
//
// The responder never generates the session key; generation is deferred
// to the initiator to avoid a key-generation race.
type Coordinator struct {
	log  *logging.Logger
	self string
	kp   *crypto.KeyPair

	send      func(*protocol.HandshakeMessage) error
	establish func(key []byte) error
	ready     func(peer string)
	fail      func(peer, reason string)

	mu       sync.Mutex
	guard    map[string]time.Time // pair key -> admission time
	guardTTL time.Duration
	peerPub  *rsa.PublicKey // set exactly once per session
}

func newCoordinator(self string, kp *crypto.KeyPair, guardTTL time.Duration, log *logging.Logger) *Coordinator {
	if guardTTL <= 0 {
		guardTTL = DefaultGuardTTL
	}
	return &Coordinator{
		log:      log,
		self:     self,
		kp:       kp,
		guard:    make(map[string]time.Time),
		guardTTL: guardTTL,
	}
}

// Initiate starts a key exchange with target. A second call for the same
// pair while one is in progress coalesces: it succeeds without sending
// another INITIATE.
func (co *Coordinator) Initiate(target string) error {
	if !co.admit(protocol.PairKey(co.self, target)) {
		co.log.Infof("key exchange with %q already in progress", target)
		return nil
	}
	co.log.Infof("starting key exchange with %q", target)
	return co.send(protocol.NewHandshake(protocol.HandshakeInitiate, co.self, target))
}

// admit inserts the pair key into the guard. It returns false when a
// live entry already exists; expired entries are replaced.
func (co *Coordinator) admit(pairKey string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if at, exists := co.guard[pairKey]; exists && time.Since(at) < co.guardTTL {
		return false
	}
	co.guard[pairKey] = time.Now()
	return true
}

func (co *Coordinator) release(pairKey string) {
	co.mu.Lock()
	delete(co.guard, pairKey)
	co.mu.Unlock()
}

// setPeerPublicKey stores the peer's key the first time it is seen; a
// session's peer key is immutable after that.
func (co *Coordinator) setPeerPublicKey(pub *rsa.PublicKey) *rsa.PublicKey {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.peerPub == nil {
		co.peerPub = pub
	}
	return co.peerPub
}

// reset clears per-session key material so a fresh handshake can run.
func (co *Coordinator) reset() {
	co.mu.Lock()
	co.peerPub = nil
	co.mu.Unlock()
}

// Handle processes one inbound handshake message.
func (co *Coordinator) Handle(m *protocol.HandshakeMessage) {
	switch m.Type {
	case protocol.HandshakeInitiate:
		co.handleInitiate(m)
	case protocol.HandshakePublicKeyOffer:
		co.handlePublicKeyOffer(m)
	case protocol.HandshakeSessionKeyOffer:
		co.handleSessionKeyOffer(m)
	case protocol.HandshakeComplete:
		co.release(m.SessionID)
		co.log.Infof("key exchange with %q complete", m.Sender)
		co.ready(m.Sender)
	case protocol.HandshakeError:
		co.release(m.SessionID)
		co.log.Errorf("key exchange with %q failed: %s", m.Sender, m.Payload)
		co.fail(m.Sender, m.Payload)
	default:
		co.log.Warningf("unknown handshake type %d from %q", m.Type, m.Sender)
	}
}

// handleInitiate answers with our public key. The session key is not
// generated here; the initiator does that once it has our key.
func (co *Coordinator) handleInitiate(m *protocol.HandshakeMessage) {
	co.admit(m.SessionID)
	reply := protocol.NewHandshake(protocol.HandshakePublicKeyOffer, co.self, m.Sender)
	reply.Payload = co.kp.PublicKeyBase64()
	if err := co.send(reply); err != nil {
		co.log.Errorf("sending public key offer to %q: %v", m.Sender, err)
	}
}

// handlePublicKeyOffer stores the peer key, generates the session key,
// installs it locally and sends it wrapped under the peer key.
func (co *Coordinator) handlePublicKeyOffer(m *protocol.HandshakeMessage) {
	pub, err := crypto.ParsePublicKey(m.Payload)
	if err != nil {
		co.sendError(m, fmt.Sprintf("invalid public key: %v", err))
		return
	}
	pub = co.setPeerPublicKey(pub)
	co.log.Debugf("peer %q key fingerprint %s", m.Sender, crypto.Fingerprint(m.Payload))

	key, err := crypto.NewSessionKey()
	if err != nil {
		co.sendError(m, fmt.Sprintf("session key generation failed: %v", err))
		return
	}
	if err := co.establish(key); err != nil {
		co.sendError(m, fmt.Sprintf("session cipher setup failed: %v", err))
		return
	}
	wrapped, err := crypto.WrapSessionKey(pub, key)
	if err != nil {
		co.sendError(m, fmt.Sprintf("session key wrap failed: %v", err))
		return
	}

	reply := protocol.NewHandshake(protocol.HandshakeSessionKeyOffer, co.self, m.Sender)
	reply.Payload = wrapped
	if err := co.send(reply); err != nil {
		co.log.Errorf("sending session key offer to %q: %v", m.Sender, err)
	}
}

// handleSessionKeyOffer unwraps the session key and confirms. An unwrap
// failure always produces an explicit ERROR to the peer, never a stall.
func (co *Coordinator) handleSessionKeyOffer(m *protocol.HandshakeMessage) {
	key, err := co.kp.UnwrapSessionKey(m.Payload)
	if err != nil {
		co.sendError(m, fmt.Sprintf("session key unwrap failed: %v", err))
		return
	}
	if err := co.establish(key); err != nil {
		co.sendError(m, fmt.Sprintf("session cipher setup failed: %v", err))
		return
	}

	reply := protocol.NewHandshake(protocol.HandshakeComplete, co.self, m.Sender)
	reply.Payload = "key exchange completed"
	if err := co.send(reply); err != nil {
		co.log.Errorf("sending complete to %q: %v", m.Sender, err)
	}
	co.release(m.SessionID)
	co.log.Infof("key exchange with %q complete", m.Sender)
	co.ready(m.Sender)
}

// sendError reports a failure to the peer and releases the guard so the
// pair can retry.
func (co *Coordinator) sendError(m *protocol.HandshakeMessage, reason string) {
	co.log.Errorf("key exchange with %q: %s", m.Sender, reason)
	reply := protocol.NewHandshake(protocol.HandshakeError, co.self, m.Sender)
	reply.Payload = reason
	if err := co.send(reply); err != nil {
		co.log.Errorf("sending handshake error to %q: %v", m.Sender, err)
	}
	co.release(m.SessionID)
	co.fail(m.Sender, reason)
}
