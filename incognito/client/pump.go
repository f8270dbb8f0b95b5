package client

import (
	"strings"

	"github.com/incognito-chat/incognito/incognito/protocol"
)

func (c *Client) readLoop() {
	defer c.Close()
	for {
		m, err := protocol.ReadMessage(c.rwc)
		if err != nil {
			if !c.closed() {
				c.log.Errorf("read: %v", err)
			}
			return
		}
		switch m.Kind {
		case protocol.KindControl:
			c.handleControl(m.Control)
		case protocol.KindChat:
			c.handleEnvelope(m.Envelope)
		case protocol.KindHandshake:
			c.coord.Handle(m.Handshake)
		default:
			c.log.Warningf("dropping message of kind %d", m.Kind)
		}
	}
}

func (c *Client) writeLoop() {
	for {
		m, ok := c.out.Pop(c.HaltCh())
		if !ok {
			return
		}
		if err := protocol.WriteMessage(c.rwc, m); err != nil {
			if !c.closed() {
				c.log.Errorf("write: %v", err)
				c.Close()
			}
			return
		}
	}
}

// handleControl dispatches one server control string. Recognized prefixes
// get their dedicated callback; everything else is surfaced as a server
// notification.
func (c *Client) handleControl(s string) {
	switch {
	case s == protocol.RespNameAccepted || s == protocol.RespNameTaken:
		if c.deliverLoginOutcome(s) {
			return
		}
		c.notify(s)

	case strings.HasPrefix(s, protocol.NotifyUserList):
		names, ok := protocol.SplitUserList(s)
		if !ok {
			c.log.Warningf("malformed user list %q", s)
			return
		}
		if c.events.OnRosterUpdate != nil {
			c.events.OnRosterUpdate(names)
		}

	case strings.HasPrefix(s, protocol.NotifyPeerConnected):
		peer, pairKey, ok := protocol.SplitPeerConnected(s)
		if !ok {
			c.log.Warningf("malformed peer notice %q", s)
			return
		}
		c.log.Noticef("session %s bound to peer %q", pairKey, peer)
		if c.events.OnPeerConnected != nil {
			c.events.OnPeerConnected(peer, pairKey)
		}
		// Exactly one endpoint starts the key exchange: the one whose
		// folded name sorts first.
		if protocol.FoldName(c.name) < protocol.FoldName(peer) {
			if err := c.coord.Initiate(peer); err != nil {
				c.log.Errorf("initiating key exchange with %q: %v", peer, err)
			}
		}

	case strings.HasPrefix(s, protocol.NotifyPeerDisconnected):
		peer := strings.TrimPrefix(s, protocol.NotifyPeerDisconnected)
		c.dropSessionKey()
		c.log.Noticef("peer %q disconnected, session key discarded", peer)
		if c.events.OnPeerDisconnected != nil {
			c.events.OnPeerDisconnected(peer)
		}

	default:
		c.notify(s)
	}
}

// deliverLoginOutcome hands the first login response to the single-slot
// channel Register is blocked on. Once a slot has been filled the login
// path is disarmed until the next Register.
func (c *Client) deliverLoginOutcome(s string) bool {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if !c.loginArmed {
		return false
	}
	c.loginArmed = false
	select {
	case c.loginCh <- s:
	default:
	}
	return true
}

// handleEnvelope decrypts an inbound chat envelope. Envelopes carrying
// our own name are server broadcast echoes and are suppressed.
func (c *Client) handleEnvelope(env *protocol.Envelope) {
	if protocol.FoldName(env.Sender) == protocol.FoldName(c.name) {
		return
	}

	c.cipherMu.RLock()
	cipher := c.cipher
	c.cipherMu.RUnlock()
	if cipher == nil {
		c.log.Warningf("dropping message from %q: no session key", env.Sender)
		c.notify(protocol.PrefixError + "received a message before the key exchange completed")
		return
	}

	ct, err := env.Ciphertext()
	if err != nil {
		c.log.Errorf("message from %q: %v", env.Sender, err)
		return
	}
	packed, err := cipher.Decrypt(ct)
	if err != nil {
		c.log.Errorf("message from %q failed to decrypt: %v", env.Sender, err)
		c.notify(protocol.PrefixError + "a message from " + env.Sender + " could not be decrypted")
		return
	}
	text, err := protocol.UnpackText(packed)
	if err != nil {
		c.log.Errorf("message from %q failed to unpack: %v", env.Sender, err)
		return
	}
	if c.events.OnMessage != nil {
		c.events.OnMessage(env.Sender, text)
	}
}
