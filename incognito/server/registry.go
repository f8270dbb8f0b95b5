package server

import (
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/incognito-chat/incognito/incognito/protocol"
)

// Registry rejection and error strings returned to clients. Routing
// failures are isolated to the originating connection; they never take
// down the registry or other connections.
const (
	errAlreadyInSession  = protocol.PrefixError + "You are already in an active private chat session."
	errSessionActive     = protocol.PrefixError + "Session already active."
	errPeerInSession     = protocol.PrefixError + "Peer is already in another session."
	errNotInSession      = protocol.PrefixError + "You are not in an active private chat session."
	errRegisterFirst     = protocol.PrefixError + "Register a username first."
	handshakePeerOffline = "peer is not online"
)

// peer is a registered connection endpoint as the registry sees it.
// Send enqueues without blocking, so registry operations stay short.
type peer interface {
	Send(m protocol.Message)
}

type entry struct {
	name string // display form
	p    peer
}

// session binds exactly two endpoints under one pair key.
type session struct {
	id   string
	a, b *entry
}

func (s *session) other(e *entry) *entry {
	if e == s.a {
		return s.b
	}
	return s.a
}

// Registry is the server-side user directory, pending-pairing table and
// active-session table. One mutex serializes every mutation, so pairing
// promotion is linearizable and at most one session can ever exist per
// pair key.
type Registry struct {
	mu  sync.Mutex
	log *logging.Logger

	users         map[string]*entry // folded name -> entry
	byPeer        map[peer]*entry
	pending       map[string]*entry   // pair key -> waiting endpoint
	sessions      map[string]*session // pair key -> session
	sessionByPeer map[peer]*session
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:           log,
		users:         make(map[string]*entry),
		byPeer:        make(map[peer]*entry),
		pending:       make(map[string]*entry),
		sessions:      make(map[string]*session),
		sessionByPeer: make(map[peer]*session),
	}
}

// Register binds an identity to an endpoint. Uniqueness is
// case-insensitive; the display form is preserved. The caller is told
// USERNAME_ACCEPTED or USERNAME_TAKEN; on success everyone else gets a
// CONNECT notice and a refreshed roster.
func (r *Registry) Register(p peer, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	folded := protocol.FoldName(name)
	if folded == "" {
		p.Send(protocol.ControlMessage(protocol.PrefixError + "Invalid username."))
		return false
	}
	if _, taken := r.users[folded]; taken {
		p.Send(protocol.ControlMessage(protocol.RespNameTaken))
		return false
	}

	e := &entry{name: name, p: p}
	r.users[folded] = e
	r.byPeer[p] = e
	p.Send(protocol.ControlMessage(protocol.RespNameAccepted))

	for _, other := range r.users {
		if other != e {
			other.p.Send(protocol.ControlMessage(protocol.NotifyConnect + name))
		}
	}
	r.broadcastRosterLocked()
	r.log.Infof("registered %q", name)
	return true
}

// Remove drops an endpoint's directory entry, any pending pairing it
// owns, and its active session. The remaining session peer is notified
// exactly once; the registry's reverse index makes a second Remove for
// the same endpoint a no-op.
func (r *Registry) Remove(p peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byPeer[p]
	if !ok {
		return
	}
	delete(r.users, protocol.FoldName(e.name))
	delete(r.byPeer, p)

	for key, waiting := range r.pending {
		if waiting.p == p {
			delete(r.pending, key)
		}
	}

	if s, bound := r.sessionByPeer[p]; bound {
		other := s.other(e)
		delete(r.sessions, s.id)
		delete(r.sessionByPeer, s.a.p)
		delete(r.sessionByPeer, s.b.p)
		other.p.Send(protocol.ControlMessage(protocol.NotifyPeerDisconnected + e.name))
		r.log.Infof("session %s torn down, %q disconnected", s.id, e.name)
	}

	for _, other := range r.users {
		other.p.Send(protocol.ControlMessage(protocol.NotifyDisconnect + e.name))
	}
	r.broadcastRosterLocked()
	r.log.Infof("removed %q", e.name)
}

// RequestPairing is the atomic rendezvous. Two endpoints presenting the
// same pair key are promoted into a session; everything happens inside
// one critical section.
func (r *Registry) RequestPairing(p peer, pairKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byPeer[p]
	if !ok {
		p.Send(protocol.ControlMessage(errRegisterFirst))
		return
	}
	if _, bound := r.sessionByPeer[p]; bound {
		p.Send(protocol.ControlMessage(errAlreadyInSession))
		return
	}
	if _, active := r.sessions[pairKey]; active {
		// An established pairing cannot be hijacked by a third party.
		p.Send(protocol.ControlMessage(errSessionActive))
		return
	}

	waiting, found := r.pending[pairKey]
	if !found {
		r.pending[pairKey] = e
		p.Send(protocol.ControlMessage(protocol.RespWaiting + ":" + pairKey))
		return
	}
	if waiting.p == p {
		// Re-request from the same endpoint is idempotent.
		r.pending[pairKey] = e
		p.Send(protocol.ControlMessage(protocol.RespWaiting + ":" + pairKey))
		return
	}
	if _, bound := r.sessionByPeer[waiting.p]; bound {
		p.Send(protocol.ControlMessage(errPeerInSession))
		return
	}

	delete(r.pending, pairKey)
	r.createSessionLocked(pairKey, waiting, e)
}

func (r *Registry) createSessionLocked(pairKey string, a, b *entry) {
	s := &session{id: pairKey, a: a, b: b}
	r.sessions[pairKey] = s
	r.sessionByPeer[a.p] = s
	r.sessionByPeer[b.p] = s
	a.p.Send(protocol.ControlMessage(protocol.NotifyPeerConnected + b.name + ":" + pairKey))
	b.p.Send(protocol.ControlMessage(protocol.NotifyPeerConnected + a.name + ":" + pairKey))
	r.broadcastRosterLocked()
	r.log.Infof("session %s created between %q and %q", pairKey, a.name, b.name)
}

// RouteEnvelope relays an encrypted envelope to the sender's session
// partner without decrypting it. Endpoints without a session fall back
// to broadcast, the compatibility path for the manual key-exchange flow.
func (r *Registry) RouteEnvelope(p peer, env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, bound := r.sessionByPeer[p]; bound {
		e := r.byPeer[p]
		s.other(e).p.Send(protocol.ChatMessage(env))
		return
	}

	sent := false
	for _, other := range r.users {
		if other.p != p {
			other.p.Send(protocol.ChatMessage(env))
			sent = true
		}
	}
	if !sent {
		p.Send(protocol.ControlMessage(errNotInSession))
	}
}

// RouteHandshake forwards a key-exchange message to its target. An
// offline target produces a synthesized ERROR handshake back to the
// sender instead of a silent stall. On COMPLETE the registry
// opportunistically creates the session if the rendezvous path has not
// done so; this is the documented legacy fallback, RequestPairing is
// canonical.
func (r *Registry) RouteHandshake(p peer, m *protocol.HandshakeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, online := r.users[protocol.FoldName(m.Target)]
	if !online {
		reply := protocol.NewHandshake(protocol.HandshakeError, m.Target, m.Sender)
		reply.Payload = handshakePeerOffline
		p.Send(protocol.HandshakeMsg(reply))
		r.log.Warningf("handshake %s: target %q offline", m.Type, m.Target)
		return
	}

	if m.Type == protocol.HandshakeComplete {
		sender, ok := r.byPeer[p]
		_, senderBound := r.sessionByPeer[p]
		_, targetBound := r.sessionByPeer[target.p]
		if ok && !senderBound && !targetBound {
			if _, exists := r.sessions[m.SessionID]; !exists {
				r.log.Infof("handshake COMPLETE for %s without a session, creating one", m.SessionID)
				r.createSessionLocked(m.SessionID, sender, target)
			}
		}
	}

	target.p.Send(protocol.HandshakeMsg(m))
}

// BroadcastRoster pushes the current roster of available users to every
// registered endpoint.
func (r *Registry) BroadcastRoster() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastRosterLocked()
}

// broadcastRosterLocked sends the roster, excluding identities bound to
// an active session so only available parties are shown.
func (r *Registry) broadcastRosterLocked() {
	names := make([]string, 0, len(r.users))
	for _, e := range r.users {
		if _, busy := r.sessionByPeer[e.p]; !busy {
			names = append(names, e.name)
		}
	}
	sort.Strings(names)
	roster := protocol.ControlMessage(protocol.JoinUserList(names))
	for _, e := range r.users {
		e.p.Send(roster)
	}
}
