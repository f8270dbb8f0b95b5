package protocol

// Kind identifies the wire container a frame carries.
type Kind uint8

const (
	// KindControl carries a plain control-plane string (commands,
	// responses and notifications).
	KindControl Kind = 1
	// KindChat carries an encrypted ChatEnvelope.
	KindChat Kind = 2
	// KindHandshake carries a key-exchange HandshakeMessage.
	KindHandshake Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindControl:
		return "CONTROL"
	case KindChat:
		return "CHAT"
	case KindHandshake:
		return "HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

// HandshakeType is one of the five key-exchange protocol messages.
type HandshakeType uint8

const (
	HandshakeInitiate HandshakeType = iota + 1
	HandshakePublicKeyOffer
	HandshakeSessionKeyOffer
	HandshakeComplete
	HandshakeError
)

func (t HandshakeType) String() string {
	switch t {
	case HandshakeInitiate:
		return "INITIATE"
	case HandshakePublicKeyOffer:
		return "PUBLIC_KEY_OFFER"
	case HandshakeSessionKeyOffer:
		return "SESSION_KEY_OFFER"
	case HandshakeComplete:
		return "COMPLETE"
	case HandshakeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
