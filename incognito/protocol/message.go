package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingSender = errors.New("protocol: message missing sender")
	ErrBadContent    = errors.New("protocol: envelope content is not valid base64")
)

// HandshakeMessage drives the four-step key exchange between two peers.
// The server forwards it to Target without inspecting Payload.
type HandshakeMessage struct {
	Type      HandshakeType `json:"type"`
	Sender    string        `json:"sender"`
	Target    string        `json:"target"`
	SessionID string        `json:"session_id"`
	// Payload carries a base64 public key, a wrapped session key, or an
	// error description, depending on Type.
	Payload string `json:"payload,omitempty"`
}

// NewHandshake builds a handshake message bound to the canonical pair key
// of (sender, target).
func NewHandshake(t HandshakeType, sender, target string) *HandshakeMessage {
	return &HandshakeMessage{
		Type:      t,
		Sender:    sender,
		Target:    target,
		SessionID: PairKey(sender, target),
	}
}

func (m *HandshakeMessage) String() string {
	return fmt.Sprintf("HandshakeMessage{%s from=%s to=%s session=%s}",
		m.Type, m.Sender, m.Target, m.SessionID)
}

// Envelope is the wire form of one AES-GCM encrypted chat message.
// Content is base64(nonce ‖ ciphertext ‖ tag); the server relays it opaquely.
type Envelope struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// NewEnvelope wraps a sealed ciphertext for transmission.
func NewEnvelope(sender string, ciphertext []byte) *Envelope {
	return &Envelope{
		Sender:  sender,
		Content: base64.StdEncoding.EncodeToString(ciphertext),
	}
}

// Ciphertext decodes the base64 content back to the sealed bytes.
func (e *Envelope) Ciphertext() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
	}
	return b, nil
}

func encodeHandshake(m *HandshakeMessage) ([]byte, error) {
	return json.Marshal(m)
}

func decodeHandshake(b []byte) (*HandshakeMessage, error) {
	var m HandshakeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.Sender == "" {
		return nil, ErrMissingSender
	}
	return &m, nil
}

func encodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e.Sender == "" {
		return nil, ErrMissingSender
	}
	return &e, nil
}
