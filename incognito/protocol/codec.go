package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single protocol frame payload.
	MaxFramePayload = 1 << 20 // 1 MiB
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrInvalidKind   = errors.New("protocol: invalid message kind")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: kind
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// Frames are read and written directly against the stream so that
// repeated reads from the same reader never over-buffer.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// WriteFrame writes one frame. Callers must serialize concurrent writes
// to the same stream.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Kind == 0 {
		return ErrInvalidKind
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	hdr := make([]byte, 5, 5+len(f.Payload))
	hdr[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(f.Payload)))
	_, err := w.Write(append(hdr, f.Payload...))
	return err
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	kind := Kind(hdr[0])
	if kind == 0 {
		return Frame{}, ErrInvalidKind
	}
	payloadLen := binary.BigEndian.Uint32(hdr[1:5])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// Message is the decoded form of one frame: exactly one of Control,
// Envelope or Handshake is set, according to Kind.
type Message struct {
	Kind      Kind
	Control   string
	Envelope  *Envelope
	Handshake *HandshakeMessage
}

// ControlMessage wraps a control-plane string.
func ControlMessage(s string) Message {
	return Message{Kind: KindControl, Control: s}
}

// ChatMessage wraps an encrypted envelope.
func ChatMessage(e *Envelope) Message {
	return Message{Kind: KindChat, Envelope: e}
}

// HandshakeMsg wraps a key-exchange message.
func HandshakeMsg(m *HandshakeMessage) Message {
	return Message{Kind: KindHandshake, Handshake: m}
}

// WriteMessage encodes and writes one message as a single frame.
func WriteMessage(w io.Writer, m Message) error {
	var payload []byte
	var err error
	switch m.Kind {
	case KindControl:
		payload = []byte(m.Control)
	case KindChat:
		payload, err = encodeEnvelope(m.Envelope)
	case KindHandshake:
		payload, err = encodeHandshake(m.Handshake)
	default:
		return ErrInvalidKind
	}
	if err != nil {
		return err
	}
	return WriteFrame(w, Frame{Kind: m.Kind, Payload: payload})
}

// ReadMessage reads and decodes exactly one message from r.
func ReadMessage(r io.Reader) (Message, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	switch f.Kind {
	case KindControl:
		return ControlMessage(string(f.Payload)), nil
	case KindChat:
		e, err := decodeEnvelope(f.Payload)
		if err != nil {
			return Message{}, err
		}
		return ChatMessage(e), nil
	case KindHandshake:
		m, err := decodeHandshake(f.Payload)
		if err != nil {
			return Message{}, err
		}
		return HandshakeMsg(m), nil
	default:
		return Message{}, ErrInvalidKind
	}
}
