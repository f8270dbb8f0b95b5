// Package protocol defines the Incognito wire protocol.
//
// Three message kinds travel over one framed stream per connection:
//   - control-plane strings (registration, pairing, roster, notices)
//   - ChatEnvelope, the AES-GCM encrypted application message
//   - HandshakeMessage, the four-step key-exchange protocol
//
// The frame format is a 1-byte kind, a 4-byte big-endian length and the
// payload. Control payloads are raw UTF-8; the other kinds are JSON.
package protocol
