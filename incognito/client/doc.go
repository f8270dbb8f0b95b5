// Package client implements one endpoint of a private two-party chat.
//
// A Client owns:
//
//   - the registration flow (username submission, single-shot login
//     outcome with a bounded wait)
//   - the pairing request and the deterministic initiator tie-break
//   - a Coordinator running the four-message key exchange
//   - the session cipher, installed only after a self-check
//   - a read pump dispatching control, chat and handshake traffic, and a
//     write pump serializing all outbound frames
//
// Applications observe the endpoint through the Events callback surface
// and drive it through Register, RequestPairing, SendText and Close.
package client
