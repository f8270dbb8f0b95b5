// Package crypto provides the cryptographic primitives for Incognito.
//
// Design:
//   - Endpoint identity: 2048-bit RSA keypair, generated once per process
//   - Message encryption: AES-256-GCM, 96-bit random nonce, 128-bit tag,
//     wire form nonce ‖ ciphertext ‖ tag
//   - Key transport: RSA-OAEP-SHA256 wrap/unwrap of the session key,
//     never used for bulk content
//   - Key comparison: short BLAKE2b public-key fingerprints
package crypto
