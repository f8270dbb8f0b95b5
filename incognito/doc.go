// Package incognito provides the building blocks of a private two-party
// encrypted chat.
//
// A small relay server (incognito/server) registers usernames, binds two
// endpoints into a session and routes opaque frames between them. The
// endpoints (incognito/client) run an RSA-bootstrapped AES-GCM key
// exchange end to end across the relay, so the relay never holds key
// material and never sees plaintext.
package incognito
