package client

import "errors"

var (
	// ErrNoSessionKey is returned by SendText before a key exchange has
	// completed for the current session.
	ErrNoSessionKey = errors.New("client: no session key established")

	// ErrNameTaken is returned by Register when the server rejects the
	// chosen username.
	ErrNameTaken = errors.New("client: username already taken")

	// ErrLoginTimeout is returned by Register when no login outcome
	// arrives within the login timeout.
	ErrLoginTimeout = errors.New("client: timed out waiting for login response")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: connection closed")
)
