package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// SessionKeySize is the AES-256 key length.
	SessionKeySize = 32
	nonceSize      = 12
)

var (
	ErrInvalidKeySize     = errors.New("crypto: invalid session key size")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
	ErrSelfCheckFailed    = errors.New("crypto: session cipher self-check failed")
)

// NewSessionKey generates a fresh random 256-bit session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: session key generation: %w", err)
	}
	return key, nil
}

// SessionCipher encrypts chat messages under a shared session key.
// Wire form: nonce (12 bytes) ‖ ciphertext ‖ tag (16 bytes).
type SessionCipher struct {
	aead cipher.AEAD
}

// NewSessionCipher wraps a 32-byte session key in AES-256-GCM.
func NewSessionCipher(key []byte) (*SessionCipher, error) {
	if len(key) != SessionKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SessionCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (sc *SessionCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+sc.aead.Overhead())
	out = append(out, nonce...)
	return sc.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a sealed message. It fails closed: a tag mismatch yields
// no partial output.
func (sc *SessionCipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+sc.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := sc.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SelfCheck round-trips a probe string through the cipher. It is run once
// after handshake completion as a readiness check.
func (sc *SessionCipher) SelfCheck() error {
	probe := []byte("incognito session cipher self-check")
	sealed, err := sc.Encrypt(probe)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSelfCheckFailed, err)
	}
	opened, err := sc.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSelfCheckFailed, err)
	}
	if !bytes.Equal(opened, probe) {
		return ErrSelfCheckFailed
	}
	return nil
}
