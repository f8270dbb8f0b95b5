package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const rsaKeyBits = 2048

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")
	ErrUnwrapFailed     = errors.New("crypto: session key unwrap failed")
)

// KeyPair is an endpoint's RSA identity keypair. The private half never
// leaves the endpoint; the public half is offered to the peer during the
// key exchange.
type KeyPair struct {
	priv *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh 2048-bit keypair. Endpoints call this
// once at startup.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: keypair generation: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKeyBase64 returns the PKIX DER encoding of the public key,
// base64-encoded for transport inside a handshake payload.
func (kp *KeyPair) PublicKeyBase64() string {
	der, err := x509.MarshalPKIXPublicKey(&kp.priv.PublicKey)
	if err != nil {
		// MarshalPKIXPublicKey cannot fail for an RSA key we generated.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

// Public returns the public half.
func (kp *KeyPair) Public() *rsa.PublicKey {
	return &kp.priv.PublicKey
}

// ParsePublicKey decodes a peer's base64 PKIX public key.
func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	return rsaPub, nil
}

// WrapSessionKey encrypts the base64 form of a session key under the
// peer's public key. Only short secrets go through here.
func WrapSessionKey(peer *rsa.PublicKey, key []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(key)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peer, []byte(encoded), nil)
	if err != nil {
		return "", fmt.Errorf("crypto: session key wrap: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapSessionKey recovers a session key wrapped by the peer.
func (kp *KeyPair) UnwrapSessionKey(wrapped string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	encoded, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrUnwrapFailed, len(key))
	}
	return key, nil
}

// Fingerprint returns a short hex fingerprint of a base64 public key,
// suitable for out-of-band comparison by the two parties.
func Fingerprint(publicKeyBase64 string) string {
	sum := blake2b.Sum256([]byte(publicKeyBase64))
	return hex.EncodeToString(sum[:10])
}
