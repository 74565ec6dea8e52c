package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Solana verifies ed25519 signatures over a plain-text challenge. Public keys and
// signatures travel base58 encoded, the way wallet adapters hand them out.
type Solana struct {
	prefix string
}

func NewSolana(prefix string) *Solana {
	return &Solana{prefix: prefix}
}

func (s *Solana) Kind() string { return KindSolana }

func (s *Solana) Normalize(publicKey string) (string, error) {
	raw, err := base58.Decode(publicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", ErrInvalidPublicKey
	}
	return base58.Encode(raw), nil
}

func (s *Solana) NewNonce() string { return newNonce() }

func (s *Solana) Challenge(publicKey, nonce string) (string, error) {
	return fmt.Sprintf("%s\n\nWallet: %s\nNonce: %s", s.prefix, publicKey, nonce), nil
}

func (s *Solana) Verify(publicKey, message, signature, nonce string) error {
	expected, _ := s.Challenge(publicKey, nonce)
	if message != expected {
		return ErrMessageMismatch
	}
	pub, err := base58.Decode(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}
