package cryptoutils

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// GenerateX25519Keypair draws a fresh Curve25519 keypair for use as a
// key-export key or a counterparty's ephemeral key.
func GenerateX25519Keypair() (pubkey, privkey [32]byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("generating x25519 key: %w", err)
	}
	return *pub, *priv, nil
}

// DeriveX25519Pubkey recovers the public half of an X25519 keypair from its
// private half, used to attest the export key passed to an export call
// without having to keep the pubkey around separately.
func DeriveX25519Pubkey(privkey [32]byte) (pubkey [32]byte, err error) {
	out, err := curve25519.X25519(privkey[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, fmt.Errorf("deriving x25519 pubkey: %w", err)
	}
	copy(pubkey[:], out)
	return pubkey, nil
}

// SealEnvelope authenticates and encrypts msg to peerPubkey under ownPrivkey
// using X25519 + XSalsa20-Poly1305 (component B, spec.md §4.4). Every call
// draws a fresh 24-byte nonce; nonce reuse under the same key pair is never
// permitted.
func SealEnvelope(peerPubkey, ownPrivkey [32]byte, msg []byte) (ciphertext []byte, nonce [24]byte, err error) {
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("drawing envelope nonce: %w", err)
	}
	ciphertext = box.Seal(nil, msg, &nonce, &peerPubkey, &ownPrivkey)
	return ciphertext, nonce, nil
}

// OpenEnvelope reverses SealEnvelope.
func OpenEnvelope(peerPubkey, ownPrivkey [32]byte, nonce [24]byte, ciphertext []byte) ([]byte, error) {
	msg, ok := box.Open(nil, ciphertext, &nonce, &peerPubkey, &ownPrivkey)
	if !ok {
		return nil, fmt.Errorf("envelope authentication failed")
	}
	return msg, nil
}
