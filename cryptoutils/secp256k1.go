package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateSecp256k1Keypair draws a fresh random secp256k1 private key and
// returns it alongside the uncompressed public key encoding. Unlike
// kms.SimpleKMS's deterministic derivation, wallet keys are never derived
// from an address or index — each is independently random (spec.md §3).
func GenerateSecp256k1Keypair() (pubkey []byte, privkey []byte, err error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return priv.PubKey().SerializeUncompressed(), priv.Serialize(), nil
}

// SignDER signs a 32-byte digest with a raw secp256k1 private key scalar and
// returns a DER-encoded signature, matching spec.md §6's
// sign_prehashed(sk, Keccak(msg)) -> DER sig. go-ethereum's crypto.Sign
// returns a 65-byte R||S||V signature; DER encoding requires the decred
// package instead.
func SignDER(privkey []byte, digest [32]byte) ([]byte, error) {
	priv := secp256k1.PrivKeyFromBytes(privkey)
	defer priv.Zero()
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize(), nil
}

// VerifyDER verifies a DER-encoded secp256k1 signature over digest against
// an uncompressed public key.
func VerifyDER(pubkey []byte, digest [32]byte, sigDER []byte) (bool, error) {
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, fmt.Errorf("parsing pubkey: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}
	return sig.Verify(digest[:], pub), nil
}

// EthAddress derives the 20-byte Ethereum-style address from an uncompressed
// secp256k1 public key: the lower 20 bytes of Keccak256 of the 64-byte
// (X||Y) encoding, dropping the leading 0x04 prefix byte.
func EthAddress(uncompressedPubkey []byte) ([20]byte, error) {
	pub, err := crypto.UnmarshalPubkey(uncompressedPubkey)
	if err != nil {
		return [20]byte{}, fmt.Errorf("unmarshaling pubkey: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return [20]byte(addr), nil
}

// RecoverableFromDER converts a DER-encoded signature produced by SignDER
// into the 65-byte (R || S || V) recoverable form a real Ethereum
// transaction's signature fields need. The registry itself never needs
// this — it only ever hands out DER — but whoever broadcasts a
// kernel-signed transaction must reconstruct V by testing both recovery
// candidates against the wallet's known public key.
func RecoverableFromDER(sigDER []byte, digest [32]byte, uncompressedPubkey []byte) ([65]byte, error) {
	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(sigDER, &parsed); err != nil {
		return [65]byte{}, fmt.Errorf("parsing DER signature: %w", err)
	}

	var compact [65]byte
	parsed.R.FillBytes(compact[0:32])
	parsed.S.FillBytes(compact[32:64])

	for v := byte(0); v < 2; v++ {
		compact[64] = v
		recovered, err := crypto.Ecrecover(digest[:], compact[:])
		if err != nil {
			continue
		}
		if bytes.Equal(recovered, uncompressedPubkey) {
			return compact, nil
		}
	}
	return [65]byte{}, fmt.Errorf("no recovery id reproduces the given public key")
}

// RandomAccountIndex draws a random 256-bit account index, used by
// create_wallet and transfer_ownership.
func RandomAccountIndex() ([32]byte, error) {
	var idx [32]byte
	if _, err := rand.Read(idx[:]); err != nil {
		return idx, fmt.Errorf("drawing random account index: %w", err)
	}
	return idx, nil
}
