package interfaces

// HostCrypto is the set of cryptographic primitives the confidential host is
// assumed to supply trustworthily (spec §6). The kernel never touches
// crypto/rand directly outside of this interface's concrete implementation in
// package host; the one direct curve call is wallet.ExportKey deriving the
// export public key through cryptoutils.DeriveX25519Pubkey.
type HostCrypto interface {
	// RandBytes returns n cryptographically secure random bytes. personalization
	// names the purpose of the draw (e.g. "wallet-seed", "x25519-nonce");
	// host.Crypto uses it only in error messages and does not mix it into the bytes.
	RandBytes(n int, personalization string) ([]byte, error)

	// GenSecp256k1Keypair generates a fresh secp256k1 keypair and returns the
	// uncompressed public key bytes and the 32-byte scalar private key.
	GenSecp256k1Keypair() (pubkey []byte, privkey []byte, err error)

	// SignPrehashed produces a DER-encoded secp256k1 signature over a 32-byte
	// digest (the caller is responsible for hashing with Keccak256 first).
	SignPrehashed(privkey []byte, digest [32]byte) ([]byte, error)

	// GenX25519Keypair generates a fresh Curve25519 keypair.
	GenX25519Keypair() (pubkey [32]byte, privkey [32]byte, err error)

	// SealX25519 authenticates and encrypts msg to peerPubkey under ownPrivkey,
	// returning ciphertext and the fresh nonce it embedded.
	SealX25519(peerPubkey [32]byte, ownPrivkey [32]byte, msg []byte) (ciphertext []byte, nonce [24]byte, err error)

	// OpenX25519 reverses SealX25519.
	OpenX25519(peerPubkey [32]byte, ownPrivkey [32]byte, nonce [24]byte, ciphertext []byte) ([]byte, error)

	// Keccak256 hashes bytes with Keccak-256.
	Keccak256(data ...[]byte) [32]byte

	// K256ToEthAddress derives the 20-byte Ethereum-style address from an
	// uncompressed secp256k1 public key.
	K256ToEthAddress(pubkey []byte) ([20]byte, error)
}

// BlockClock supplies the two notions of time the kernel is allowed to
// observe: its own monotone dispatch-block counter, and a wall-clock
// timestamp used solely for lease-expiry comparisons.
type BlockClock interface {
	BlockNumber() BlockNumber
	Timestamp() uint64
}
