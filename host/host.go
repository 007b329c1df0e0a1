// Package host implements the confidential-host primitives the kernel
// assumes (spec.md §6): secure randomness, secp256k1/X25519 key generation,
// prehashed signing, authenticated encryption and Keccak hashing. None of
// this existed in the teacher (host primitives there are supplied by the
// TEE platform, not modeled in Go); it is built directly on the same
// primitives cryptoutils already exposes.
package host

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/liquefaction/cryptoutils"
	"github.com/ruteri/liquefaction/interfaces"
)

// Crypto implements interfaces.HostCrypto using crypto/rand and the
// decred secp256k1 / nacl/box primitives cryptoutils wires up.
type Crypto struct{}

func NewCrypto() *Crypto { return &Crypto{} }

func (Crypto) RandBytes(n int, personalization string) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("drawing %d random bytes for %q: %w", n, personalization, err)
	}
	return buf, nil
}

func (Crypto) GenSecp256k1Keypair() ([]byte, []byte, error) {
	return cryptoutils.GenerateSecp256k1Keypair()
}

func (Crypto) SignPrehashed(privkey []byte, digest [32]byte) ([]byte, error) {
	return cryptoutils.SignDER(privkey, digest)
}

func (Crypto) GenX25519Keypair() ([32]byte, [32]byte, error) {
	return cryptoutils.GenerateX25519Keypair()
}

func (Crypto) SealX25519(peerPubkey, ownPrivkey [32]byte, msg []byte) ([]byte, [24]byte, error) {
	return cryptoutils.SealEnvelope(peerPubkey, ownPrivkey, msg)
}

func (Crypto) OpenX25519(peerPubkey, ownPrivkey [32]byte, nonce [24]byte, ciphertext []byte) ([]byte, error) {
	return cryptoutils.OpenEnvelope(peerPubkey, ownPrivkey, nonce, ciphertext)
}

func (Crypto) Keccak256(data ...[]byte) [32]byte {
	return crypto.Keccak256Hash(data...)
}

func (Crypto) K256ToEthAddress(pubkey []byte) ([20]byte, error) {
	return cryptoutils.EthAddress(pubkey)
}

var _ interfaces.HostCrypto = Crypto{}

// Clock implements interfaces.BlockClock as a process-local monotone
// counter, advanced explicitly by the dispatcher between operations (spec.md
// §5: "the host-supplied block number... advances between dispatches").
type Clock struct {
	block atomic.Uint64
}

func NewClock() *Clock { return &Clock{} }

func (c *Clock) BlockNumber() uint64 { return c.block.Load() }

func (c *Clock) Timestamp() uint64 { return uint64(time.Now().Unix()) }

// Advance moves the dispatch clock forward by one block, called by the
// kernel dispatcher between operations that must observe a strictly later
// block (e.g. to finalize a delayed cell).
func (c *Clock) Advance() uint64 { return c.block.Add(1) }

// SetBlockNumber pins the clock to a specific value, used only when
// reloading a snapshot at startup so restored delayed cells keep the
// pending/finalized status they had when the snapshot was taken.
func (c *Clock) SetBlockNumber(block uint64) { c.block.Store(block) }

var _ interfaces.BlockClock = (*Clock)(nil)
