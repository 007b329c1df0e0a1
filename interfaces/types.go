// Package interfaces defines the shared vocabulary of the trust kernel: the
// identifiers threaded between the wallet registry, the Ethereum-transaction
// policy, and the host, plus the capability interfaces the host must supply.
package interfaces

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Principal is the opaque caller identity the host attaches to every
// dispatched operation. The kernel exposes no mechanism to forge it.
type Principal = common.Address

// WalletAddress is the externally visible, Keccak-derived address of a
// custodied wallet. It shares representation with Principal (both are
// 20-byte Ethereum-style addresses) but is kept as a distinct name at call
// sites for readability.
type WalletAddress = common.Address

// AssetTag is a 32-byte tag identifying a signable message class, computed
// purely from payload bytes (see package assetclass).
type AssetTag [32]byte

// ZeroAsset is the tag returned for payloads the classifier rejects.
var ZeroAsset = AssetTag{}

func (t AssetTag) String() string { return "0x" + hex.EncodeToString(t[:]) }

func (t AssetTag) IsZero() bool { return t == ZeroAsset }

func (t AssetTag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AssetTag) UnmarshalText(b []byte) error { return unmarshalHex32(b, t[:]) }

// AccountIndex is the caller-chosen 256-bit handle a wallet is created and
// looked up under, scoped to its owning principal.
type AccountIndex [32]byte

func (a AccountIndex) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a AccountIndex) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AccountIndex) UnmarshalText(b []byte) error { return unmarshalHex32(b, a[:]) }

func unmarshalHex32(b []byte, dst []byte) error {
	s := strings.TrimPrefix(string(b), "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

// ChainID identifies a foreign (Ethereum-compatible) chain.
type ChainID = uint64

// BlockNumber is the kernel's own monotonically increasing dispatch clock,
// distinct from any foreign chain's block number.
type BlockNumber = uint64
