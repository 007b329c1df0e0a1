// Package assetclass implements the asset classifier (spec.md §4.3): a pure
// function from payload bytes to a 32-byte asset tag, plus the EIP-712
// domain-separator tag derivation used by sign_typed_data.
package assetclass

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/liquefaction/interfaces"
)

// EthSignedMessageTag is the fixed tag for payloads carrying the "ethereum
// signed message" prefix 0x19 0x45.
var EthSignedMessageTag = interfaces.AssetTag{0x19, 0x45}

// EthTransactionTag is the fixed tag for EIP-1559 (type-2) transaction
// envelopes, payloads whose first byte is 0x02.
//
// This is deliberately ambiguous with any other payload that happens to
// start with 0x02 — spec.md's open question #1 requires the classifier be
// preserved byte-for-byte, not "fixed."
var EthTransactionTag = interfaces.AssetTag{0x02}

// Classify maps a payload to its asset tag. Payloads that look like
// EIP-712 typed data (0x19 0x01) yield the zero tag: they must flow through
// ClassifyTypedData instead, since their tag depends on the domain, not the
// payload bytes.
func Classify(payload []byte) interfaces.AssetTag {
	if len(payload) >= 2 && payload[0] == 0x19 && payload[1] == 0x01 {
		return interfaces.ZeroAsset
	}
	if len(payload) >= 2 && payload[0] == 0x19 && payload[1] == 0x45 {
		return EthSignedMessageTag
	}
	if len(payload) >= 1 && payload[0] == 0x02 {
		return EthTransactionTag
	}
	return interfaces.ZeroAsset
}

// TypedDataDomain mirrors the subset of an EIP-712 domain the classifier and
// digest computation need. Which fields are present is encoded by mask bits
// in the same order they appear in the reconstructed EIP712Domain type
// string: name, version, chainId, verifyingContract, salt.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract interfaces.WalletAddress
	Salt              [32]byte

	HasName              bool
	HasVersion           bool
	HasChainID           bool
	HasVerifyingContract bool
	HasSalt              bool
}

// ClassifyTypedData derives the asset tag for typed structured data purely
// from the domain name: Keccak("EIP-712 " || domain.Name).
func ClassifyTypedData(domain TypedDataDomain) interfaces.AssetTag {
	if !domain.HasName {
		return interfaces.ZeroAsset
	}
	return interfaces.AssetTag(crypto.Keccak256Hash(append([]byte("EIP-712 "), []byte(domain.Name)...)))
}

// domainTypeString reconstructs the EIP712Domain type string using only the
// fields the mask selects, in {name, version, chainId, verifyingContract,
// salt} order, exactly as the domain-parameter mask requires.
func domainTypeString(domain TypedDataDomain) string {
	s := "EIP712Domain("
	first := true
	add := func(fragment string) {
		if !first {
			s += ","
		}
		s += fragment
		first = false
	}
	if domain.HasName {
		add("string name")
	}
	if domain.HasVersion {
		add("string version")
	}
	if domain.HasChainID {
		add("uint256 chainId")
	}
	if domain.HasVerifyingContract {
		add("address verifyingContract")
	}
	if domain.HasSalt {
		add("bytes32 salt")
	}
	s += ")"
	return s
}

// DomainSeparator computes the EIP-712 domain separator hash used in
// sign_typed_data's digest: Keccak(typeHash(EIP712Domain) || encoded fields).
func DomainSeparator(domain TypedDataDomain) ([32]byte, error) {
	typeHash := crypto.Keccak256Hash([]byte(domainTypeString(domain)))

	bytes32Ty, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		return [32]byte{}, err
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return [32]byte{}, err
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return [32]byte{}, err
	}

	args := abi.Arguments{{Type: bytes32Ty}}
	values := []interface{}{typeHash}

	if domain.HasName {
		args = append(args, abi.Argument{Type: bytes32Ty})
		values = append(values, crypto.Keccak256Hash([]byte(domain.Name)))
	}
	if domain.HasVersion {
		args = append(args, abi.Argument{Type: bytes32Ty})
		values = append(values, crypto.Keccak256Hash([]byte(domain.Version)))
	}
	if domain.HasChainID {
		args = append(args, abi.Argument{Type: uint256Ty})
		values = append(values, new(big.Int).SetUint64(domain.ChainID))
	}
	if domain.HasVerifyingContract {
		args = append(args, abi.Argument{Type: addressTy})
		values = append(values, domain.VerifyingContract)
	}
	if domain.HasSalt {
		args = append(args, abi.Argument{Type: bytes32Ty})
		values = append(values, domain.Salt)
	}

	packed, err := args.Pack(values...)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// TypedDataDigest computes the final EIP-712 digest signed by sign_typed_data:
// Keccak(0x1901 || domainSeparator || Keccak(typeHash || encodedData)).
func TypedDataDigest(domainSeparator [32]byte, typeHash [32]byte, encodedData []byte) [32]byte {
	structHash := crypto.Keccak256Hash(append(append([]byte{}, typeHash[:]...), encodedData...))
	prefixed := append([]byte{0x19, 0x01}, domainSeparator[:]...)
	prefixed = append(prefixed, structHash[:]...)
	return crypto.Keccak256Hash(prefixed)
}
