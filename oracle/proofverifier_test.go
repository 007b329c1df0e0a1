package oracle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/stretchr/testify/require"
)

func TestTxTrieKeyMatchesRLPIndexEncoding(t *testing.T) {
	// RLP of the unsigned integer 0 is the single byte 0x80 (empty string);
	// RLP of 1..127 is the byte itself. Both are well-known encodings the
	// transaction trie relies on for its keys.
	require.Equal(t, []byte{0x80}, txTrieKey(0))
	require.Equal(t, []byte{0x01}, txTrieKey(1))
	require.Equal(t, []byte{0x7f}, txTrieKey(127))
}

func encodeHeader(t *testing.T, h *types.Header) []byte {
	raw, err := rlp.EncodeToBytes(h)
	require.NoError(t, err)
	return raw
}

func TestDecodeAndVerifyHeaderAcceptsMatchingHash(t *testing.T) {
	header := &types.Header{Number: big.NewInt(5), Time: 1234}
	raw := encodeHeader(t, header)

	got, err := decodeAndVerifyHeader([32]byte(header.Hash()), raw)
	require.NoError(t, err)
	require.Equal(t, header.Time, got.Time)
}

func TestDecodeAndVerifyHeaderRejectsMismatchedHash(t *testing.T) {
	header := &types.Header{Number: big.NewInt(5), Time: 1234}
	raw := encodeHeader(t, header)

	_, err := decodeAndVerifyHeader([32]byte{0xff}, raw)
	require.Error(t, err)
}

func TestDecodeAndVerifyHeaderRejectsGarbageRLP(t *testing.T) {
	_, err := decodeAndVerifyHeader([32]byte{}, []byte("not rlp"))
	require.Error(t, err)
}

func TestValidateTxProofRejectsProofNotRootedAtGivenRoot(t *testing.T) {
	v := NewMPTProofVerifier()

	header := &types.Header{Number: big.NewInt(1), TxHash: common.Hash{0xaa}}
	raw := encodeHeader(t, header)

	proof := interfaces.TxInclusionProof{
		TransactionIndex: 0,
		Proof:            [][]byte{[]byte("not a real trie node")},
	}

	_, _, err := v.ValidateTxProof([32]byte(header.Hash()), raw, proof)
	require.Equal(t, kernelerr.ProofMismatch, kernelerr.KindOf(err))
}

func TestValidateTxProofRejectsHeaderNotMatchingClaimedHash(t *testing.T) {
	v := NewMPTProofVerifier()

	// A real, well-formed header, but the caller claims a headerHash that
	// isn't actually its Keccak — this is the forged-deposit shape the
	// binding check exists to catch.
	header := &types.Header{Number: big.NewInt(1), TxHash: common.Hash{0xaa}}
	raw := encodeHeader(t, header)

	proof := interfaces.TxInclusionProof{TransactionIndex: 0}
	_, _, err := v.ValidateTxProof([32]byte{0x01}, raw, proof)
	require.Equal(t, kernelerr.ProofMismatch, kernelerr.KindOf(err))
}

func TestValidateStorageProofRejectsMissingAccount(t *testing.T) {
	v := NewMPTProofVerifier()

	header := &types.Header{Number: big.NewInt(1), Root: common.Hash{0xbb}}
	raw := encodeHeader(t, header)

	proof := interfaces.StorageProof{
		Address:      interfaces.WalletAddress{0x01},
		Slot:         [32]byte{0x02},
		AccountProof: nil,
		StorageProof: nil,
	}

	_, err := v.ValidateStorageProof([32]byte(header.Hash()), raw, proof)
	require.Equal(t, kernelerr.ProofMismatch, kernelerr.KindOf(err))
}
