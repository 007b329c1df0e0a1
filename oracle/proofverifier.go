package oracle

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
)

// MPTProofVerifier verifies transaction-inclusion and account/storage proofs
// against roots read out of a full header, never against roots asserted
// independently by the caller. It does not itself fetch headers; the kernel
// is responsible for having obtained headerHash from a BlockHashOracle.
type MPTProofVerifier struct{}

func NewMPTProofVerifier() *MPTProofVerifier { return &MPTProofVerifier{} }

// stateAccount mirrors go-ethereum's RLP-encoded account leaf.
type stateAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     common.Hash
	CodeHash []byte
}

func proofDB(nodes [][]byte) (*memorydb.Database, error) {
	db := memorydb.New()
	for _, node := range nodes {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, fmt.Errorf("staging proof node: %w", err)
		}
	}
	return db, nil
}

// txTrieKey is the canonical key used by go-ethereum's transaction trie: the
// RLP encoding of the transaction's index within the block.
func txTrieKey(index uint) []byte {
	buf := new(bytes.Buffer)
	rlp.Encode(buf, uint(index))
	return buf.Bytes()
}

// decodeAndVerifyHeader RLP-decodes headerRLP and rejects it unless it
// hashes to headerHash — the value the kernel obtained from a
// BlockHashOracle — so transactionsRoot/stateRoot/timestamp can only ever be
// read out of a header that is provably the one the oracle attested to.
func decodeAndVerifyHeader(headerHash [32]byte, headerRLP []byte) (*types.Header, error) {
	var header types.Header
	if err := rlp.DecodeBytes(headerRLP, &header); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if header.Hash() != common.Hash(headerHash) {
		return nil, fmt.Errorf("header does not hash to the claimed block hash")
	}
	return &header, nil
}

func (v *MPTProofVerifier) ValidateTxProof(headerHash [32]byte, headerRLP []byte, proof interfaces.TxInclusionProof) ([]byte, uint64, error) {
	const op = "validate_tx_proof"

	header, err := decodeAndVerifyHeader(headerHash, headerRLP)
	if err != nil {
		return nil, 0, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}

	db, err := proofDB(proof.Proof)
	if err != nil {
		return nil, 0, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}

	rawTx, err := trie.VerifyProof(header.TxHash, txTrieKey(proof.TransactionIndex), db)
	if err != nil {
		return nil, 0, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	if rawTx == nil {
		return nil, 0, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("transaction index %d absent from proof", proof.TransactionIndex))
	}
	return rawTx, header.Time, nil
}

func (v *MPTProofVerifier) ValidateStorageProof(headerHash [32]byte, headerRLP []byte, proof interfaces.StorageProof) ([]byte, error) {
	const op = "validate_storage_proof"

	header, err := decodeAndVerifyHeader(headerHash, headerRLP)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}

	accountDB, err := proofDB(proof.AccountProof)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	accountKey := crypto.Keccak256(proof.Address.Bytes())
	rawAccount, err := trie.VerifyProof(header.Root, accountKey, accountDB)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	if rawAccount == nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("address %s absent from account proof", proof.Address))
	}

	var account stateAccount
	if err := rlp.DecodeBytes(rawAccount, &account); err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("decoding account leaf: %w", err))
	}

	storageDB, err := proofDB(proof.StorageProof)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	storageKey := crypto.Keccak256(proof.Slot[:])
	value, err := trie.VerifyProof(account.Root, storageKey, storageDB)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	if value == nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("slot %x absent from storage proof", proof.Slot))
	}
	return value, nil
}

var _ interfaces.ProofVerifier = (*MPTProofVerifier)(nil)
