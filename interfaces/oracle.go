package interfaces

// TxInclusionProof is a Merkle-Patricia-trie path from a header's
// transactionsRoot to the RLP-encoded transaction at TransactionIndex.
type TxInclusionProof struct {
	ChainID          ChainID
	BlockNumber      uint64
	TransactionIndex uint
	Proof            [][]byte // trie nodes, root to leaf
}

// StorageProof is a Merkle-Patricia-trie path from a header's stateRoot to a
// specific storage slot of a specific address.
type StorageProof struct {
	ChainID     ChainID
	BlockNumber uint64
	Address     WalletAddress
	Slot        [32]byte
	AccountProof [][]byte
	StorageProof [][]byte
}

// BlockHashOracle supplies trusted foreign-chain header hashes (component E).
type BlockHashOracle interface {
	// GetBlockHash returns the canonical block hash for chainId/blockNumber.
	GetBlockHash(chainId ChainID, blockNumber uint64) ([32]byte, error)
}

// ProofVerifier verifies transaction-inclusion and storage proofs against a
// full RLP-encoded header the caller supplies (component F). The header's
// Keccak256 must equal headerHash — the value BlockHashOracle attested for
// the same chainId/blockNumber — before any of its fields are trusted;
// transactionsRoot, stateRoot, and timestamp are always read out of that
// verified header, never accepted as independent caller-supplied values.
type ProofVerifier interface {
	// ValidateTxProof enforces the Merkle-Patricia path from the verified
	// header's transactionsRoot and returns the RLP-encoded transaction it
	// proves inclusion of, along with the header's timestamp.
	ValidateTxProof(headerHash [32]byte, headerRLP []byte, proof TxInclusionProof) (serializedTx []byte, blockTimestamp uint64, err error)

	// ValidateStorageProof enforces the account-state and storage paths from
	// the verified header's stateRoot and returns the u256 value stored at
	// the slot.
	ValidateStorageProof(headerHash [32]byte, headerRLP []byte, proof StorageProof) (value []byte, err error)
}
