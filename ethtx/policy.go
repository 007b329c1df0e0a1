// Package ethtx implements the Ethereum-Transaction Policy (spec.md §4.6,
// component G): a policy registered under the wallet registry for the
// Ethereum-transaction asset that sub-leases signing rights per
// (chainId, destination) to downstream sub-policies, keeps per-sub-policy
// ETH sub-balances reconciled from proved foreign-chain deposits, enforces
// nonce and commitment discipline, and reimburses inclusion-proof
// submitters from each sub-policy's local collateral.
//
// It is grounded in the shape of other_examples' wallet-service ledgers
// (balances and nonces keyed by account, mutex-guarded, first-writer-wins
// commitments) generalized to the multi-tenant sub-policy model spec.md
// describes.
package ethtx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/delayedcell"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/ruteri/liquefaction/wallet"
)

type subBalanceKey struct {
	subPolicy interfaces.Principal
	account   interfaces.WalletAddress
	chainID   uint64
}

type accountChainKey struct {
	account interfaces.WalletAddress
	chainID uint64
}

type destKey struct {
	account interfaces.WalletAddress
	chainID uint64
	to      interfaces.WalletAddress
}

type subLeaseKey struct {
	account interfaces.WalletAddress
	dest    [32]byte
}

type txCommitKey struct {
	account interfaces.WalletAddress
	hash    [32]byte
}

// signerSubPolicyKey indexes the record of which sub-policy was debited for
// which signer's proved-included transactions (spec.md §4.6's
// signedIncludedTransactions[signer][subPolicy]).
type signerSubPolicyKey struct {
	signer    interfaces.WalletAddress
	subPolicy interfaces.Principal
}

// SubLease is one (chainId, destination) sub-lease.
type SubLease struct {
	SubPolicy              delayedcell.Cell[interfaces.Principal]
	Expiry                 uint64
	SigCommitmentsRequired bool
	UsesDepositControl     bool
}

type pendingLocal struct {
	amount *big.Int
	block  uint64
}

type depositCommitment struct {
	subPolicy      interfaces.Principal
	blockTimestamp uint64
}

type txCommitment struct {
	subPolicy interfaces.Principal
	block     uint64
}

// Destination is one (chainId, to) pair a sub-lease is granted over.
type Destination struct {
	ChainID uint64
	To      interfaces.WalletAddress
}

// Policy is the process-lifetime Ethereum-transaction sub-policy engine.
// It is itself registered as a wallet-registry policy (implements
// interfaces.PolicySPI) under the address `self`.
type Policy struct {
	mu sync.Mutex

	self     interfaces.Principal
	wallets  *wallet.Registry
	oracle   interfaces.BlockHashOracle
	verifier interfaces.ProofVerifier
	crypto   interfaces.HostCrypto
	policies interfaces.PolicyRegistry

	txManagers map[interfaces.WalletAddress]interfaces.Principal
	ourExpiry  map[interfaces.WalletAddress]uint64

	subLeases                  map[subLeaseKey]*SubLease
	ethBalance                 map[subBalanceKey]*big.Int
	localFinalized             map[subBalanceKey]*big.Int
	localPending               map[subBalanceKey]*pendingLocal
	txCount                    map[accountChainKey]uint64
	depositTx                  map[[32]byte]depositCommitment // §9 open question #3: intentionally non-confidential
	depositSeen                map[[32]byte]bool
	txCommit                   map[txCommitKey]txCommitment
	lastUnlimitedSigner        map[destKey]interfaces.Principal
	depositControl             map[interfaces.Principal]bool
	signedIncludedTransactions map[signerSubPolicyKey]map[[32]byte]bool
}

func NewPolicy(self interfaces.Principal, wallets *wallet.Registry, oracle interfaces.BlockHashOracle, verifier interfaces.ProofVerifier, crypto interfaces.HostCrypto, policies interfaces.PolicyRegistry) *Policy {
	return &Policy{
		self:                       self,
		wallets:                    wallets,
		oracle:                     oracle,
		verifier:                   verifier,
		crypto:                     crypto,
		policies:                   policies,
		txManagers:                 make(map[interfaces.WalletAddress]interfaces.Principal),
		ourExpiry:                  make(map[interfaces.WalletAddress]uint64),
		subLeases:                  make(map[subLeaseKey]*SubLease),
		ethBalance:                 make(map[subBalanceKey]*big.Int),
		localFinalized:             make(map[subBalanceKey]*big.Int),
		localPending:               make(map[subBalanceKey]*pendingLocal),
		txCount:                    make(map[accountChainKey]uint64),
		depositTx:                  make(map[[32]byte]depositCommitment),
		depositSeen:                make(map[[32]byte]bool),
		txCommit:                   make(map[txCommitKey]txCommitment),
		lastUnlimitedSigner:        make(map[destKey]interfaces.Principal),
		depositControl:             make(map[interfaces.Principal]bool),
		signedIncludedTransactions: make(map[signerSubPolicyKey]map[[32]byte]bool),
	}
}

func destAssetTag(crypto interfaces.HostCrypto, chainID uint64, to interfaces.WalletAddress) [32]byte {
	var chainBytes [8]byte
	binary.BigEndian.PutUint64(chainBytes[:], chainID)
	return crypto.Keccak256(chainBytes[:], to.Bytes())
}

func balanceOf(m map[subBalanceKey]*big.Int, k subBalanceKey) *big.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return big.NewInt(0)
}

// NotifyEnrollment implements interfaces.PolicySPI: the wallet registry
// calls this when G itself is enrolled as a policy for the Ethereum
// transaction asset on some account.
func (p *Policy) NotifyEnrollment(manager interfaces.Principal, account interfaces.WalletAddress, assets []interfaces.AssetTag, expiration uint64, data []byte) error {
	found := false
	for _, a := range assets {
		if a == assetclass.EthTransactionTag {
			found = true
			break
		}
	}
	if !found {
		return kernelerr.New("ethtx.notify_enrollment", kernelerr.InvalidArgument, fmt.Errorf("enrollment did not include the ethereum transaction asset"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.txManagers[account] = manager
	p.ourExpiry[account] = expiration
	return nil
}

var _ interfaces.PolicySPI = (*Policy)(nil)

// EnterSubLease grants subPolicy signing rights over a set of (chainId, to)
// destinations, up to but not exceeding G's own lease expiry on account.
func (p *Policy) EnterSubLease(caller interfaces.Principal, account interfaces.WalletAddress, destinations []Destination, subPolicy interfaces.Principal, expiry uint64, sigCommitmentsRequired bool, usesDepositControl bool, block uint64, now uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "enter_sub_lease"

	manager, ok := p.txManagers[account]
	if !ok {
		return kernelerr.New(op, kernelerr.WalletNotFound, nil)
	}
	if caller != manager {
		return kernelerr.New(op, kernelerr.NotAuthorized, nil)
	}
	if expiry > p.ourExpiry[account] {
		return kernelerr.New(op, kernelerr.InvalidArgument, fmt.Errorf("sub-lease expiry %d exceeds our own lease expiry %d", expiry, p.ourExpiry[account]))
	}

	installed := make([]subLeaseKey, 0, len(destinations))
	rollback := func() {
		for _, k := range installed {
			delete(p.subLeases, k)
		}
	}

	for _, dest := range destinations {
		key := subLeaseKey{account: account, dest: destAssetTag(p.crypto, dest.ChainID, dest.To)}
		if existing, ok := p.subLeases[key]; ok && existing.Expiry > now {
			rollback()
			return kernelerr.New(op, kernelerr.AlreadyEncumbered, nil)
		}

		lease := &SubLease{Expiry: expiry, SigCommitmentsRequired: sigCommitmentsRequired, UsesDepositControl: usesDepositControl}
		if err := lease.SubPolicy.UpdateTo(op, subPolicy, block); err != nil {
			rollback()
			return err
		}
		p.subLeases[key] = lease
		installed = append(installed, key)

		if !sigCommitmentsRequired {
			p.lastUnlimitedSigner[destKey{account: account, chainID: dest.ChainID, to: dest.To}] = subPolicy
		}
	}

	spi, ok := p.policies.Resolve(subPolicy)
	if !ok {
		rollback()
		return kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("sub-policy %s is not registered", subPolicy))
	}
	assetTags := make([]interfaces.AssetTag, len(destinations))
	for i, dest := range destinations {
		assetTags[i] = interfaces.AssetTag(destAssetTag(p.crypto, dest.ChainID, dest.To))
	}
	if err := spi.NotifyEnrollment(p.self, account, assetTags, expiry, nil); err != nil {
		rollback()
		return kernelerr.New(op, kernelerr.NotAuthorized, err)
	}

	p.depositControl[subPolicy] = usesDepositControl
	return nil
}

// CommitToDeposit records a first-writer-wins claim on a foreign-chain
// deposit transaction hash.
func (p *Policy) CommitToDeposit(caller interfaces.Principal, signedTxHash [32]byte, now uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "commit_to_deposit"
	if _, exists := p.depositTx[signedTxHash]; exists {
		return kernelerr.New(op, kernelerr.AlreadySeen, nil)
	}
	p.depositTx[signedTxHash] = depositCommitment{subPolicy: caller, blockTimestamp: now}
	return nil
}

// DepositFunds credits caller's sub-balance once its committed deposit
// transaction is proved included on the foreign chain. headerRLP is the full
// RLP-encoded header claimed to contain the proof; its transactionsRoot and
// timestamp are trusted only once its hash is confirmed against the oracle.
func (p *Policy) DepositFunds(caller interfaces.Principal, signedTxRaw []byte, proof interfaces.TxInclusionProof, headerRLP []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "deposit_funds"

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signedTxRaw); err != nil {
		return kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("decoding signed tx: %w", err))
	}
	hash := [32]byte(tx.Hash())

	commitment, ok := p.depositTx[hash]
	if !ok {
		return kernelerr.New(op, kernelerr.CommitmentRequired, nil)
	}
	if commitment.subPolicy != caller {
		return kernelerr.New(op, kernelerr.NotCommitter, nil)
	}

	headerHash, err := p.oracle.GetBlockHash(tx.ChainId().Uint64(), proof.BlockNumber)
	if err != nil {
		return kernelerr.New(op, kernelerr.ProofMismatch, err)
	}

	rawTx, blockTimestamp, err := p.verifier.ValidateTxProof(headerHash, headerRLP, proof)
	if err != nil {
		return kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	if !bytes.Equal(rawTx, signedTxRaw) {
		return kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("proved transaction does not match the deposit"))
	}

	if _, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err != nil {
		return kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("recovering signer: %w", err))
	}

	if p.depositControl[caller] && blockTimestamp < commitment.blockTimestamp {
		return kernelerr.New(op, kernelerr.CommitmentTooEarly, nil)
	}

	if p.depositSeen[hash] {
		return kernelerr.New(op, kernelerr.AlreadySeen, nil)
	}
	if tx.To() == nil {
		return kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("deposit transaction has no recipient"))
	}
	p.depositSeen[hash] = true

	to := interfaces.WalletAddress(*tx.To())
	key := subBalanceKey{subPolicy: caller, account: to, chainID: tx.ChainId().Uint64()}
	p.ethBalance[key] = new(big.Int).Add(balanceOf(p.ethBalance, key), tx.Value())
	return nil
}

// DepositLocalFunds credits caller's local (TEE-native) collateral used to
// fund inclusion-proof reimbursements.
func (p *Policy) DepositLocalFunds(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64, amount *big.Int, block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := subBalanceKey{subPolicy: caller, account: account, chainID: chainID}
	pending, exists := p.localPending[key]
	switch {
	case !exists:
		p.localPending[key] = &pendingLocal{amount: new(big.Int).Set(amount), block: block}
	case pending.block == block:
		pending.amount.Add(pending.amount, amount)
	default: // pending.block < block: finalize the stale entry first
		p.finalizeLocalLocked(key)
		p.localPending[key] = &pendingLocal{amount: new(big.Int).Set(amount), block: block}
	}
}

func (p *Policy) finalizeLocalLocked(key subBalanceKey) {
	pending, ok := p.localPending[key]
	if !ok {
		return
	}
	p.localFinalized[key] = new(big.Int).Add(balanceOf(p.localFinalized, key), pending.amount)
	delete(p.localPending, key)
}

// FinalizeLocalFunds moves a pending local-collateral deposit into the
// finalized balance once its block has strictly passed.
func (p *Policy) FinalizeLocalFunds(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64, block uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "finalize_local_funds"
	key := subBalanceKey{subPolicy: caller, account: account, chainID: chainID}
	pending, exists := p.localPending[key]
	if !exists {
		return nil
	}
	if pending.block >= block {
		return kernelerr.New(op, kernelerr.Pending, nil)
	}
	p.finalizeLocalLocked(key)
	return nil
}

func unsignedTxHash(crypto interfaces.HostCrypto, tx *UnsignedTx) ([32]byte, error) {
	serialized, err := tx.SerializeUnsigned()
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256(serialized), nil
}

// CommitToTransaction stamps tx with the authoritative next nonce and
// records the sub-policy's commitment to it.
func (p *Policy) CommitToTransaction(caller interfaces.Principal, account interfaces.WalletAddress, tx *UnsignedTx, block uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "commit_to_transaction"

	leaseKey := subLeaseKey{account: account, dest: destAssetTag(p.crypto, tx.ChainID, tx.To)}
	lease, ok := p.subLeases[leaseKey]
	if !ok {
		return 0, kernelerr.New(op, kernelerr.NotLeaseholder, nil)
	}
	holder, err := lease.SubPolicy.Finalized(op, block)
	if err != nil {
		return 0, err
	}
	if holder != caller {
		return 0, kernelerr.New(op, kernelerr.NotLeaseholder, nil)
	}

	tx.Nonce = p.txCount[accountChainKey{account: account, chainID: tx.ChainID}]

	hash, err := unsignedTxHash(p.crypto, tx)
	if err != nil {
		return 0, kernelerr.New(op, kernelerr.Unknown, err)
	}
	p.txCommit[txCommitKey{account: account, hash: hash}] = txCommitment{subPolicy: caller, block: block}

	return tx.Nonce, nil
}

// SignTransaction runs the five ordered pre-conditions of spec.md §4.6 and,
// if all pass, delegates to the wallet registry to sign the serialized
// unsigned transaction. It does not increment the nonce: only a proved
// inclusion does that.
func (p *Policy) SignTransaction(caller interfaces.Principal, account interfaces.WalletAddress, tx *UnsignedTx, block uint64, now uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "sign_transaction"

	balKey := subBalanceKey{subPolicy: caller, account: account, chainID: tx.ChainID}

	// 1. pre-funded inclusion-proof reimbursement.
	cost := estimateInclusionProofCost(len(tx.Data))
	if cost.Cmp(balanceOf(p.localFinalized, balKey)) > 0 {
		return nil, kernelerr.New(op, kernelerr.InsufficientBalance, fmt.Errorf("local collateral does not cover inclusion-proof cost"))
	}

	// 2. commitment discipline, unless caller is the last unlimited signer.
	dKey := destKey{account: account, chainID: tx.ChainID, to: tx.To}
	if p.lastUnlimitedSigner[dKey] != caller {
		hash, err := unsignedTxHash(p.crypto, tx)
		if err != nil {
			return nil, kernelerr.New(op, kernelerr.Unknown, err)
		}
		commit, ok := p.txCommit[txCommitKey{account: account, hash: hash}]
		if !ok || commit.subPolicy != caller {
			return nil, kernelerr.New(op, kernelerr.CommitmentRequired, nil)
		}
		if commit.block >= block {
			return nil, kernelerr.New(op, kernelerr.CommitmentTooEarly, nil)
		}
	}

	// 3. current, unexpired lease.
	leaseKey := subLeaseKey{account: account, dest: destAssetTag(p.crypto, tx.ChainID, tx.To)}
	lease, ok := p.subLeases[leaseKey]
	if !ok {
		return nil, kernelerr.New(op, kernelerr.NotLeaseholder, nil)
	}
	holder, err := lease.SubPolicy.Finalized(op, block)
	if err != nil {
		return nil, err
	}
	if holder != caller {
		return nil, kernelerr.New(op, kernelerr.NotLeaseholder, nil)
	}
	if lease.Expiry <= now {
		return nil, kernelerr.New(op, kernelerr.Expired, nil)
	}

	// 4. nonce discipline.
	if tx.Nonce != p.txCount[accountChainKey{account: account, chainID: tx.ChainID}] {
		return nil, kernelerr.New(op, kernelerr.BadNonce, nil)
	}

	// 5. sufficient proved ETH balance.
	if maxCost(tx.Value, tx.GasLimit, tx.GasFeeCap).Cmp(balanceOf(p.ethBalance, balKey)) > 0 {
		return nil, kernelerr.New(op, kernelerr.InsufficientBalance, nil)
	}

	payload, err := tx.SerializeUnsigned()
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.Unknown, err)
	}
	return p.wallets.SignMessage(p.self, account, payload, block, now)
}

// ProveTransactionInclusion verifies a previously signed transaction landed
// on the foreign chain, advances the account's nonce ledger, debits the
// responsible sub-policy's ETH balance, and returns the wei owed to the
// caller for having submitted the proof. headerRLP is the full RLP-encoded
// header claimed to contain the proof; its transactionsRoot is trusted only
// once its hash is confirmed against the oracle.
func (p *Policy) ProveTransactionInclusion(signedTxRaw []byte, proof interfaces.TxInclusionProof, headerRLP []byte, block uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "prove_transaction_inclusion"

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signedTxRaw); err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("decoding signed tx: %w", err))
	}

	headerHash, err := p.oracle.GetBlockHash(tx.ChainId().Uint64(), proof.BlockNumber)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}

	rawTx, _, err := p.verifier.ValidateTxProof(headerHash, headerRLP, proof)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, err)
	}
	if !bytes.Equal(rawTx, signedTxRaw) {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("proved transaction does not match the claimed signed tx"))
	}

	signer, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("recovering signer: %w", err))
	}
	if tx.To() == nil {
		return nil, kernelerr.New(op, kernelerr.ProofMismatch, fmt.Errorf("transaction has no recipient"))
	}
	signerAddr := interfaces.WalletAddress(signer)
	chainID := tx.ChainId().Uint64()
	to := interfaces.WalletAddress(*tx.To())

	ckey := accountChainKey{account: signerAddr, chainID: chainID}
	if tx.Nonce() != p.txCount[ckey] {
		return nil, kernelerr.New(op, kernelerr.BadNonce, nil)
	}
	p.txCount[ckey] = tx.Nonce() + 1

	dKey := destKey{account: signerAddr, chainID: chainID, to: to}
	leaseKey := subLeaseKey{account: signerAddr, dest: destAssetTag(p.crypto, chainID, to)}

	var currentHolder interfaces.Principal
	if lease, ok := p.subLeases[leaseKey]; ok {
		if h, err := lease.SubPolicy.Finalized(op, block); err == nil {
			currentHolder = h
		}
	}

	unsigned := &UnsignedTx{ChainID: chainID, Nonce: tx.Nonce(), GasTipCap: tx.GasTipCap(), GasFeeCap: tx.GasFeeCap(), GasLimit: tx.Gas(), To: to, Value: tx.Value(), Data: tx.Data()}
	uHash, err := unsignedTxHash(p.crypto, unsigned)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.Unknown, err)
	}

	// Debit precedence per spec.md §4.6 / open question #2: preserve this
	// order exactly.
	var debited interfaces.Principal
	switch {
	case currentHolder != (interfaces.Principal{}) && currentHolder == p.lastUnlimitedSigner[dKey]:
		debited = currentHolder
	default:
		if commit, ok := p.txCommit[txCommitKey{account: signerAddr, hash: uHash}]; ok {
			debited = commit.subPolicy
		} else {
			debited = p.lastUnlimitedSigner[dKey]
		}
	}

	sspKey := signerSubPolicyKey{signer: signerAddr, subPolicy: debited}
	if p.signedIncludedTransactions[sspKey] == nil {
		p.signedIncludedTransactions[sspKey] = make(map[[32]byte]bool)
	}
	p.signedIncludedTransactions[sspKey][[32]byte(tx.Hash())] = true

	cost := maxCost(tx.Value(), tx.Gas(), tx.GasFeeCap())
	balKey := subBalanceKey{subPolicy: debited, account: signerAddr, chainID: chainID}
	remaining, _ := saturatingSub(balanceOf(p.ethBalance, balKey), cost)
	p.ethBalance[balKey] = remaining

	if currentHolder != (interfaces.Principal{}) {
		p.lastUnlimitedSigner[dKey] = currentHolder
	}

	localKey := subBalanceKey{subPolicy: debited, account: signerAddr, chainID: chainID}
	proofCost := estimateInclusionProofCost(len(tx.Data()))
	localRemaining, payout := saturatingSub(balanceOf(p.localFinalized, localKey), proofCost)
	p.localFinalized[localKey] = localRemaining

	return payout, nil
}

// ReleaseCommitmentRequirement lets the account's manager clear the
// commitment obligation for a destination once its lease has stabilized.
func (p *Policy) ReleaseCommitmentRequirement(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64, to interfaces.WalletAddress, block uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "release_commitment_requirement"

	manager, ok := p.txManagers[account]
	if !ok {
		return kernelerr.New(op, kernelerr.WalletNotFound, nil)
	}
	if caller != manager {
		return kernelerr.New(op, kernelerr.NotAuthorized, nil)
	}

	leaseKey := subLeaseKey{account: account, dest: destAssetTag(p.crypto, chainID, to)}
	lease, ok := p.subLeases[leaseKey]
	if !ok {
		return kernelerr.New(op, kernelerr.NotLeaseholder, nil)
	}
	holder, err := lease.SubPolicy.Finalized(op, block)
	if err != nil {
		return err
	}
	p.lastUnlimitedSigner[destKey{account: account, chainID: chainID, to: to}] = holder
	return nil
}
