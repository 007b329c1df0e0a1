package ethtx

import (
	"math/big"

	"github.com/ruteri/liquefaction/delayedcell"
	"github.com/ruteri/liquefaction/interfaces"
)

// Every map Policy keeps is indexed by a struct key, which encoding/json
// cannot serialize directly, so the wire form flattens each map into a
// slice of entries carrying the key fields alongside the value.

type txManagerEntry struct {
	Account interfaces.WalletAddress
	Manager interfaces.Principal
}

type expiryEntry struct {
	Account interfaces.WalletAddress
	Expiry  uint64
}

type subLeaseEntry struct {
	Account                interfaces.WalletAddress
	Dest                   [32]byte
	SubPolicyValue         interfaces.Principal
	SubPolicyWroteAt       uint64
	SubPolicyWritten       bool
	Expiry                 uint64
	SigCommitmentsRequired bool
	UsesDepositControl     bool
}

type balanceEntry struct {
	SubPolicy interfaces.Principal
	Account   interfaces.WalletAddress
	ChainID   uint64
	Amount    *big.Int
}

type pendingLocalEntry struct {
	SubPolicy interfaces.Principal
	Account   interfaces.WalletAddress
	ChainID   uint64
	Amount    *big.Int
	Block     uint64
}

type txCountEntry struct {
	Account interfaces.WalletAddress
	ChainID uint64
	Count   uint64
}

type depositTxEntry struct {
	Hash           [32]byte
	SubPolicy      interfaces.Principal
	BlockTimestamp uint64
}

type txCommitEntry struct {
	Account   interfaces.WalletAddress
	Hash      [32]byte
	SubPolicy interfaces.Principal
	Block     uint64
}

type lastUnlimitedSignerEntry struct {
	Account interfaces.WalletAddress
	ChainID uint64
	To      interfaces.WalletAddress
	Signer  interfaces.Principal
}

type depositControlEntry struct {
	SubPolicy interfaces.Principal
	Enabled   bool
}

type signedIncludedEntry struct {
	Signer    interfaces.WalletAddress
	SubPolicy interfaces.Principal
	TxHash    [32]byte
}

// PolicySnapshot is the full wire form of a Policy's ledgers.
type PolicySnapshot struct {
	TxManagers                 []txManagerEntry
	OurExpiry                  []expiryEntry
	SubLeases                  []subLeaseEntry
	EthBalance                 []balanceEntry
	LocalFinalized             []balanceEntry
	LocalPending               []pendingLocalEntry
	TxCount                    []txCountEntry
	DepositTx                  []depositTxEntry
	DepositSeen                [][32]byte
	TxCommit                   []txCommitEntry
	LastUnlimitedSigner        []lastUnlimitedSignerEntry
	DepositControl             []depositControlEntry
	SignedIncludedTransactions []signedIncludedEntry
}

// ExportState serializes every ledger the policy keeps into a snapshot the
// kernel can persist through a confidentialstore.Backend.
func (p *Policy) ExportState() PolicySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var snap PolicySnapshot

	for account, manager := range p.txManagers {
		snap.TxManagers = append(snap.TxManagers, txManagerEntry{Account: account, Manager: manager})
	}
	for account, expiry := range p.ourExpiry {
		snap.OurExpiry = append(snap.OurExpiry, expiryEntry{Account: account, Expiry: expiry})
	}
	for key, lease := range p.subLeases {
		val, at, written := lease.SubPolicy.Raw()
		snap.SubLeases = append(snap.SubLeases, subLeaseEntry{
			Account:                key.account,
			Dest:                   key.dest,
			SubPolicyValue:         val,
			SubPolicyWroteAt:       at,
			SubPolicyWritten:       written,
			Expiry:                 lease.Expiry,
			SigCommitmentsRequired: lease.SigCommitmentsRequired,
			UsesDepositControl:     lease.UsesDepositControl,
		})
	}
	for key, amount := range p.ethBalance {
		snap.EthBalance = append(snap.EthBalance, balanceEntry{SubPolicy: key.subPolicy, Account: key.account, ChainID: key.chainID, Amount: new(big.Int).Set(amount)})
	}
	for key, amount := range p.localFinalized {
		snap.LocalFinalized = append(snap.LocalFinalized, balanceEntry{SubPolicy: key.subPolicy, Account: key.account, ChainID: key.chainID, Amount: new(big.Int).Set(amount)})
	}
	for key, pending := range p.localPending {
		snap.LocalPending = append(snap.LocalPending, pendingLocalEntry{SubPolicy: key.subPolicy, Account: key.account, ChainID: key.chainID, Amount: new(big.Int).Set(pending.amount), Block: pending.block})
	}
	for key, count := range p.txCount {
		snap.TxCount = append(snap.TxCount, txCountEntry{Account: key.account, ChainID: key.chainID, Count: count})
	}
	for hash, commitment := range p.depositTx {
		snap.DepositTx = append(snap.DepositTx, depositTxEntry{Hash: hash, SubPolicy: commitment.subPolicy, BlockTimestamp: commitment.blockTimestamp})
	}
	for hash := range p.depositSeen {
		snap.DepositSeen = append(snap.DepositSeen, hash)
	}
	for key, commitment := range p.txCommit {
		snap.TxCommit = append(snap.TxCommit, txCommitEntry{Account: key.account, Hash: key.hash, SubPolicy: commitment.subPolicy, Block: commitment.block})
	}
	for key, signer := range p.lastUnlimitedSigner {
		snap.LastUnlimitedSigner = append(snap.LastUnlimitedSigner, lastUnlimitedSignerEntry{Account: key.account, ChainID: key.chainID, To: key.to, Signer: signer})
	}
	for subPolicy, enabled := range p.depositControl {
		snap.DepositControl = append(snap.DepositControl, depositControlEntry{SubPolicy: subPolicy, Enabled: enabled})
	}
	for key, hashes := range p.signedIncludedTransactions {
		for hash := range hashes {
			snap.SignedIncludedTransactions = append(snap.SignedIncludedTransactions, signedIncludedEntry{Signer: key.signer, SubPolicy: key.subPolicy, TxHash: hash})
		}
	}

	return snap
}

// ImportState replaces the policy's entire ledger state with snap. Callers
// must do this before the policy serves any dispatch.
func (p *Policy) ImportState(snap PolicySnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txManagers = make(map[interfaces.WalletAddress]interfaces.Principal, len(snap.TxManagers))
	for _, e := range snap.TxManagers {
		p.txManagers[e.Account] = e.Manager
	}

	p.ourExpiry = make(map[interfaces.WalletAddress]uint64, len(snap.OurExpiry))
	for _, e := range snap.OurExpiry {
		p.ourExpiry[e.Account] = e.Expiry
	}

	p.subLeases = make(map[subLeaseKey]*SubLease, len(snap.SubLeases))
	for _, e := range snap.SubLeases {
		lease := &SubLease{Expiry: e.Expiry, SigCommitmentsRequired: e.SigCommitmentsRequired, UsesDepositControl: e.UsesDepositControl}
		if e.SubPolicyWritten {
			lease.SubPolicy = delayedcell.NewAt(e.SubPolicyValue, e.SubPolicyWroteAt)
		}
		p.subLeases[subLeaseKey{account: e.Account, dest: e.Dest}] = lease
	}

	p.ethBalance = make(map[subBalanceKey]*big.Int, len(snap.EthBalance))
	for _, e := range snap.EthBalance {
		p.ethBalance[subBalanceKey{subPolicy: e.SubPolicy, account: e.Account, chainID: e.ChainID}] = e.Amount
	}

	p.localFinalized = make(map[subBalanceKey]*big.Int, len(snap.LocalFinalized))
	for _, e := range snap.LocalFinalized {
		p.localFinalized[subBalanceKey{subPolicy: e.SubPolicy, account: e.Account, chainID: e.ChainID}] = e.Amount
	}

	p.localPending = make(map[subBalanceKey]*pendingLocal, len(snap.LocalPending))
	for _, e := range snap.LocalPending {
		p.localPending[subBalanceKey{subPolicy: e.SubPolicy, account: e.Account, chainID: e.ChainID}] = &pendingLocal{amount: e.Amount, block: e.Block}
	}

	p.txCount = make(map[accountChainKey]uint64, len(snap.TxCount))
	for _, e := range snap.TxCount {
		p.txCount[accountChainKey{account: e.Account, chainID: e.ChainID}] = e.Count
	}

	p.depositTx = make(map[[32]byte]depositCommitment, len(snap.DepositTx))
	for _, e := range snap.DepositTx {
		p.depositTx[e.Hash] = depositCommitment{subPolicy: e.SubPolicy, blockTimestamp: e.BlockTimestamp}
	}

	p.depositSeen = make(map[[32]byte]bool, len(snap.DepositSeen))
	for _, hash := range snap.DepositSeen {
		p.depositSeen[hash] = true
	}

	p.txCommit = make(map[txCommitKey]txCommitment, len(snap.TxCommit))
	for _, e := range snap.TxCommit {
		p.txCommit[txCommitKey{account: e.Account, hash: e.Hash}] = txCommitment{subPolicy: e.SubPolicy, block: e.Block}
	}

	p.lastUnlimitedSigner = make(map[destKey]interfaces.Principal, len(snap.LastUnlimitedSigner))
	for _, e := range snap.LastUnlimitedSigner {
		p.lastUnlimitedSigner[destKey{account: e.Account, chainID: e.ChainID, to: e.To}] = e.Signer
	}

	p.depositControl = make(map[interfaces.Principal]bool, len(snap.DepositControl))
	for _, e := range snap.DepositControl {
		p.depositControl[e.SubPolicy] = e.Enabled
	}

	p.signedIncludedTransactions = make(map[signerSubPolicyKey]map[[32]byte]bool, len(snap.SignedIncludedTransactions))
	for _, e := range snap.SignedIncludedTransactions {
		key := signerSubPolicyKey{signer: e.Signer, subPolicy: e.SubPolicy}
		if p.signedIncludedTransactions[key] == nil {
			p.signedIncludedTransactions[key] = make(map[[32]byte]bool)
		}
		p.signedIncludedTransactions[key][e.TxHash] = true
	}
}
