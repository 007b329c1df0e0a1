// Package kernel implements the single-threaded, transactional-per-dispatch
// trust kernel (spec.md §5, §9): it owns the wallet registry, the
// Ethereum-transaction policy and the policy table as process-lifetime
// values, threads caller principal/block/timestamp explicitly through every
// operation, and serializes dispatch with a single mutex — there is no
// intra-operation suspension or cancellation, matching the teacher's
// mutex-guarded, single-struct services (kms/simple_kms.go, registry/registry.go).
package kernel

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/cryptoutils"
	"github.com/ruteri/liquefaction/ethtx"
	"github.com/ruteri/liquefaction/host"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/ruteri/liquefaction/metrics"
	"github.com/ruteri/liquefaction/wallet"
)

// PolicyRegistry is the mutable (principal -> policy) table every operation
// resolves against, shared between the wallet registry and the
// Ethereum-transaction policy (spec.md §9, "cycles / back-references").
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[interfaces.Principal]interfaces.PolicySPI
}

func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: make(map[interfaces.Principal]interfaces.PolicySPI)}
}

func (r *PolicyRegistry) Resolve(p interfaces.Principal) (interfaces.PolicySPI, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spi, ok := r.policies[p]
	return spi, ok
}

func (r *PolicyRegistry) Register(p interfaces.Principal, spi interfaces.PolicySPI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p] = spi
}

var _ interfaces.PolicyRegistry = (*PolicyRegistry)(nil)

// Kernel is the top-level dispatcher. One instance lives for the lifetime of
// the process; the host driver (transport/httpapi or a direct embedder)
// calls its methods one at a time.
type Kernel struct {
	mu sync.Mutex

	Wallets  *wallet.Registry
	EthTx    *ethtx.Policy
	Policies *PolicyRegistry
	Clock    *host.Clock
	Crypto   interfaces.HostCrypto

	ethTxPrincipal interfaces.Principal
}

// Config bundles the host-supplied dependencies the kernel needs to boot.
type Config struct {
	Crypto         interfaces.HostCrypto
	Oracle         interfaces.BlockHashOracle
	Verifier       interfaces.ProofVerifier
	EthTxPrincipal interfaces.Principal

	// Attestation quotes the public half of the export private key passed
	// to ExportKey. Defaults to
	// cryptoutils.NullAttestationProvider{} when left nil, matching hosts
	// that don't run inside a TEE.
	Attestation cryptoutils.AttestationProvider
}

// New assembles a fresh kernel: a wallet registry and an Ethereum-transaction
// policy sharing one policy table, with the policy pre-registered under
// EthTxPrincipal so enter_encumbrance can resolve it immediately.
func New(cfg Config) *Kernel {
	policies := NewPolicyRegistry()
	clock := host.NewClock()
	wallets := wallet.NewRegistry(cfg.Crypto, policies)
	if cfg.Attestation != nil {
		wallets.SetAttestationProvider(cfg.Attestation)
	}
	ethPolicy := ethtx.NewPolicy(cfg.EthTxPrincipal, wallets, cfg.Oracle, cfg.Verifier, cfg.Crypto, policies)
	policies.Register(cfg.EthTxPrincipal, ethPolicy)

	return &Kernel{
		Wallets:        wallets,
		EthTx:          ethPolicy,
		Policies:       policies,
		Clock:          clock,
		Crypto:         cfg.Crypto,
		ethTxPrincipal: cfg.EthTxPrincipal,
	}
}

// AdvanceBlock moves the dispatch clock forward by one, called by the host
// driver between dispatches that must observe an intervening finalization
// (spec.md §5: "block number... advances between dispatches"). Multiple
// dispatches may share a block if the driver never calls this in between.
func (k *Kernel) AdvanceBlock() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Clock.Advance()
}

func (k *Kernel) BlockNumber() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Clock.BlockNumber()
}

// --- Wallet registry operations (spec.md §4.2) ---

func (k *Kernel) CreateWallet(caller interfaces.Principal, accountIndex interfaces.AccountIndex) (interfaces.WalletAddress, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	addr, created, err := k.Wallets.CreateWallet(caller, accountIndex, k.Clock.BlockNumber())
	if err == nil && created {
		metrics.WalletsCreated.Inc()
	}
	return addr, created, err
}

func (k *Kernel) GetPublicKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.GetPublicKey(caller, accountIndex, k.Clock.BlockNumber())
}

func (k *Kernel) GetAddress(caller interfaces.Principal, accountIndex interfaces.AccountIndex) (interfaces.WalletAddress, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.GetAddress(caller, accountIndex, k.Clock.BlockNumber())
}

func (k *Kernel) TransferOwnership(caller interfaces.Principal, accountIndex interfaces.AccountIndex, newOwner interfaces.Principal) (interfaces.AccountIndex, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.TransferOwnership(caller, accountIndex, newOwner, k.Clock.BlockNumber())
}

func (k *Kernel) EnterEncumbrance(caller interfaces.Principal, accountIndex interfaces.AccountIndex, assets []interfaces.AssetTag, policy interfaces.Principal, expiry uint64, data []byte, now uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	err := k.Wallets.EnterEncumbrance(caller, accountIndex, assets, policy, expiry, data, k.Clock.BlockNumber(), now)
	if err != nil {
		metrics.LeasesDenied.WithLabelValues(kernelerr.KindOf(err).String()).Inc()
		return err
	}
	metrics.LeasesGranted.Inc()
	return nil
}

func (k *Kernel) SignMessage(caller interfaces.Principal, walletAddr interfaces.WalletAddress, payload []byte, now uint64) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sig, err := k.Wallets.SignMessage(caller, walletAddr, payload, k.Clock.BlockNumber(), now)
	metrics.SignAttempts.WithLabelValues(kernelerr.KindOf(err).String()).Inc()
	return sig, err
}

func (k *Kernel) SignTypedData(caller interfaces.Principal, walletAddr interfaces.WalletAddress, domain assetclass.TypedDataDomain, typeHash [32]byte, encodedData []byte, now uint64) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sig, err := k.Wallets.SignTypedData(caller, walletAddr, domain, typeHash, encodedData, k.Clock.BlockNumber(), now)
	metrics.SignAttempts.WithLabelValues(kernelerr.KindOf(err).String()).Inc()
	return sig, err
}

func (k *Kernel) RequestKeyExport(caller interfaces.Principal, accountIndex interfaces.AccountIndex, counterpartyPk [32]byte, tagCiphertext []byte, tagNonce [24]byte, now uint64, registryExportPrivkey [32]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.RequestKeyExport(caller, accountIndex, counterpartyPk, tagCiphertext, tagNonce, k.Clock.BlockNumber(), now, registryExportPrivkey)
}

func (k *Kernel) ExportKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex, registryExportPrivkey [32]byte) ([]byte, [24]byte, []byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.ExportKey(caller, accountIndex, k.Clock.BlockNumber(), registryExportPrivkey)
}

func (k *Kernel) DestroyExportedKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.DestroyExportedKey(caller, accountIndex, k.Clock.BlockNumber())
}

func (k *Kernel) AttendedWallets(principal interfaces.Principal) []wallet.AttendedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Wallets.AttendedWallets(principal)
}

// --- Ethereum-transaction policy operations (spec.md §4.6) ---

func (k *Kernel) EnterSubLease(caller interfaces.Principal, account interfaces.WalletAddress, destinations []ethtx.Destination, subPolicy interfaces.Principal, expiry uint64, sigCommitmentsRequired bool, usesDepositControl bool, now uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.EnterSubLease(caller, account, destinations, subPolicy, expiry, sigCommitmentsRequired, usesDepositControl, k.Clock.BlockNumber(), now)
}

func (k *Kernel) CommitToDeposit(caller interfaces.Principal, signedTxHash [32]byte, now uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.CommitToDeposit(caller, signedTxHash, now)
}

func (k *Kernel) DepositFunds(caller interfaces.Principal, signedTxRaw []byte, proof interfaces.TxInclusionProof, headerRLP []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.DepositFunds(caller, signedTxRaw, proof, headerRLP)
}

func (k *Kernel) DepositLocalFunds(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64, amount *big.Int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.EthTx.DepositLocalFunds(caller, account, chainID, amount, k.Clock.BlockNumber())
}

func (k *Kernel) FinalizeLocalFunds(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.FinalizeLocalFunds(caller, account, chainID, k.Clock.BlockNumber())
}

func (k *Kernel) CommitToTransaction(caller interfaces.Principal, account interfaces.WalletAddress, tx *ethtx.UnsignedTx) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.CommitToTransaction(caller, account, tx, k.Clock.BlockNumber())
}

func (k *Kernel) SignTransaction(caller interfaces.Principal, account interfaces.WalletAddress, tx *ethtx.UnsignedTx, now uint64) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.SignTransaction(caller, account, tx, k.Clock.BlockNumber(), now)
}

func (k *Kernel) ProveTransactionInclusion(signedTxRaw []byte, proof interfaces.TxInclusionProof, headerRLP []byte) (*big.Int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	payout, err := k.EthTx.ProveTransactionInclusion(signedTxRaw, proof, headerRLP, k.Clock.BlockNumber())
	if err == nil {
		metrics.SubBalanceDelta.WithLabelValues("debit").Add(1)
	}
	return payout, err
}

func (k *Kernel) ReleaseCommitmentRequirement(caller interfaces.Principal, account interfaces.WalletAddress, chainID uint64, to interfaces.WalletAddress) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.EthTx.ReleaseCommitmentRequirement(caller, account, chainID, to, k.Clock.BlockNumber())
}

// RegisterPolicy installs an externally implemented sub-policy so it can be
// resolved by enter_encumbrance/enter_sub_lease. Custom sub-policies are the
// intended way third parties partition authority further (spec.md
// GLOSSARY, "Sub-policy").
func (k *Kernel) RegisterPolicy(p interfaces.Principal, spi interfaces.PolicySPI) error {
	if p == (interfaces.Principal{}) {
		return fmt.Errorf("cannot register the zero principal as a policy")
	}
	k.Policies.Register(p, spi)
	return nil
}
