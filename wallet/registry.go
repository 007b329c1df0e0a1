// Package wallet implements the Encumbered-Wallet Registry (spec.md §4.2,
// component D): key generation, ownership, encumbrance leases, the signing
// gate, and confidential key export. It is grounded in kms/simple_kms.go's
// shape (one mutex-guarded struct owning all state, small request/response
// helper types) but generates random per-wallet keys instead of deriving
// them deterministically, since spec.md §3 requires create_wallet to mint a
// fresh keypair every time.
package wallet

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/cryptoutils"
	"github.com/ruteri/liquefaction/delayedcell"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
)

// AttendedEntry is one row of a principal's attended-wallet log.
type AttendedEntry struct {
	AccountIndex  interfaces.AccountIndex
	CreationBlock uint64
}

// Lease is one entry of encumbrance[walletAddress][asset]. Policy is stored
// in a delayed cell per spec.md §3; Expiry is a plain field.
type Lease struct {
	Policy delayedcell.Cell[interfaces.Principal]
	Expiry uint64
}

// Wallet is the full custodial record for one secp256k1 key.
type Wallet struct {
	Address    interfaces.WalletAddress
	PublicKey  []byte
	PrivateKey []byte // zeroed by DestroyExportedKey

	Owner     delayedcell.Cell[interfaces.Principal]
	MaxExpiry uint64

	ExportRequested    delayedcell.Cell[bool]
	ExportCounterparty [32]byte

	Leases map[interfaces.AssetTag]*Lease

	destroyed bool
}

type ownerKey struct {
	owner interfaces.Principal
	idx   interfaces.AccountIndex
}

// Registry owns every wallet and the (principal, accountIndex) -> wallet
// index used to resolve create_wallet/get_*/transfer_ownership/
// enter_encumbrance calls. Per spec.md §9 ("Mutable singletons") it is a
// process-lifetime value the top-level dispatcher owns, not a per-request
// object.
type Registry struct {
	mu sync.Mutex

	wallets    map[interfaces.WalletAddress]*Wallet
	ownerIndex map[ownerKey]interfaces.WalletAddress
	attended   map[interfaces.Principal][]AttendedEntry

	crypto   interfaces.HostCrypto
	policies interfaces.PolicyRegistry

	attestation cryptoutils.AttestationProvider
}

func NewRegistry(crypto interfaces.HostCrypto, policies interfaces.PolicyRegistry) *Registry {
	return &Registry{
		wallets:     make(map[interfaces.WalletAddress]*Wallet),
		ownerIndex:  make(map[ownerKey]interfaces.WalletAddress),
		attended:    make(map[interfaces.Principal][]AttendedEntry),
		crypto:      crypto,
		policies:    policies,
		attestation: cryptoutils.NullAttestationProvider{},
	}
}

// SetAttestationProvider installs the provider ExportKey uses to quote the
// public half of the export private key passed to it. Registries default to NullAttestationProvider, matching
// hosts that don't run inside a TEE.
func (r *Registry) SetAttestationProvider(p cryptoutils.AttestationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attestation = p
}

// CreateWallet generates a fresh secp256k1 keypair and installs ownership
// under (caller, accountIndex). Idempotent: returns created=false if a
// wallet already exists under that pair.
func (r *Registry) CreateWallet(caller interfaces.Principal, accountIndex interfaces.AccountIndex, block uint64) (interfaces.WalletAddress, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ownerKey{caller, accountIndex}
	if addr, exists := r.ownerIndex[key]; exists {
		return addr, false, nil
	}

	pubkey, privkey, err := r.crypto.GenSecp256k1Keypair()
	if err != nil {
		return interfaces.WalletAddress{}, false, kernelerr.New("create_wallet", kernelerr.Unknown, err)
	}
	addrBytes, err := r.crypto.K256ToEthAddress(pubkey)
	if err != nil {
		return interfaces.WalletAddress{}, false, kernelerr.New("create_wallet", kernelerr.Unknown, err)
	}
	addr := interfaces.WalletAddress(addrBytes)

	w := &Wallet{
		Address:   addr,
		PublicKey: pubkey,
		Leases:    make(map[interfaces.AssetTag]*Lease),
	}
	w.PrivateKey = privkey
	if err := w.Owner.UpdateTo("create_wallet", caller, block); err != nil {
		return interfaces.WalletAddress{}, false, err
	}

	r.wallets[addr] = w
	r.ownerIndex[key] = addr
	r.attended[caller] = append(r.attended[caller], AttendedEntry{AccountIndex: accountIndex, CreationBlock: block})

	return addr, true, nil
}

func (r *Registry) lookupOwned(op string, caller interfaces.Principal, accountIndex interfaces.AccountIndex) (*Wallet, error) {
	addr, ok := r.ownerIndex[ownerKey{caller, accountIndex}]
	if !ok {
		return nil, kernelerr.New(op, kernelerr.WalletNotFound, nil)
	}
	return r.wallets[addr], nil
}

// GetPublicKey returns the wallet's public key, requiring the caller to
// currently, and finalizedly, own the wallet.
func (r *Registry) GetPublicKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex, block uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.lookupOwned("get_public_key", caller, accountIndex)
	if err != nil {
		return nil, err
	}
	if err := r.checkOwnershipFinalized("get_public_key", w, caller, block); err != nil {
		return nil, err
	}
	return w.PublicKey, nil
}

// GetAddress returns the wallet's address under the same authorization rule
// as GetPublicKey.
func (r *Registry) GetAddress(caller interfaces.Principal, accountIndex interfaces.AccountIndex, block uint64) (interfaces.WalletAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.lookupOwned("get_address", caller, accountIndex)
	if err != nil {
		return interfaces.WalletAddress{}, err
	}
	if err := r.checkOwnershipFinalized("get_address", w, caller, block); err != nil {
		return interfaces.WalletAddress{}, err
	}
	return w.Address, nil
}

func (r *Registry) checkOwnershipFinalized(op string, w *Wallet, caller interfaces.Principal, block uint64) error {
	owner, err := w.Owner.Finalized(op, block)
	if err != nil {
		return err
	}
	if owner != caller {
		return kernelerr.New(op, kernelerr.NotAuthorized, nil)
	}
	return nil
}

// TransferOwnership atomically moves a wallet to a new owner under a fresh
// random account index, blocking the old owner from this block onward and
// the new owner until the next block (delayed finalization). Unlike the
// upstream implementation's silent overwrite on collision (spec.md open
// question #4), a colliding fresh index is retried.
func (r *Registry) TransferOwnership(caller interfaces.Principal, accountIndex interfaces.AccountIndex, newOwner interfaces.Principal, block uint64) (interfaces.AccountIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := ownerKey{caller, accountIndex}
	addr, ok := r.ownerIndex[oldKey]
	if !ok {
		return interfaces.AccountIndex{}, kernelerr.New("transfer_ownership", kernelerr.WalletNotFound, nil)
	}
	w := r.wallets[addr]

	if _, _, written := w.ExportRequested.Raw(); written {
		return interfaces.AccountIndex{}, kernelerr.New("transfer_ownership", kernelerr.Exported, nil)
	}

	delete(r.ownerIndex, oldKey)

	const maxRetries = 8
	var newIdx interfaces.AccountIndex
	for attempt := 0; ; attempt++ {
		idx, err := r.crypto.RandBytes(32, "wallet-account-index")
		if err != nil {
			return interfaces.AccountIndex{}, kernelerr.New("transfer_ownership", kernelerr.Unknown, err)
		}
		copy(newIdx[:], idx)
		if _, collides := r.ownerIndex[ownerKey{newOwner, newIdx}]; !collides {
			break
		}
		if attempt >= maxRetries {
			return interfaces.AccountIndex{}, kernelerr.New("transfer_ownership", kernelerr.Unknown, fmt.Errorf("could not find a free account index after %d attempts", attempt+1))
		}
	}

	r.ownerIndex[ownerKey{newOwner, newIdx}] = addr
	if err := w.Owner.UpdateTo("transfer_ownership", newOwner, block); err != nil {
		return interfaces.AccountIndex{}, err
	}
	r.attended[newOwner] = append(r.attended[newOwner], AttendedEntry{AccountIndex: newIdx, CreationBlock: block})

	return newIdx, nil
}

// EnterEncumbrance validates and installs leases for a set of assets,
// then synchronously notifies the policy, unwinding the whole operation if
// the policy vetoes it.
func (r *Registry) EnterEncumbrance(caller interfaces.Principal, accountIndex interfaces.AccountIndex, assets []interfaces.AssetTag, policy interfaces.Principal, expiry uint64, data []byte, block uint64, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "enter_encumbrance"

	if expiry <= now {
		return kernelerr.New(op, kernelerr.InvalidArgument, fmt.Errorf("expiry %d not in the future (now=%d)", expiry, now))
	}
	if (policy == interfaces.Principal{}) {
		return kernelerr.New(op, kernelerr.InvalidArgument, fmt.Errorf("policy principal must not be zero"))
	}

	w, err := r.lookupOwned(op, caller, accountIndex)
	if err != nil {
		return err
	}
	if _, _, written := w.ExportRequested.Raw(); written {
		return kernelerr.New(op, kernelerr.Exported, nil)
	}

	type undo struct {
		asset   interfaces.AssetTag
		hadPrev bool
		prev    *Lease
	}
	var undos []undo

	rollback := func() {
		for _, u := range undos {
			if u.hadPrev {
				w.Leases[u.asset] = u.prev
			} else {
				delete(w.Leases, u.asset)
			}
		}
	}

	prevMaxExpiry := w.MaxExpiry

	for _, asset := range assets {
		prev, exists := w.Leases[asset]
		if exists && prev.Expiry > now {
			rollback()
			w.MaxExpiry = prevMaxExpiry
			return kernelerr.New(op, kernelerr.AlreadyEncumbered, nil)
		}
		undos = append(undos, undo{asset: asset, hadPrev: exists, prev: prev})

		lease := &Lease{Expiry: expiry}
		if err := lease.Policy.UpdateTo(op, policy, block); err != nil {
			rollback()
			w.MaxExpiry = prevMaxExpiry
			return err
		}
		w.Leases[asset] = lease
	}

	if expiry > w.MaxExpiry {
		w.MaxExpiry = expiry
	}

	spi, ok := r.policies.Resolve(policy)
	if !ok {
		rollback()
		w.MaxExpiry = prevMaxExpiry
		return kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("policy %s is not registered", policy))
	}
	if err := spi.NotifyEnrollment(caller, w.Address, assets, expiry, data); err != nil {
		rollback()
		w.MaxExpiry = prevMaxExpiry
		return kernelerr.New(op, kernelerr.NotAuthorized, err)
	}

	return nil
}

// SignMessage classifies payload, checks that caller is the unexpired
// finalized leaseholder of its asset, and signs Keccak(payload).
func (r *Registry) SignMessage(caller interfaces.Principal, walletAddr interfaces.WalletAddress, payload []byte, block uint64, now uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "sign_message"

	w, err := r.requireLive(op, walletAddr, block)
	if err != nil {
		return nil, err
	}

	asset := assetclass.Classify(payload)
	if asset.IsZero() {
		return nil, kernelerr.New(op, kernelerr.AssetUnknown, nil)
	}

	if err := r.checkLease(op, w, asset, caller, block, now); err != nil {
		return nil, err
	}

	digest := r.crypto.Keccak256(payload)
	sig, err := r.crypto.SignPrehashed(w.PrivateKey, digest)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.Unknown, err)
	}
	return sig, nil
}

// SignTypedData derives the asset from the domain name only, then signs the
// EIP-712 digest Keccak(0x1901 || domainSeparator || Keccak(typeHash || encodedData)).
func (r *Registry) SignTypedData(caller interfaces.Principal, walletAddr interfaces.WalletAddress, domain assetclass.TypedDataDomain, typeHash [32]byte, encodedData []byte, block uint64, now uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "sign_typed_data"

	w, err := r.requireLive(op, walletAddr, block)
	if err != nil {
		return nil, err
	}

	asset := assetclass.ClassifyTypedData(domain)
	if asset.IsZero() {
		return nil, kernelerr.New(op, kernelerr.AssetUnknown, nil)
	}

	if err := r.checkLease(op, w, asset, caller, block, now); err != nil {
		return nil, err
	}

	domainSeparator, err := assetclass.DomainSeparator(domain)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.InvalidArgument, err)
	}
	digest := assetclass.TypedDataDigest(domainSeparator, typeHash, encodedData)

	sig, err := r.crypto.SignPrehashed(w.PrivateKey, digest)
	if err != nil {
		return nil, kernelerr.New(op, kernelerr.Unknown, err)
	}
	return sig, nil
}

func (r *Registry) checkLease(op string, w *Wallet, asset interfaces.AssetTag, caller interfaces.Principal, block uint64, now uint64) error {
	lease, ok := w.Leases[asset]
	if !ok {
		return kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("no lease for asset %s", asset))
	}
	policy, err := lease.Policy.Finalized(op, block)
	if err != nil {
		return err
	}
	if policy != caller {
		return kernelerr.New(op, kernelerr.NotAuthorized, nil)
	}
	if lease.Expiry <= now {
		return kernelerr.New(op, kernelerr.Expired, nil)
	}
	return nil
}

func (r *Registry) requireLive(op string, walletAddr interfaces.WalletAddress, block uint64) (*Wallet, error) {
	w, ok := r.wallets[walletAddr]
	if !ok {
		return nil, kernelerr.New(op, kernelerr.WalletNotFound, nil)
	}
	if w.destroyed {
		return nil, kernelerr.New(op, kernelerr.Exported, nil)
	}
	if exported, _, written := w.ExportRequested.Raw(); written && exported {
		// exportRequested need not be finalized for writes to be refused:
		// the state machine moves Live -> ExportPending the instant the
		// request is written, not once it finalizes.
		return nil, kernelerr.New(op, kernelerr.Exported, nil)
	}
	return w, nil
}

// keyExportTag packs the ABI tuple ("Key export", walletAddress) a
// counterparty must encrypt to the registry's export key to prove control
// of the matching secret.
func keyExportTag(walletAddr interfaces.WalletAddress) ([]byte, error) {
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: stringTy}, {Type: addressTy}}
	return args.Pack("Key export", common.Address(walletAddr))
}

// RequestKeyExport is allowed only once the wallet's max lease expiry is
// strictly in the past and no export has previously been requested. The
// counterparty must prove control of its secret key by encrypting the
// expected tag to the export public key whose private half is passed in as
// registryExportPrivkey; the registry keeps no export key of its own.
func (r *Registry) RequestKeyExport(caller interfaces.Principal, accountIndex interfaces.AccountIndex, counterpartyPk [32]byte, tagCiphertext []byte, tagNonce [24]byte, block uint64, now uint64, registryExportPrivkey [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "request_key_export"

	w, err := r.lookupOwned(op, caller, accountIndex)
	if err != nil {
		return err
	}
	if _, _, written := w.ExportRequested.Raw(); written {
		return kernelerr.New(op, kernelerr.Exported, fmt.Errorf("export already requested"))
	}
	if w.MaxExpiry >= now {
		return kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("max lease expiry %d has not yet passed (now=%d)", w.MaxExpiry, now))
	}

	expectedTag, err := keyExportTag(w.Address)
	if err != nil {
		return kernelerr.New(op, kernelerr.Unknown, err)
	}
	plaintext, err := r.crypto.OpenX25519(counterpartyPk, registryExportPrivkey, tagNonce, tagCiphertext)
	if err != nil {
		return kernelerr.New(op, kernelerr.WrongExportTag, err)
	}
	if string(plaintext) != string(expectedTag) {
		return kernelerr.New(op, kernelerr.WrongExportTag, nil)
	}

	w.ExportCounterparty = counterpartyPk
	if err := w.ExportRequested.UpdateTo(op, true, block); err != nil {
		return err
	}
	return nil
}

// ExportKey re-encrypts the private key to the recorded counterparty once
// the export request has finalized. Alongside the ciphertext it returns a
// quote whose report data is registryExportPrivkey's public half. The key
// is supplied by the caller of each export call, so the quote binds that
// public key to the host that produced the quote; it does not show where the
// key was generated.
func (r *Registry) ExportKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex, block uint64, registryExportPrivkey [32]byte) (ciphertext []byte, nonce [24]byte, quote []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "export_key"

	w, lookupErr := r.lookupOwned(op, caller, accountIndex)
	if lookupErr != nil {
		return nil, nonce, nil, lookupErr
	}

	requested, finalizeErr := w.ExportRequested.Finalized(op, block)
	if finalizeErr != nil {
		return nil, nonce, nil, finalizeErr
	}
	if !requested {
		return nil, nonce, nil, kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("export was never requested"))
	}

	ciphertext, nonce, err = r.crypto.SealX25519(w.ExportCounterparty, registryExportPrivkey, w.PrivateKey)
	if err != nil {
		return nil, nonce, nil, kernelerr.New(op, kernelerr.Unknown, err)
	}

	exportPubkey, err := cryptoutils.DeriveX25519Pubkey(registryExportPrivkey)
	if err != nil {
		return nil, nonce, nil, kernelerr.New(op, kernelerr.Unknown, err)
	}
	var reportData [64]byte
	copy(reportData[:], exportPubkey[:])
	quote, err = r.attestation.Attest(reportData)
	if err != nil {
		return nil, nonce, nil, kernelerr.New(op, kernelerr.Unknown, fmt.Errorf("attesting export key: %w", err))
	}

	return ciphertext, nonce, quote, nil
}

// DestroyExportedKey overwrites the private-key slot, moving the wallet to
// its terminal Destroyed state.
func (r *Registry) DestroyExportedKey(caller interfaces.Principal, accountIndex interfaces.AccountIndex, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "destroy_exported_key"

	w, err := r.lookupOwned(op, caller, accountIndex)
	if err != nil {
		return err
	}

	requested, err := w.ExportRequested.Finalized(op, block)
	if err != nil {
		return err
	}
	if !requested {
		return kernelerr.New(op, kernelerr.NotAuthorized, fmt.Errorf("export was never requested"))
	}

	for i := range w.PrivateKey {
		w.PrivateKey[i] = 0
	}
	w.destroyed = true
	return nil
}

// AttendedWallets returns the append-only attended-wallet log for principal.
func (r *Registry) AttendedWallets(principal interfaces.Principal) []AttendedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AttendedEntry, len(r.attended[principal]))
	copy(out, r.attended[principal])
	return out
}
