package wallet

import (
	"testing"

	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/host"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/stretchr/testify/require"
)

type stubPolicy struct {
	notified bool
	veto     error
	lastData []byte
}

func (s *stubPolicy) NotifyEnrollment(manager interfaces.Principal, account interfaces.WalletAddress, assets []interfaces.AssetTag, expiration uint64, data []byte) error {
	s.notified = true
	s.lastData = data
	return s.veto
}

type memPolicyRegistry struct {
	policies map[interfaces.Principal]interfaces.PolicySPI
}

func newMemPolicyRegistry() *memPolicyRegistry {
	return &memPolicyRegistry{policies: make(map[interfaces.Principal]interfaces.PolicySPI)}
}

func (m *memPolicyRegistry) Resolve(p interfaces.Principal) (interfaces.PolicySPI, bool) {
	spi, ok := m.policies[p]
	return spi, ok
}

func (m *memPolicyRegistry) Register(p interfaces.Principal, spi interfaces.PolicySPI) {
	m.policies[p] = spi
}

func testAccountIndex(b byte) interfaces.AccountIndex {
	var idx interfaces.AccountIndex
	idx[0] = b
	return idx
}

func testPrincipal(b byte) interfaces.Principal {
	var p interfaces.Principal
	p[0] = b
	return p
}

func newTestRegistry() (*Registry, *memPolicyRegistry) {
	policies := newMemPolicyRegistry()
	return NewRegistry(host.NewCrypto(), policies), policies
}

func TestCreateWalletIsIdempotentPerAccountIndex(t *testing.T) {
	r, _ := newTestRegistry()
	alice := testPrincipal(1)
	idx := testAccountIndex(1)

	addr1, created1, err := r.CreateWallet(alice, idx, 10)
	require.NoError(t, err)
	require.True(t, created1)

	addr2, created2, err := r.CreateWallet(alice, idx, 11)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, addr1, addr2)
}

func TestGetAddressPendingInSameBlockAsCreate(t *testing.T) {
	r, _ := newTestRegistry()
	alice := testPrincipal(1)
	idx := testAccountIndex(1)

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	_, err = r.GetAddress(alice, idx, 5)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))

	_, err = r.GetAddress(alice, idx, 6)
	require.NoError(t, err)
}

func TestEnterEncumbranceSucceedsInCreationBlock(t *testing.T) {
	r, policies := newTestRegistry()
	alice := testPrincipal(1)
	policyPrincipal := testPrincipal(2)
	idx := testAccountIndex(1)

	spi := &stubPolicy{}
	policies.Register(policyPrincipal, spi)

	addr, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	err = r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, policyPrincipal, 100, []byte("hello"), 5, 1)
	require.NoError(t, err)
	require.True(t, spi.notified)

	// Signing in the same block fails: the lease's policy cell is pending.
	_, err = r.SignMessage(policyPrincipal, addr, []byte{0x19, 0x45, 'h', 'i'}, 5, 1)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))

	// One block later the lease is finalized and signing succeeds.
	sig, err := r.SignMessage(policyPrincipal, addr, []byte{0x19, 0x45, 'h', 'i'}, 6, 1)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestEnterEncumbranceVetoRollsBackLease(t *testing.T) {
	r, policies := newTestRegistry()
	alice := testPrincipal(1)
	policyPrincipal := testPrincipal(2)
	idx := testAccountIndex(1)

	spi := &stubPolicy{veto: kernelerr.New("test", kernelerr.NotAuthorized, nil)}
	policies.Register(policyPrincipal, spi)

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	err = r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, policyPrincipal, 100, nil, 5, 1)
	require.Error(t, err)

	// A second enrollment attempt for the same asset must not see a stale
	// lease left behind by the vetoed attempt.
	spi.veto = nil
	err = r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, policyPrincipal, 100, nil, 6, 1)
	require.NoError(t, err)
}

func TestEnterEncumbranceRejectsUnexpiredLease(t *testing.T) {
	r, policies := newTestRegistry()
	alice := testPrincipal(1)
	policyPrincipal := testPrincipal(2)
	idx := testAccountIndex(1)

	policies.Register(policyPrincipal, &stubPolicy{})

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	assets := []interfaces.AssetTag{assetclass.EthSignedMessageTag}
	require.NoError(t, r.EnterEncumbrance(alice, idx, assets, policyPrincipal, 100, nil, 5, 1))

	err = r.EnterEncumbrance(alice, idx, assets, policyPrincipal, 200, nil, 6, 2)
	require.Equal(t, kernelerr.AlreadyEncumbered, kernelerr.KindOf(err))
}

func TestTransferOwnershipAtomicity(t *testing.T) {
	r, _ := newTestRegistry()
	alice := testPrincipal(1)
	bob := testPrincipal(2)
	idx := testAccountIndex(1)

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	// Ownership cell must finalize before alice can read her own wallet.
	_, err = r.GetAddress(alice, idx, 6)
	require.NoError(t, err)

	newIdx, err := r.TransferOwnership(alice, idx, bob, 6)
	require.NoError(t, err)

	// Within the transfer block, alice's old index is gone immediately.
	_, err = r.GetAddress(alice, idx, 6)
	require.Equal(t, kernelerr.WalletNotFound, kernelerr.KindOf(err))

	// Bob's new ownership is not yet finalized in the same block.
	_, err = r.GetAddress(bob, newIdx, 6)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))

	// One block later bob has full access.
	_, err = r.GetAddress(bob, newIdx, 7)
	require.NoError(t, err)
}

func TestSignMessageRejectsUnclassifiedPayload(t *testing.T) {
	r, policies := newTestRegistry()
	alice := testPrincipal(1)
	policyPrincipal := testPrincipal(2)
	idx := testAccountIndex(1)
	policies.Register(policyPrincipal, &stubPolicy{})

	addr, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)
	require.NoError(t, r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, policyPrincipal, 100, nil, 5, 1))

	_, err = r.SignMessage(policyPrincipal, addr, []byte{0x99, 0x00}, 6, 1)
	require.Equal(t, kernelerr.AssetUnknown, kernelerr.KindOf(err))
}

func TestSignMessageRejectsExpiredLease(t *testing.T) {
	r, policies := newTestRegistry()
	alice := testPrincipal(1)
	policyPrincipal := testPrincipal(2)
	idx := testAccountIndex(1)
	policies.Register(policyPrincipal, &stubPolicy{})

	addr, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)
	require.NoError(t, r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, policyPrincipal, 10, nil, 5, 1))

	_, err = r.SignMessage(policyPrincipal, addr, []byte{0x19, 0x45}, 6, 20)
	require.Equal(t, kernelerr.Expired, kernelerr.KindOf(err))
}

func TestKeyExportLifecycle(t *testing.T) {
	r, _ := newTestRegistry()
	crypto := host.NewCrypto()
	alice := testPrincipal(1)
	idx := testAccountIndex(1)

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	exportPub, exportPriv, err := crypto.GenX25519Keypair()
	require.NoError(t, err)
	counterPub, counterPriv, err := crypto.GenX25519Keypair()
	require.NoError(t, err)

	addr, err := r.GetAddress(alice, idx, 6)
	require.NoError(t, err)

	tag, err := keyExportTag(addr)
	require.NoError(t, err)
	ct, nonce, err := crypto.SealX25519(exportPub, counterPriv, tag)
	require.NoError(t, err)

	// Too early: max expiry (0, since no lease was ever entered) is not
	// strictly in the past relative to now=0.
	err = r.RequestKeyExport(alice, idx, counterPub, ct, nonce, 6, 0, exportPriv)
	require.Equal(t, kernelerr.NotAuthorized, kernelerr.KindOf(err))

	require.NoError(t, r.RequestKeyExport(alice, idx, counterPub, ct, nonce, 6, 1, exportPriv))

	// Writes are refused immediately once export is requested (ExportPending).
	err = r.EnterEncumbrance(alice, idx, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, testPrincipal(9), 100, nil, 6, 1)
	require.Equal(t, kernelerr.Exported, kernelerr.KindOf(err))

	// export_key requires the request to finalize first.
	_, _, _, err = r.ExportKey(alice, idx, 6, exportPriv)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))

	ciphertext, _, quote, err := r.ExportKey(alice, idx, 7, exportPriv)
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)
	require.NotEmpty(t, quote)

	require.NoError(t, r.DestroyExportedKey(alice, idx, 7))

	_, err = r.GetPublicKey(alice, idx, 8)
	require.NoError(t, err) // pubkey lookup does not require the key material
}

func TestRequestKeyExportRejectsWrongTag(t *testing.T) {
	r, _ := newTestRegistry()
	crypto := host.NewCrypto()
	alice := testPrincipal(1)
	idx := testAccountIndex(1)

	_, _, err := r.CreateWallet(alice, idx, 5)
	require.NoError(t, err)

	exportPub, exportPriv, err := crypto.GenX25519Keypair()
	require.NoError(t, err)
	counterPub, counterPriv, err := crypto.GenX25519Keypair()
	require.NoError(t, err)

	ct, nonce, err := crypto.SealX25519(exportPub, counterPriv, []byte("not the tag"))
	require.NoError(t, err)

	err = r.RequestKeyExport(alice, idx, counterPub, ct, nonce, 6, 1, exportPriv)
	require.Equal(t, kernelerr.WrongExportTag, kernelerr.KindOf(err))
}
