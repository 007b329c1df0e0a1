package ethtx

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/cryptoutils"
	"github.com/ruteri/liquefaction/host"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/ruteri/liquefaction/wallet"
	"github.com/stretchr/testify/require"
)

type stubOracle struct {
	hash [32]byte
	err  error
}

func (s *stubOracle) GetBlockHash(chainId interfaces.ChainID, blockNumber uint64) ([32]byte, error) {
	return s.hash, s.err
}

type stubVerifier struct {
	rawTx          []byte
	blockTimestamp uint64
	err            error
}

func (s *stubVerifier) ValidateTxProof(headerHash [32]byte, headerRLP []byte, proof interfaces.TxInclusionProof) ([]byte, uint64, error) {
	return s.rawTx, s.blockTimestamp, s.err
}

func (s *stubVerifier) ValidateStorageProof(headerHash [32]byte, headerRLP []byte, proof interfaces.StorageProof) ([]byte, error) {
	return nil, s.err
}

type stubSubPolicy struct {
	veto error
}

func (s *stubSubPolicy) NotifyEnrollment(manager interfaces.Principal, account interfaces.WalletAddress, assets []interfaces.AssetTag, expiration uint64, data []byte) error {
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

func testPrincipal(b byte) interfaces.Principal {
	var p interfaces.Principal
	p[0] = b
	return p
}

func testAccountIndex(b byte) interfaces.AccountIndex {
	var idx interfaces.AccountIndex
	idx[0] = b
	return idx
}

const testChainID = uint64(1337)

type harness struct {
	crypto   *host.Crypto
	policies *memPolicyRegistry
	wallets  *wallet.Registry
	pol      *Policy
	self     interfaces.Principal
	owner    interfaces.Principal
	account  interfaces.WalletAddress
}

func newHarness(t *testing.T, oracle interfaces.BlockHashOracle, verifier interfaces.ProofVerifier) *harness {
	crypto := host.NewCrypto()
	policies := newMemPolicyRegistry()
	wallets := wallet.NewRegistry(crypto, policies)
	self := testPrincipal(0xE6)
	pol := NewPolicy(self, wallets, oracle, verifier, crypto, policies)
	policies.Register(self, pol)

	owner := testPrincipal(1)
	idx := testAccountIndex(1)
	addr, _, err := wallets.CreateWallet(owner, idx, 1)
	require.NoError(t, err)

	require.NoError(t, wallets.EnterEncumbrance(owner, idx, []interfaces.AssetTag{assetclass.EthTransactionTag}, self, 10_000, nil, 1, 0))

	return &harness{crypto: crypto, policies: policies, wallets: wallets, pol: pol, self: self, owner: owner, account: addr}
}

func TestNotifyEnrollmentRequiresEthTransactionAsset(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	err := h.pol.NotifyEnrollment(h.owner, h.account, []interfaces.AssetTag{assetclass.EthSignedMessageTag}, 100, nil)
	require.Equal(t, kernelerr.InvalidArgument, kernelerr.KindOf(err))
}

func TestEnterSubLeaseRequiresManager(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	stranger := testPrincipal(9)
	dest := Destination{ChainID: testChainID, To: interfaces.WalletAddress{0xaa}}
	err := h.pol.EnterSubLease(stranger, h.account, []Destination{dest}, testPrincipal(2), 100, false, false, 2, 0)
	require.Equal(t, kernelerr.NotAuthorized, kernelerr.KindOf(err))
}

func TestEnterSubLeaseRejectsExpiryPastOwnLease(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	dest := Destination{ChainID: testChainID, To: interfaces.WalletAddress{0xaa}}
	err := h.pol.EnterSubLease(h.owner, h.account, []Destination{dest}, testPrincipal(2), 20_000, false, false, 2, 0)
	require.Equal(t, kernelerr.InvalidArgument, kernelerr.KindOf(err))
}

func TestEnterSubLeaseNotifiesAndInstalls(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	sub := testPrincipal(2)
	h.policies.Register(sub, &stubSubPolicy{})
	dest := Destination{ChainID: testChainID, To: interfaces.WalletAddress{0xaa}}

	err := h.pol.EnterSubLease(h.owner, h.account, []Destination{dest}, sub, 5_000, false, false, 2, 0)
	require.NoError(t, err)
}

func TestEnterSubLeaseVetoRollsBack(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	sub := testPrincipal(2)
	h.policies.Register(sub, &stubSubPolicy{veto: kernelerr.New("test", kernelerr.NotAuthorized, nil)})
	dest := Destination{ChainID: testChainID, To: interfaces.WalletAddress{0xaa}}

	err := h.pol.EnterSubLease(h.owner, h.account, []Destination{dest}, sub, 5_000, false, false, 2, 0)
	require.Error(t, err)

	// A retry (after fixing the veto) must not see a stale lease.
	h.policies.Register(sub, &stubSubPolicy{})
	require.NoError(t, h.pol.EnterSubLease(h.owner, h.account, []Destination{dest}, sub, 5_000, false, false, 3, 0))
}

func TestCommitToDepositFirstWriterWins(t *testing.T) {
	h := newHarness(t, &stubOracle{}, &stubVerifier{})
	hash := [32]byte{0x01}
	require.NoError(t, h.pol.CommitToDeposit(testPrincipal(2), hash, 0))
	err := h.pol.CommitToDeposit(testPrincipal(3), hash, 0)
	require.Equal(t, kernelerr.AlreadySeen, kernelerr.KindOf(err))
}

func TestDepositFundsCreditsSubBalance(t *testing.T) {
	// Build a real signed EIP-1559 transaction from a throwaway key, whose
	// recipient is the custodied account.
	depositorKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	txdata := &types.DynamicFeeTx{
		ChainID:   big.NewInt(int64(testChainID)),
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
	}
	depositAmount := big.NewInt(5_000_000_000_000_000_000)
	txdata.Value = depositAmount

	h := newHarness(t, nil, nil)
	to := h.account
	txdata.To = &to

	signer := types.LatestSignerForChainID(txdata.ChainID)
	signedTx, err := types.SignNewTx(depositorKey, signer, txdata)
	require.NoError(t, err)
	raw, err := signedTx.MarshalBinary()
	require.NoError(t, err)

	headerHash := [32]byte{0x42}
	oracle := &stubOracle{hash: headerHash}
	verifier := &stubVerifier{rawTx: raw}
	h.pol.oracle = oracle
	h.pol.verifier = verifier

	sub := testPrincipal(7)
	require.NoError(t, h.pol.CommitToDeposit(sub, [32]byte(signedTx.Hash()), 100))

	proof := interfaces.TxInclusionProof{ChainID: testChainID, BlockNumber: 5}
	require.NoError(t, h.pol.DepositFunds(sub, raw, proof, nil))

	bal := balanceOf(h.pol.ethBalance, subBalanceKey{subPolicy: sub, account: h.account, chainID: testChainID})
	require.Equal(t, 0, bal.Cmp(depositAmount))

	// Re-submitting the same proof is a duplicate.
	err = h.pol.DepositFunds(sub, raw, proof, nil)
	require.Equal(t, kernelerr.AlreadySeen, kernelerr.KindOf(err))
}

func TestDepositFundsRejectsWrongCommitter(t *testing.T) {
	depositorKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	h := newHarness(t, nil, nil)
	to := h.account
	txdata := &types.DynamicFeeTx{
		ChainID:   big.NewInt(int64(testChainID)),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	}
	signer := types.LatestSignerForChainID(txdata.ChainID)
	signedTx, err := types.SignNewTx(depositorKey, signer, txdata)
	require.NoError(t, err)
	raw, err := signedTx.MarshalBinary()
	require.NoError(t, err)

	headerHash := [32]byte{0x42}
	h.pol.oracle = &stubOracle{hash: headerHash}
	h.pol.verifier = &stubVerifier{rawTx: raw}

	require.NoError(t, h.pol.CommitToDeposit(testPrincipal(7), [32]byte(signedTx.Hash()), 0))

	proof := interfaces.TxInclusionProof{ChainID: testChainID, BlockNumber: 1}
	err = h.pol.DepositFunds(testPrincipal(8), raw, proof, nil)
	require.Equal(t, kernelerr.NotCommitter, kernelerr.KindOf(err))
}

func TestSignTransactionAndProveInclusionRoundTrip(t *testing.T) {
	h := newHarness(t, nil, nil)

	sub := testPrincipal(2)
	h.policies.Register(sub, &stubSubPolicy{})
	dest := interfaces.WalletAddress{0xbb}
	require.NoError(t, h.pol.EnterSubLease(h.owner, h.account, []Destination{{ChainID: testChainID, To: dest}}, sub, 5_000, false, false, 2, 0))

	// Fund local collateral so sign_transaction's reimbursement precondition passes.
	h.pol.DepositLocalFunds(sub, h.account, testChainID, big.NewInt(1_000_000_000_000_000_000), 2)
	require.NoError(t, h.pol.FinalizeLocalFunds(sub, h.account, testChainID, 3))

	// Fund ETH balance via a proved deposit.
	depositorKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	to := h.account
	depositTxData := &types.DynamicFeeTx{
		ChainID: big.NewInt(int64(testChainID)), GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), Gas: 21000,
		To: &to, Value: big.NewInt(1_000_000_000_000_000_000),
	}
	depositSigner := types.LatestSignerForChainID(depositTxData.ChainID)
	depositTx, err := types.SignNewTx(depositorKey, depositSigner, depositTxData)
	require.NoError(t, err)
	depositRaw, err := depositTx.MarshalBinary()
	require.NoError(t, err)
	headerHash := [32]byte{0x77}
	h.pol.oracle = &stubOracle{hash: headerHash}
	h.pol.verifier = &stubVerifier{rawTx: depositRaw}
	require.NoError(t, h.pol.CommitToDeposit(sub, [32]byte(depositTx.Hash()), 0))
	require.NoError(t, h.pol.DepositFunds(sub, depositRaw, interfaces.TxInclusionProof{ChainID: testChainID}, nil))

	unsigned := &UnsignedTx{
		ChainID: testChainID, Nonce: 0,
		GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), GasLimit: 21000,
		To: dest, Value: big.NewInt(1000), Data: nil,
	}

	sigDER, err := h.pol.SignTransaction(sub, h.account, unsigned, 4, 0)
	require.NoError(t, err)
	require.NotEmpty(t, sigDER)

	// Signing nonce 1 before proving nonce 0 fails BadNonce.
	next := &UnsignedTx{ChainID: testChainID, Nonce: 1, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), GasLimit: 21000, To: dest, Value: big.NewInt(1), Data: nil}
	_, err = h.pol.SignTransaction(sub, h.account, next, 4, 0)
	require.Equal(t, kernelerr.BadNonce, kernelerr.KindOf(err))

	// Reconstruct the broadcastable transaction and prove its inclusion.
	pubkey, err := h.wallets.GetPublicKey(h.owner, testAccountIndex(1), 2)
	require.NoError(t, err)
	payload, err := unsigned.SerializeUnsigned()
	require.NoError(t, err)
	digest := h.crypto.Keccak256(payload)
	compact, err := cryptoutils.RecoverableFromDER(sigDER, digest, pubkey)
	require.NoError(t, err)

	fullTxData := &types.DynamicFeeTx{
		ChainID: big.NewInt(int64(testChainID)), Nonce: 0,
		GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), Gas: 21000,
		To: &dest, Value: big.NewInt(1000),
	}
	fullTx := types.NewTx(fullTxData)
	fullTx, err = fullTx.WithSignature(types.LatestSignerForChainID(fullTxData.ChainID), compact[:])
	require.NoError(t, err)

	fullRaw, err := fullTx.MarshalBinary()
	require.NoError(t, err)

	h.pol.oracle = &stubOracle{hash: [32]byte{0x99}}
	h.pol.verifier = &stubVerifier{rawTx: fullRaw}

	payout, err := h.pol.ProveTransactionInclusion(fullRaw, interfaces.TxInclusionProof{ChainID: testChainID}, nil, 5)
	require.NoError(t, err)
	require.NotNil(t, payout)

	// nonce advanced; signing nonce 1 now succeeds.
	sig2, err := h.pol.SignTransaction(sub, h.account, next, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, sig2)
}
