package kernel

import (
	"testing"

	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/host"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernelerr"
	"github.com/stretchr/testify/require"
)

type acceptingPolicy struct{}

func (acceptingPolicy) NotifyEnrollment(manager interfaces.Principal, account interfaces.WalletAddress, assets []interfaces.AssetTag, expiration uint64, data []byte) error {
	return nil
}

func principal(b byte) interfaces.Principal {
	var p interfaces.Principal
	p[0] = b
	return p
}

func accountIndex(b byte) interfaces.AccountIndex {
	var idx interfaces.AccountIndex
	idx[0] = b
	return idx
}

func newTestKernel(t *testing.T) *Kernel {
	k := New(Config{
		Crypto:         host.NewCrypto(),
		EthTxPrincipal: principal(0xE6),
	})
	return k
}

func TestCreateAndEnrollThenSignMessage(t *testing.T) {
	k := newTestKernel(t)
	a := principal(1)
	p := principal(2)
	require.NoError(t, k.RegisterPolicy(p, acceptingPolicy{}))

	addr, created, err := k.CreateWallet(a, accountIndex(0))
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, k.EnterEncumbrance(a, accountIndex(0), []interfaces.AssetTag{assetclass.EthSignedMessageTag}, p, 3600, nil, 0))

	k.AdvanceBlock()

	payload := append([]byte{0x19, 0x45}, []byte("hello")...)

	_, err = k.SignMessage(a, addr, payload, 0)
	require.Equal(t, kernelerr.NotAuthorized, kernelerr.KindOf(err))

	sig, err := k.SignMessage(p, addr, payload, 0)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestSignMessageRejectsUnclassifiedPayload(t *testing.T) {
	k := newTestKernel(t)
	a := principal(1)
	p := principal(2)
	require.NoError(t, k.RegisterPolicy(p, acceptingPolicy{}))

	addr, _, err := k.CreateWallet(a, accountIndex(0))
	require.NoError(t, err)
	require.NoError(t, k.EnterEncumbrance(a, accountIndex(0), []interfaces.AssetTag{assetclass.EthSignedMessageTag}, p, 3600, nil, 0))
	k.AdvanceBlock()

	_, err = k.SignMessage(p, addr, []byte{0x03, 0xaa}, 0)
	require.Equal(t, kernelerr.AssetUnknown, kernelerr.KindOf(err))
}

func TestOwnershipTransferAtomicity(t *testing.T) {
	k := newTestKernel(t)
	a := principal(1)
	b := principal(2)

	addr, _, err := k.CreateWallet(a, accountIndex(0))
	require.NoError(t, err)
	k.AdvanceBlock()

	newIdx, err := k.TransferOwnership(a, accountIndex(0), b)
	require.NoError(t, err)

	_, err = k.GetAddress(a, accountIndex(0))
	require.Equal(t, kernelerr.WalletNotFound, kernelerr.KindOf(err))

	_, err = k.GetAddress(b, newIdx)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))

	k.AdvanceBlock()

	gotAddr, err := k.GetAddress(b, newIdx)
	require.NoError(t, err)
	require.Equal(t, addr, gotAddr)
}

func TestSameBlockEnrollAndSignBlocked(t *testing.T) {
	k := newTestKernel(t)
	m := principal(9)
	require.NoError(t, k.RegisterPolicy(m, acceptingPolicy{}))

	addr, _, err := k.CreateWallet(m, accountIndex(7))
	require.NoError(t, err)
	require.NoError(t, k.EnterEncumbrance(m, accountIndex(7), []interfaces.AssetTag{assetclass.EthSignedMessageTag}, m, 3600, nil, 0))

	payload := append([]byte{0x19, 0x45}, []byte("payload")...)
	_, err = k.SignMessage(m, addr, payload, 0)
	require.Equal(t, kernelerr.Pending, kernelerr.KindOf(err))
}

func TestExpiredLeaseRejectsSign(t *testing.T) {
	k := newTestKernel(t)
	a := principal(1)
	p := principal(2)
	require.NoError(t, k.RegisterPolicy(p, acceptingPolicy{}))

	addr, _, err := k.CreateWallet(a, accountIndex(0))
	require.NoError(t, err)
	require.NoError(t, k.EnterEncumbrance(a, accountIndex(0), []interfaces.AssetTag{assetclass.EthSignedMessageTag}, p, 100, nil, 0))
	k.AdvanceBlock()

	payload := append([]byte{0x19, 0x45}, []byte("late")...)
	_, err = k.SignMessage(p, addr, payload, 200)
	require.Equal(t, kernelerr.Expired, kernelerr.KindOf(err))
}
