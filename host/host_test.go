package host

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCryptoSignVerifyRoundTrip(t *testing.T) {
	h := NewCrypto()
	pubkey, privkey, err := h.GenSecp256k1Keypair()
	require.NoError(t, err)

	digest := h.Keccak256([]byte("payload"))
	sig, err := h.SignPrehashed(privkey, digest)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	addr, err := h.K256ToEthAddress(pubkey)
	require.NoError(t, err)
	require.NotEqual(t, [20]byte{}, addr)
}

func TestCryptoEnvelopeRoundTrip(t *testing.T) {
	h := NewCrypto()
	aPub, aPriv, err := h.GenX25519Keypair()
	require.NoError(t, err)
	bPub, bPriv, err := h.GenX25519Keypair()
	require.NoError(t, err)

	ct, nonce, err := h.SealX25519(bPub, aPriv, []byte("secret"))
	require.NoError(t, err)

	pt, err := h.OpenX25519(aPub, bPriv, nonce, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pt)
}

func TestClockAdvanceIsMonotone(t *testing.T) {
	c := NewClock()
	require.Equal(t, uint64(0), c.BlockNumber())
	c.Advance()
	c.Advance()
	require.Equal(t, uint64(2), c.BlockNumber())
}
