package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecp256k1KeypairRoundTripsSignature(t *testing.T) {
	pubkey, privkey, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("hello wallet"))
	sig, err := SignDER(privkey, digest)
	require.NoError(t, err)

	ok, err := VerifyDER(pubkey, digest, sig)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGenerateSecp256k1KeypairIsRandom(t *testing.T) {
	pub1, _, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)
	pub2, _, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)
	require.NotEqual(t, pub1, pub2)
}

func TestEthAddressMatchesGoEthereum(t *testing.T) {
	pubkey, _, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)

	got, err := EthAddress(pubkey)
	require.NoError(t, err)

	pub, err := crypto.UnmarshalPubkey(pubkey)
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(*pub)

	require.Equal(t, want.Bytes(), got[:])
}

func TestRecoverableFromDERReproducesSignerPubkey(t *testing.T) {
	pubkey, privkey, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("broadcastable"))
	sig, err := SignDER(privkey, digest)
	require.NoError(t, err)

	compact, err := RecoverableFromDER(sig, digest, pubkey)
	require.NoError(t, err)

	recovered, err := crypto.Ecrecover(digest[:], compact[:])
	require.NoError(t, err)
	require.Equal(t, pubkey, recovered)
}

func TestVerifyDERRejectsTamperedDigest(t *testing.T) {
	pubkey, privkey, err := GenerateSecp256k1Keypair()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("original"))
	sig, err := SignDER(privkey, digest)
	require.NoError(t, err)

	tampered := crypto.Keccak256Hash([]byte("tampered"))
	ok, err := VerifyDER(pubkey, tampered, sig)
	require.NoError(t, err)
	require.False(t, ok)
}
