package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenEnvelopeRoundTrip(t *testing.T) {
	registryPub, registryPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	counterpartyPub, counterpartyPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	msg := []byte("the private key bytes")
	ciphertext, nonce, err := SealEnvelope(counterpartyPub, registryPriv, msg)
	require.NoError(t, err)

	got, err := OpenEnvelope(registryPub, counterpartyPriv, nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestOpenEnvelopeRejectsWrongKey(t *testing.T) {
	_, registryPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)
	counterpartyPub, _, err := GenerateX25519Keypair()
	require.NoError(t, err)
	wrongPub, wrongPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	ciphertext, nonce, err := SealEnvelope(counterpartyPub, registryPriv, []byte("secret"))
	require.NoError(t, err)

	_, err = OpenEnvelope(wrongPub, wrongPriv, nonce, ciphertext)
	require.Error(t, err)
}

func TestSealEnvelopeNeverReusesNonce(t *testing.T) {
	peerPub, _, err := GenerateX25519Keypair()
	require.NoError(t, err)
	_, ownPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	_, nonce1, err := SealEnvelope(peerPub, ownPriv, []byte("a"))
	require.NoError(t, err)
	_, nonce2, err := SealEnvelope(peerPub, ownPriv, []byte("a"))
	require.NoError(t, err)

	require.NotEqual(t, nonce1, nonce2)
}
