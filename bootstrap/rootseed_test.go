package bootstrap

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashFor(msg []byte) []byte {
	digest := sha256.Sum256(msg)
	return digest[:]
}

type adminKey struct {
	priv   *ecdsa.PrivateKey
	pubPEM []byte
}

func newAdminKey(t *testing.T) adminKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return adminKey{priv: priv, pubPEM: pubPEM}
}

func sign(t *testing.T, k adminKey, msg []byte) []byte {
	t.Helper()
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, hashFor(msg))
	require.NoError(t, err)
	return sig
}

func TestSplitAndReconstructWithThreshold(t *testing.T) {
	admins := []adminKey{newAdminKey(t), newAdminKey(t), newAdminKey(t)}
	pubkeys := [][]byte{admins[0].pubPEM, admins[1].pubPEM, admins[2].pubPEM}

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	rs, shares, err := New(seed, Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)
	require.True(t, rs.IsUnlocked())
	require.Len(t, shares, 3)

	recovered, err := NewRecovery(Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)
	require.False(t, recovered.IsUnlocked())

	_, err = recovered.Seed()
	require.Error(t, err)

	sig0 := sign(t, admins[0], shares[0])
	require.NoError(t, recovered.SubmitShare(0, shares[0], sig0, admins[0].pubPEM))
	require.False(t, recovered.IsUnlocked())

	sig1 := sign(t, admins[1], shares[1])
	require.NoError(t, recovered.SubmitShare(1, shares[1], sig1, admins[1].pubPEM))
	require.True(t, recovered.IsUnlocked())

	got, err := recovered.Seed()
	require.NoError(t, err)
	require.Equal(t, seed, got)
}

func TestSubmitShareRejectsUnregisteredKey(t *testing.T) {
	admins := []adminKey{newAdminKey(t), newAdminKey(t)}
	pubkeys := [][]byte{admins[0].pubPEM, admins[1].pubPEM}
	seed := make([]byte, 32)

	_, shares, err := New(seed, Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)

	recovered, err := NewRecovery(Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)

	stranger := newAdminKey(t)
	sig := sign(t, stranger, shares[0])
	err = recovered.SubmitShare(0, shares[0], sig, stranger.pubPEM)
	require.Error(t, err)
	require.False(t, recovered.IsUnlocked())
}

func TestSubmitShareRejectsBadSignature(t *testing.T) {
	admins := []adminKey{newAdminKey(t), newAdminKey(t)}
	pubkeys := [][]byte{admins[0].pubPEM, admins[1].pubPEM}
	seed := make([]byte, 32)

	_, shares, err := New(seed, Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)

	recovered, err := NewRecovery(Config{Threshold: 2, AdminPubKeys: pubkeys})
	require.NoError(t, err)

	badSig := sign(t, admins[1], shares[0]) // signed by the wrong admin
	err = recovered.SubmitShare(0, shares[0], badSig, admins[0].pubPEM)
	require.Error(t, err)
}

func TestNewRejectsTooFewAdminsForThreshold(t *testing.T) {
	admin := newAdminKey(t)
	seed := make([]byte, 32)
	_, _, err := New(seed, Config{Threshold: 2, AdminPubKeys: [][]byte{admin.pubPEM}})
	require.Error(t, err)
}
