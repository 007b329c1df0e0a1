// Package bootstrap implements the kernel's root-seed recovery flow for a
// long-lived 32-byte seed (spec.md is silent on how the host process itself
// comes to hold such a secret across restarts — see SPEC_FULL.md's
// supplemental features). cmd/kerneld obtains the seed at startup and logs
// its fingerprint; no kernel key is derived from it, and the key-export
// operations take their X25519 export private key as a per-call argument
// instead. Adapted from kms/shamir.go's ShamirKMS, generalized from a
// KMS master key to an arbitrary root seed and stripped of the KMS-specific
// PKI/CSR delegation that seed was previously used for.
package bootstrap

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
)

// Config lists the administrators authorized to hold a share of the root
// seed and the threshold required to reconstruct it.
type Config struct {
	Threshold    int
	AdminPubKeys [][]byte // PEM-encoded ECDSA or Ed25519 public keys
}

// RootSeed guards the kernel's 32-byte root seed behind Shamir's secret
// sharing: it exists either already unlocked (fresh initialization) or
// locked, awaiting a threshold of administrator-signed shares.
type RootSeed struct {
	mu             sync.RWMutex
	seed           []byte
	unlocked       bool
	threshold      int
	receivedShares map[int][]byte
	adminPubKeys   map[string][]byte
}

// New splits seed, which must be at least 32 bytes, into
// len(config.AdminPubKeys) shares, config.Threshold of which are needed to reconstruct it. The
// caller must securely distribute the returned shares and then discard
// them; the seed is retained only in this RootSeed's memory.
func New(seed []byte, config Config) (*RootSeed, [][]byte, error) {
	if len(seed) < 32 {
		return nil, nil, errors.New("root seed must be at least 32 bytes")
	}
	if config.Threshold < 2 {
		return nil, nil, errors.New("threshold must be at least 2")
	}
	if len(config.AdminPubKeys) < config.Threshold {
		return nil, nil, errors.New("fewer admin keys than the threshold requires")
	}

	shares, err := shamir.Split(seed, len(config.AdminPubKeys), config.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("splitting root seed: %w", err)
	}

	rs := &RootSeed{
		seed:           seed,
		unlocked:       true,
		threshold:      config.Threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
	if err := rs.registerAdmins(config.AdminPubKeys); err != nil {
		return nil, nil, err
	}
	return rs, shares, nil
}

// NewRecovery starts a RootSeed in the locked state, awaiting a threshold of
// signed shares from the process's previous incarnation.
func NewRecovery(config Config) (*RootSeed, error) {
	rs := &RootSeed{
		unlocked:       false,
		threshold:      config.Threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
	if err := rs.registerAdmins(config.AdminPubKeys); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *RootSeed) registerAdmins(pubkeys [][]byte) error {
	for _, pubkeyPEM := range pubkeys {
		if _, err := parsePublicKeyPEM(pubkeyPEM); err != nil {
			return fmt.Errorf("invalid admin pubkey: %w", err)
		}
		fingerprint := sha256.Sum256(pubkeyPEM)
		rs.adminPubKeys[hex.EncodeToString(fingerprint[:])] = pubkeyPEM
	}
	return nil
}

// SubmitShare records one administrator's signed share and, once the
// threshold is met, reconstructs the seed and wipes the shares from memory.
func (rs *RootSeed) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.unlocked {
		return errors.New("root seed is already unlocked")
	}

	fingerprint := sha256.Sum256(adminPubKeyPEM)
	registered, found := rs.adminPubKeys[hex.EncodeToString(fingerprint[:])]
	if !found || !bytes.Equal(registered, adminPubKeyPEM) {
		return errors.New("unregistered admin public key")
	}

	pubKey, err := parsePublicKeyPEM(adminPubKeyPEM)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(share)
	if err := verifyShareSignature(pubKey, digest[:], signature); err != nil {
		return err
	}

	rs.receivedShares[shareIndex] = share
	return rs.tryReconstructLocked()
}

func (rs *RootSeed) tryReconstructLocked() error {
	if len(rs.receivedShares) < rs.threshold {
		return nil
	}
	shares := make([][]byte, 0, len(rs.receivedShares))
	for _, s := range rs.receivedShares {
		shares = append(shares, s)
	}
	seed, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("reconstructing root seed: %w", err)
	}
	rs.seed = seed
	rs.unlocked = true
	for i := range rs.receivedShares {
		wipe(rs.receivedShares[i])
	}
	rs.receivedShares = make(map[int][]byte)
	return nil
}

// IsUnlocked reports whether the seed is currently reconstructed.
func (rs *RootSeed) IsUnlocked() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.unlocked
}

// Seed returns the reconstructed 32-byte root seed, or an error if the
// RootSeed is still locked.
func (rs *RootSeed) Seed() ([]byte, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if !rs.unlocked {
		return nil, errors.New("root seed is locked - submit more shares")
	}
	out := make([]byte, len(rs.seed))
	copy(out, rs.seed)
	return out, nil
}

func parsePublicKeyPEM(pemBytes []byte) (interface{}, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to decode PEM public key")
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

func verifyShareSignature(pubKey interface{}, share, signature []byte) error {
	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, share, signature) {
			return errors.New("invalid share signature")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(key, share, signature) {
			return errors.New("invalid share signature")
		}
		return nil
	default:
		return errors.New("admin public key is neither ECDSA nor Ed25519")
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
