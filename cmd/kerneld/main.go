// Command kerneld boots the trust kernel: it recovers or generates the root
// seed, wires the confidential store, assembles the kernel dispatcher and
// serves it over HTTP, following cmd/httpserver/main.go's cli.App shape.
package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/liquefaction/bootstrap"
	"github.com/ruteri/liquefaction/common"
	"github.com/ruteri/liquefaction/confidentialstore"
	"github.com/ruteri/liquefaction/cryptoutils"
	"github.com/ruteri/liquefaction/host"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/ruteri/liquefaction/kernel"
	"github.com/ruteri/liquefaction/metrics"
	"github.com/ruteri/liquefaction/oracle"
	"github.com/ruteri/liquefaction/transport/httpapi"
)

// sharedShare is the on-the-wire shape of one administrator's contribution
// to root-seed recovery, loaded from --shares-file.
type sharedShare struct {
	Index          int    `json:"index"`
	ShareB64       string `json:"share"`
	SignatureB64   string `json:"signature"`
	AdminPubKeyPEM string `json:"adminPubKeyPEM"`
}

func loadAdminPubKeys(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening admin keys file: %w", err)
	}
	defer f.Close()

	var pemStrings []string
	if err := json.NewDecoder(f).Decode(&pemStrings); err != nil {
		return nil, fmt.Errorf("decoding admin keys file: %w", err)
	}
	pubkeys := make([][]byte, 0, len(pemStrings))
	for _, s := range pemStrings {
		pubkeys = append(pubkeys, []byte(s))
	}
	return pubkeys, nil
}

func loadShares(path string) ([]sharedShare, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shares file: %w", err)
	}
	defer f.Close()

	var shares []sharedShare
	if err := json.NewDecoder(f).Decode(&shares); err != nil {
		return nil, fmt.Errorf("decoding shares file: %w", err)
	}
	return shares, nil
}

// setupRootSeed either splits a freshly generated seed (persisting shares to
// the confidential store for out-of-band distribution to administrators) or
// reconstructs a previously split seed from --shares-file, per
// SPEC_FULL.md's root-seed bootstrap flow.
func setupRootSeed(cCtx *cli.Context, logger interface {
	Info(string, ...any)
}, store confidentialstore.Backend) ([]byte, error) {
	adminKeysPath := cCtx.String("admin-keys-file")
	if adminKeysPath == "" {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generating ephemeral root seed: %w", err)
		}
		return seed, nil
	}

	adminPubKeys, err := loadAdminPubKeys(adminKeysPath)
	if err != nil {
		return nil, err
	}
	cfg := bootstrap.Config{Threshold: cCtx.Int("shamir-threshold"), AdminPubKeys: adminPubKeys}

	switch cCtx.String("bootstrap-mode") {
	case "fresh":
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generating root seed: %w", err)
		}
		rs, shares, err := bootstrap.New(seed, cfg)
		if err != nil {
			return nil, fmt.Errorf("splitting root seed: %w", err)
		}
		ctx := context.Background()
		for i, share := range shares {
			key := fmt.Sprintf("bootstrap/root-seed-share-%d", i)
			if err := store.Put(ctx, key, share); err != nil {
				return nil, fmt.Errorf("persisting root seed share %d: %w", i, err)
			}
		}
		got, err := rs.Seed()
		if err != nil {
			return nil, err
		}
		logger.Info("split root seed across administrators", "shares", len(shares), "threshold", cfg.Threshold)
		return got, nil

	case "recover":
		sharesPath := cCtx.String("shares-file")
		if sharesPath == "" {
			return nil, errors.New("shares-file is required in recover mode")
		}
		submitted, err := loadShares(sharesPath)
		if err != nil {
			return nil, err
		}
		rs, err := bootstrap.NewRecovery(cfg)
		if err != nil {
			return nil, fmt.Errorf("starting root seed recovery: %w", err)
		}
		for _, s := range submitted {
			share, err := base64.StdEncoding.DecodeString(s.ShareB64)
			if err != nil {
				return nil, fmt.Errorf("decoding share %d: %w", s.Index, err)
			}
			sig, err := base64.StdEncoding.DecodeString(s.SignatureB64)
			if err != nil {
				return nil, fmt.Errorf("decoding signature %d: %w", s.Index, err)
			}
			if err := rs.SubmitShare(s.Index, share, sig, []byte(s.AdminPubKeyPEM)); err != nil {
				return nil, fmt.Errorf("submitting share %d: %w", s.Index, err)
			}
		}
		if !rs.IsUnlocked() {
			return nil, errors.New("root seed still locked after submitting all shares in shares-file")
		}
		return rs.Seed()

	default:
		return nil, fmt.Errorf("invalid bootstrap-mode: %s", cCtx.String("bootstrap-mode"))
	}
}

// loadVaultClientCert resolves the mTLS identity kerneld presents to Vault.
// An operator-issued cert/key pair is used when configured; otherwise a
// fresh self-signed certificate is generated so vault:// still works out of
// the box (with the same trust caveats as RandomCert's other localhost-only
// callers) instead of silently sending an empty tls.Certificate.
func loadVaultClientCert(cCtx *cli.Context, logger interface {
	Warn(string, ...any)
}) (tls.Certificate, *x509.CertPool, error) {
	certPath := cCtx.String("vault-client-cert")
	keyPath := cCtx.String("vault-client-key")

	var cert tls.Certificate
	var err error
	if certPath != "" && keyPath != "" {
		cert, err = cryptoutils.LoadClientCertificate(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("loading vault client certificate: %w", err)
		}
	} else {
		logger.Warn("no --vault-client-cert/--vault-client-key configured, generating an ephemeral self-signed certificate")
		cert, err = cryptoutils.RandomCert()
		if err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("generating ephemeral vault client certificate: %w", err)
		}
	}

	var caPool *x509.CertPool
	if caPath := cCtx.String("vault-ca-cert"); caPath != "" {
		caPool, err = cryptoutils.LoadCACertPool(caPath)
		if err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("loading vault CA certificate: %w", err)
		}
	}
	return cert, caPool, nil
}

func main() {
	app := &cli.App{
		Name:  "kerneld",
		Usage: "serve the TEE-resident key-custody trust kernel",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLoggerFromCLI(cCtx, cCtx.String("log-service"))

			vaultCert, vaultCAPool, err := loadVaultClientCert(cCtx, logger)
			if err != nil {
				logger.Error("failed to prepare vault client certificate", "err", err)
				return err
			}
			storeFactory := confidentialstore.NewFactory(logger, vaultCert, vaultCAPool)
			store, err := storeFactory.BackendFor(cCtx.String("confidential-store"))
			if err != nil {
				logger.Error("failed to construct confidential store", "err", err)
				return err
			}

			seed, err := setupRootSeed(cCtx, logger, store)
			if err != nil {
				logger.Error("root seed bootstrap failed", "err", err)
				return err
			}
			logger.Info("root seed ready", "fingerprint", hex.EncodeToString(seed[:4])+"...")

			crypto := host.NewCrypto()

			var oracleImpl interfaces.BlockHashOracle
			var verifier interfaces.ProofVerifier
			if rpcAddr := cCtx.String("rpc-addr"); rpcAddr != "" {
				ethOracle := oracle.NewEthClientOracle()
				if err := ethOracle.AddChain(cCtx.Uint64("rpc-chain-id"), rpcAddr); err != nil {
					logger.Error("failed to dial rpc for block-hash oracle", "err", err)
					return err
				}
				oracleImpl = ethOracle
				verifier = oracle.NewMPTProofVerifier()
			}

			ethTxPrincipalHex := strings.TrimPrefix(cCtx.String("eth-tx-principal"), "0x")
			decoded, err := hex.DecodeString(ethTxPrincipalHex)
			if err != nil || len(decoded) != 20 {
				err := fmt.Errorf("invalid eth-tx-principal %q", cCtx.String("eth-tx-principal"))
				logger.Error("invalid configuration", "err", err)
				return err
			}
			var ethTxPrincipal interfaces.Principal
			copy(ethTxPrincipal[:], decoded)

			var attestation cryptoutils.AttestationProvider
			if sidecarAddr := cCtx.String("attestation-sidecar-addr"); sidecarAddr != "" {
				attestation = &cryptoutils.RemoteAttestationProvider{Address: sidecarAddr}
			} else {
				logger.Warn("no --attestation-sidecar-addr configured, key exports will carry an unattested quote")
				attestation = cryptoutils.NullAttestationProvider{}
			}

			k := kernel.New(kernel.Config{
				Crypto:         crypto,
				Oracle:         oracleImpl,
				Verifier:       verifier,
				EthTxPrincipal: ethTxPrincipal,
				Attestation:    attestation,
			})

			if err := k.LoadSnapshot(context.Background(), store); err != nil {
				if errors.Is(err, confidentialstore.ErrNotFound) {
					logger.Info("no prior kernel snapshot found, starting fresh")
				} else {
					logger.Error("failed to reload kernel snapshot", "err", err)
					return err
				}
			} else {
				logger.Info("reloaded kernel snapshot", "blockNumber", k.BlockNumber())
			}

			snapshotInterval := time.Duration(cCtx.Int("snapshot-interval-seconds")) * time.Second
			var snapshotTicker *time.Ticker
			snapshotDone := make(chan struct{})
			if snapshotInterval > 0 {
				snapshotTicker = time.NewTicker(snapshotInterval)
				go func() {
					for {
						select {
						case <-snapshotTicker.C:
							if err := k.SaveSnapshot(context.Background(), store); err != nil {
								logger.Error("periodic kernel snapshot failed", "err", err)
							}
						case <-snapshotDone:
							return
						}
					}
				}()
			}

			transportCfg := httpapi.Config{
				ListenAddr:               cCtx.String("listen-addr"),
				EnablePprof:              cCtx.Bool(common.PprofFlag.Name),
				Log:                      logger,
				DrainDuration:            time.Duration(cCtx.Int(common.DrainSecondsFlag.Name)) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}
			server := httpapi.New(transportCfg, k)

			metricsSrv := metrics.NewServer(cCtx.String(common.MetricsAddrFlag.Name), logger)
			metricsSrv.RunInBackground()

			logger.Info("starting kernel", "listenAddr", transportCfg.ListenAddr)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("shutdown signal received")

			server.Shutdown()
			if snapshotTicker != nil {
				snapshotTicker.Stop()
				close(snapshotDone)
			}
			if err := k.SaveSnapshot(context.Background(), store); err != nil {
				logger.Error("final kernel snapshot failed", "err", err)
			}
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logger.Error("metrics server shutdown failed", "err", err)
			}
			logger.Info("kernel shutdown complete")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "vault-csr",
				Usage: "generate a private key and a CSR to submit to an operator-run CA for a Vault mTLS client certificate",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "common-name", Value: "kerneld", Usage: "CSR common name"},
					&cli.StringFlag{Name: "out-key", Value: "vault-client-key.pem", Usage: "path to write the generated private key"},
					&cli.StringFlag{Name: "out-csr", Value: "vault-client.csr", Usage: "path to write the generated CSR"},
				},
				Action: func(cCtx *cli.Context) error {
					keyPEM, csr, err := cryptoutils.CreateCSRWithRandomKey(cCtx.String("common-name"))
					if err != nil {
						return fmt.Errorf("generating CSR: %w", err)
					}
					if err := os.WriteFile(cCtx.String("out-key"), keyPEM, 0600); err != nil {
						return fmt.Errorf("writing private key: %w", err)
					}
					if err := os.WriteFile(cCtx.String("out-csr"), csr, 0644); err != nil {
						return fmt.Errorf("writing CSR: %w", err)
					}
					fmt.Printf("wrote private key to %s and CSR to %s\n", cCtx.String("out-key"), cCtx.String("out-csr"))
					fmt.Println("submit the CSR to your CA, then pass the signed certificate via --vault-client-cert alongside --vault-client-key")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
