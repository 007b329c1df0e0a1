package main

import (
	"github.com/ruteri/liquefaction/common"
	"github.com/urfave/cli/v2"
)

var flags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the kernel's HTTP transport",
	},
	&cli.StringFlag{
		Name:  "confidential-store",
		Value: "file:///var/lib/liquefaction",
		Usage: "confidential store location (file://path or vault://host/data-path?mount=name)",
	},
	&cli.StringFlag{
		Name:  "eth-tx-principal",
		Value: "0x0000000000000000000000000000000000000e75",
		Usage: "principal address the built-in Ethereum-transaction policy is registered under",
	},
	&cli.StringFlag{
		Name:  "bootstrap-mode",
		Value: "fresh",
		Usage: "root-seed bootstrap mode: 'fresh' (split a freshly generated seed) or 'recover' (await admin shares)",
	},
	&cli.StringFlag{
		Name:  "admin-keys-file",
		Value: "",
		Usage: "JSON array of PEM-encoded admin public keys authorized to hold root-seed shares",
	},
	&cli.IntFlag{
		Name:  "shamir-threshold",
		Value: 2,
		Usage: "number of admin shares required to reconstruct the root seed",
	},
	&cli.StringFlag{
		Name:  "shares-file",
		Value: "",
		Usage: "JSON array of {index, share, signature, adminPubKeyPEM} (base64/PEM) used in 'recover' mode",
	},
	&cli.StringFlag{
		Name:  "rpc-addr",
		Value: "",
		Usage: "Ethereum JSON-RPC address the block-hash oracle dials; leave empty to run without one",
	},
	&cli.Uint64Flag{
		Name:  "rpc-chain-id",
		Value: 1,
		Usage: "chain ID the rpc-addr endpoint serves, registered with the block-hash oracle",
	},
	&cli.StringFlag{
		Name:  "vault-client-cert",
		Value: "",
		Usage: "PEM client certificate presented to Vault for mTLS (see the 'vault-csr' command); if unset, an ephemeral self-signed certificate is generated",
	},
	&cli.StringFlag{
		Name:  "vault-client-key",
		Value: "",
		Usage: "PEM private key matching --vault-client-cert",
	},
	&cli.StringFlag{
		Name:  "vault-ca-cert",
		Value: "",
		Usage: "PEM CA certificate pinning Vault's server certificate; if unset, the system root store is used",
	},
	&cli.StringFlag{
		Name:  "attestation-sidecar-addr",
		Value: "",
		Usage: "base URL of a sidecar TEE quote provider (GET /attest/<hex report data>); if unset, key exports carry an unattested placeholder quote",
	},
	&cli.IntFlag{
		Name:  "snapshot-interval-seconds",
		Value: 300,
		Usage: "how often to persist a kernel state snapshot to the confidential store; 0 disables periodic snapshotting (a final snapshot is still taken on shutdown)",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "kerneld",
		Usage: "add 'service' tag to logs",
	},
}, common.CommonFlags...)
