package confidentialstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Factory builds Backend values from location URIs, adapted from
// storage/factory.go but limited to the schemes the kernel can exercise
// (file, vault — see DESIGN.md for why the teacher's s3/ipfs/onchain/github
// backends were not carried over).
type Factory struct {
	log        *slog.Logger
	clientCert tls.Certificate
	caPool     *x509.CertPool
}

// NewFactory builds a Factory. vaultClientCert authenticates the kernel to
// Vault via mTLS; caPool, if non-nil, pins Vault's server certificate
// instead of trusting the system root store. Both are ignored by the file
// backend.
func NewFactory(log *slog.Logger, vaultClientCert tls.Certificate, caPool *x509.CertPool) *Factory {
	return &Factory{log: log, clientCert: vaultClientCert, caPool: caPool}
}

func (f *Factory) BackendFor(locationURI string) (Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid confidential store location %q: %w", locationURI, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(u.Path, f.log)
	case "vault":
		mountPath := strings.Trim(u.Query().Get("mount"), "/")
		if mountPath == "" {
			mountPath = "secret"
		}
		dataPath := strings.Trim(u.Path, "/")
		return NewVaultBackend(fmt.Sprintf("%s://%s", "https", u.Host), mountPath, dataPath, f.clientCert, f.caPool, f.log)
	default:
		return nil, fmt.Errorf("unsupported confidential store scheme %q", u.Scheme)
	}
}

// MultiBackendFor builds one backend per URI and wraps them in a MultiStore,
// skipping (and logging) any that fail to construct.
func (f *Factory) MultiBackendFor(locationURIs []string) (Backend, error) {
	backends := make([]Backend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		b, err := f.BackendFor(uri)
		if err != nil {
			f.log.Warn("skipping confidential store location", "uri", uri, "err", err)
			continue
		}
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid confidential store backends from %v", locationURIs)
	}
	return NewMultiStore(backends, f.log), nil
}
