package cryptoutils

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadClientCertificate reads a PEM certificate and private key from disk,
// validates the certificate is well-formed via TLSCert before handing it to
// tls.X509KeyPair, and returns the resulting client certificate for mTLS
// dialing (the kernel's Vault confidential-store backend).
func LoadClientCertificate(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading client certificate %q: %w", certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading client key %q: %w", keyPath, err)
	}

	if _, err := NewTLSCert(certPEM); err != nil {
		return tls.Certificate{}, fmt.Errorf("invalid client certificate %q: %w", certPath, err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("pairing client certificate and key: %w", err)
	}
	return cert, nil
}

// LoadCACertPool reads a PEM CA certificate from disk, validates it via
// CACert, and returns a pool suitable for pinning a Vault backend's server
// certificate instead of trusting the system root store.
func LoadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate %q: %w", caCertPath, err)
	}
	ca, err := NewCACert(caPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate %q: %w", caCertPath, err)
	}
	x509Cert, err := ca.GetX509Cert()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(x509Cert)
	return pool, nil
}
