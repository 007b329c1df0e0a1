package confidentialstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultBackend stores each key at mountPath/data/dataPath/key using Vault's
// KV v2 API, adapted from storage/vault.go but keyed directly by the
// caller-supplied string instead of a content hash and content-type pair.
type VaultBackend struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

func NewVaultBackend(address, mountPath, dataPath string, clientCert tls.Certificate, caPool *x509.CertPool, log *slog.Logger) (*VaultBackend, error) {
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{clientCert}, RootCAs: caPool}
	transport := &http.Transport{TLSClientConfig: tlsConfig}

	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	return &VaultBackend{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (b *VaultBackend) kvPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, key)
}

func (b *VaultBackend) Get(ctx context.Context, key string) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.kvPath(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}
	data, ok := secret.Data["data"]
	if !ok {
		return nil, fmt.Errorf("malformed vault kv-v2 response for %q", key)
	}
	fields, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed vault kv-v2 payload for %q", key)
	}
	encoded, ok := fields["value"].(string)
	if !ok {
		return nil, fmt.Errorf("missing value field for %q", key)
	}
	return []byte(encoded), nil
}

func (b *VaultBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.client.Logical().WriteWithContext(ctx, b.kvPath(key), map[string]interface{}{
		"data": map[string]interface{}{"value": string(value)},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.log.Debug("wrote confidential store entry to vault", "key", key, "size", len(value))
	return nil
}

func (b *VaultBackend) Available(ctx context.Context) bool {
	_, err := b.client.Sys().HealthWithContext(ctx)
	return err == nil
}

func (b *VaultBackend) Name() string { return fmt.Sprintf("vault-%s/%s", b.mountPath, b.dataPath) }
