package cryptoutils

import (
	"fmt"
	"io"
	"net/http"
)

// AttestationProvider binds 64 bytes of report data (typically a hash of
// whatever material is being vouched for) to a TEE quote. Liquefaction
// uses this once: wallet.Registry.ExportKey quotes the X25519 public key
// derived from the export private key passed to that call.
type AttestationProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// RemoteAttestationProvider defers quote generation to a sidecar process
// reachable over HTTP, the way a TEE guest typically delegates quoting to
// a host-side agent it cannot otherwise reach.
type RemoteAttestationProvider struct {
	Address string
}

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%x", p.Address, reportData[:])
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// NullAttestationProvider is used for development and for hosts that do
// not run inside a TEE at all. It never fails and never proves anything.
type NullAttestationProvider struct{}

func (NullAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("unattested:%x", reportData)), nil
}
