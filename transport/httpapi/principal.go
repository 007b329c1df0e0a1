package httpapi

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/liquefaction/interfaces"
)

// signatureHeader carries a 65-byte compact recoverable secp256k1 signature,
// hex-encoded, over the Keccak256 hash of the request body. There is no
// session/cookie concept in this transport: every dispatch recovers its
// caller principal fresh, the same way api/kmshandler/handler.go recovers an
// operator address from a signature embedded in the request rather than
// trusting a claimed identity.
const signatureHeader = "X-Liquefaction-Signature"

// recoverPrincipal recovers the Ethereum address that signed body, per the
// CSR-embedded-signature pattern in api/kmshandler/handler.go's
// ParseWorkloadAndOperatorIdentity (there: crypto.SigToPub over a CSR
// pubkey hash; here: crypto.SigToPub over the request body hash).
func recoverPrincipal(r *http.Request, body []byte) (interfaces.Principal, error) {
	sigHex := strings.TrimSpace(r.Header.Get(signatureHeader))
	if sigHex == "" {
		return interfaces.Principal{}, fmt.Errorf("missing %s header", signatureHeader)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return interfaces.Principal{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	digest := crypto.Keccak256(body)
	pubkey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("recovering caller principal: %w", err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
