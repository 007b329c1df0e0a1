package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/liquefaction/assetclass"
	"github.com/ruteri/liquefaction/ethtx"
	"github.com/ruteri/liquefaction/interfaces"
)

func readBody(r *http.Request, v interface{}) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(body) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}
	return body, nil
}

func pathAccountIndex(r *http.Request, param string) (interfaces.AccountIndex, error) {
	var idx interfaces.AccountIndex
	if err := idx.UnmarshalText([]byte(chi.URLParam(r, param))); err != nil {
		return idx, fmt.Errorf("invalid %s: %w", param, err)
	}
	return idx, nil
}

func pathAddress(r *http.Request, param string) (interfaces.WalletAddress, error) {
	v := chi.URLParam(r, param)
	if !strings.HasPrefix(v, "0x") || len(v) != 42 {
		return interfaces.WalletAddress{}, fmt.Errorf("invalid %s: expected a 20-byte hex address", param)
	}
	decoded, err := hex.DecodeString(v[2:])
	if err != nil {
		return interfaces.WalletAddress{}, fmt.Errorf("invalid %s: %w", param, err)
	}
	var addr interfaces.WalletAddress
	copy(addr[:], decoded)
	return addr, nil
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}

	addr, created, err := s.kernel.CreateWallet(caller, accountIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "created": created})
}

func (s *Server) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	pubkey, err := s.kernel.GetPublicKey(caller, accountIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pubkey": "0x" + hex.EncodeToString(pubkey)})
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := s.kernel.GetAddress(caller, accountIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr})
}

type transferOwnershipRequest struct {
	NewOwner interfaces.Principal `json:"newOwner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferOwnershipRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	newIndex, err := s.kernel.TransferOwnership(caller, accountIndex, req.NewOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"newAccountIndex": newIndex})
}

type enterEncumbranceRequest struct {
	Assets []interfaces.AssetTag `json:"assets"`
	Policy interfaces.Principal  `json:"policy"`
	Expiry uint64                `json:"expiry"`
	Data   []byte                `json:"data"`
	Now    uint64                `json:"now"`
}

func (s *Server) handleEnterEncumbrance(w http.ResponseWriter, r *http.Request) {
	var req enterEncumbranceRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.EnterEncumbrance(caller, accountIndex, req.Assets, req.Policy, req.Expiry, req.Data, req.Now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "encumbered"})
}

type signMessageRequest struct {
	Payload []byte `json:"payload"`
	Now     uint64 `json:"now"`
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req signMessageRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	walletAddr, err := pathAddress(r, "walletAddr")
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := s.kernel.SignMessage(caller, walletAddr, req.Payload, req.Now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": "0x" + hex.EncodeToString(sig)})
}

type signTypedDataRequest struct {
	Domain      assetclass.TypedDataDomain `json:"domain"`
	TypeHash    [32]byte                   `json:"typeHash"`
	EncodedData []byte                     `json:"encodedData"`
	Now         uint64                     `json:"now"`
}

func (s *Server) handleSignTypedData(w http.ResponseWriter, r *http.Request) {
	var req signTypedDataRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	walletAddr, err := pathAddress(r, "walletAddr")
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := s.kernel.SignTypedData(caller, walletAddr, req.Domain, req.TypeHash, req.EncodedData, req.Now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": "0x" + hex.EncodeToString(sig)})
}

type requestKeyExportRequest struct {
	CounterpartyPk        [32]byte `json:"counterpartyPk"`
	TagCiphertext         []byte   `json:"tagCiphertext"`
	TagNonce              [24]byte `json:"tagNonce"`
	Now                   uint64   `json:"now"`
	RegistryExportPrivkey [32]byte `json:"registryExportPrivkey"`
}

func (s *Server) handleRequestKeyExport(w http.ResponseWriter, r *http.Request) {
	var req requestKeyExportRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.RequestKeyExport(caller, accountIndex, req.CounterpartyPk, req.TagCiphertext, req.TagNonce, req.Now, req.RegistryExportPrivkey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

type exportKeyRequest struct {
	RegistryExportPrivkey [32]byte `json:"registryExportPrivkey"`
}

func (s *Server) handleExportKey(w http.ResponseWriter, r *http.Request) {
	var req exportKeyRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	ciphertext, nonce, quote, err := s.kernel.ExportKey(caller, accountIndex, req.RegistryExportPrivkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ciphertext": "0x" + hex.EncodeToString(ciphertext),
		"nonce":      "0x" + hex.EncodeToString(nonce[:]),
		"quote":      "0x" + hex.EncodeToString(quote),
	})
}

func (s *Server) handleDestroyExportedKey(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	accountIndex, err := pathAccountIndex(r, "accountIndex")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.DestroyExportedKey(caller, accountIndex); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func (s *Server) handleAttendedWallets(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.kernel.AttendedWallets(caller))
}

type enterSubLeaseRequest struct {
	Account                interfaces.WalletAddress `json:"account"`
	Destinations           []ethtx.Destination      `json:"destinations"`
	SubPolicy              interfaces.Principal     `json:"subPolicy"`
	Expiry                 uint64                   `json:"expiry"`
	SigCommitmentsRequired bool                     `json:"sigCommitmentsRequired"`
	UsesDepositControl     bool                     `json:"usesDepositControl"`
	Now                    uint64                   `json:"now"`
}

func (s *Server) handleEnterSubLease(w http.ResponseWriter, r *http.Request) {
	var req enterSubLeaseRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.EnterSubLease(caller, req.Account, req.Destinations, req.SubPolicy, req.Expiry, req.SigCommitmentsRequired, req.UsesDepositControl, req.Now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "leased"})
}

type depositLocalFundsRequest struct {
	ChainID uint64 `json:"chainID"`
	Amount  string `json:"amount"`
}

func (s *Server) handleDepositLocalFunds(w http.ResponseWriter, r *http.Request) {
	var req depositLocalFundsRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	s.kernel.DepositLocalFunds(caller, account, req.ChainID, amount)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleFinalizeLocalFunds(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("invalid chainID: %w", err))
		return
	}
	if err := s.kernel.FinalizeLocalFunds(caller, account, chainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

type commitToTransactionRequest struct {
	Tx ethtx.UnsignedTx `json:"tx"`
}

func (s *Server) handleCommitToTransaction(w http.ResponseWriter, r *http.Request) {
	var req commitToTransactionRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	nonce, err := s.kernel.CommitToTransaction(caller, account, &req.Tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

type signTransactionRequest struct {
	Tx  ethtx.UnsignedTx `json:"tx"`
	Now uint64           `json:"now"`
}

func (s *Server) handleSignTransaction(w http.ResponseWriter, r *http.Request) {
	var req signTransactionRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := s.kernel.SignTransaction(caller, account, &req.Tx, req.Now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": "0x" + hex.EncodeToString(sig)})
}

type commitToDepositRequest struct {
	SignedTxHash [32]byte `json:"signedTxHash"`
	Now          uint64   `json:"now"`
}

func (s *Server) handleCommitToDeposit(w http.ResponseWriter, r *http.Request) {
	var req commitToDepositRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.CommitToDeposit(caller, req.SignedTxHash, req.Now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

type depositFundsRequest struct {
	SignedTxRaw []byte                      `json:"signedTxRaw"`
	Proof       interfaces.TxInclusionProof `json:"proof"`
	HeaderRLP   []byte                      `json:"headerRLP"`
}

func (s *Server) handleDepositFunds(w http.ResponseWriter, r *http.Request) {
	var req depositFundsRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.kernel.DepositFunds(caller, req.SignedTxRaw, req.Proof, req.HeaderRLP); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

type proveTransactionInclusionRequest struct {
	SignedTxRaw []byte                      `json:"signedTxRaw"`
	Proof       interfaces.TxInclusionProof `json:"proof"`
	HeaderRLP   []byte                      `json:"headerRLP"`
}

// handleProveTransactionInclusion has no caller principal: proving inclusion
// of an already-signed transaction is permissionless, as spec.md's G
// component describes it. The reimbursement is debited from the sub-policy's
// local collateral and reported in the response; since the route carries no
// caller identity, no balance of the submitter is credited. The
// header itself is still authenticated: the kernel rejects any headerRLP
// that doesn't hash to the block hash its oracle attests to.
func (s *Server) handleProveTransactionInclusion(w http.ResponseWriter, r *http.Request) {
	var req proveTransactionInclusionRequest
	if _, err := readBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reimbursement, err := s.kernel.ProveTransactionInclusion(req.SignedTxRaw, req.Proof, req.HeaderRLP)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reimbursement": reimbursement.String()})
}

func (s *Server) handleReleaseCommitmentRequirement(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, &struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := recoverPrincipal(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := pathAddress(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("invalid chainID: %w", err))
		return
	}
	if err := s.kernel.ReleaseCommitmentRequirement(caller, account, chainID, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
