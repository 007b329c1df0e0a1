// Package httpapi is the kernel's HTTP transport: a thin chi router that
// recovers a caller principal from each request's signature and dispatches
// to a *kernel.Kernel, adapted from httpserver/server.go's router/readiness
// shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/ruteri/liquefaction/kernel"
	"github.com/ruteri/liquefaction/kernelerr"
)

// Config bundles the transport-level settings, mirroring
// httpserver.HTTPServerConfig minus the metrics sub-server (metrics is its
// own listener wired directly in cmd/kerneld).
type Config struct {
	ListenAddr  string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server is the kernel's HTTP front door. One instance owns one *http.Server
// and one *kernel.Kernel; every request is dispatched through the kernel's
// own mutex, so this layer adds no additional serialization.
type Server struct {
	cfg     Config
	kernel  *kernel.Kernel
	isReady atomic.Bool
	log     *slog.Logger
	srv     *http.Server
}

func New(cfg Config, k *kernel.Kernel) *Server {
	s := &Server{cfg: cfg, kernel: k, log: cfg.Log}
	s.isReady.Store(true)
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.httpLogger)

	mux.Get("/livez", s.handleLivez)
	mux.Get("/readyz", s.handleReadyz)
	mux.Get("/drain", s.handleDrain)
	mux.Get("/undrain", s.handleUndrain)

	mux.Route("/api/v1", func(r chi.Router) {
		r.Post("/wallets/{accountIndex}", s.handleCreateWallet)
		r.Get("/wallets/{accountIndex}/pubkey", s.handleGetPublicKey)
		r.Get("/wallets/{accountIndex}/address", s.handleGetAddress)
		r.Post("/wallets/{accountIndex}/transfer", s.handleTransferOwnership)
		r.Post("/wallets/{accountIndex}/encumbrances", s.handleEnterEncumbrance)
		r.Post("/wallets/{walletAddr}/sign-message", s.handleSignMessage)
		r.Post("/wallets/{walletAddr}/sign-typed-data", s.handleSignTypedData)
		r.Post("/wallets/{accountIndex}/export-request", s.handleRequestKeyExport)
		r.Post("/wallets/{accountIndex}/export", s.handleExportKey)
		r.Delete("/wallets/{accountIndex}/export", s.handleDestroyExportedKey)
		r.Get("/attended-wallets", s.handleAttendedWallets)

		r.Post("/ethtx/sub-leases", s.handleEnterSubLease)
		r.Post("/ethtx/{account}/local-deposits", s.handleDepositLocalFunds)
		r.Post("/ethtx/{account}/local-deposits/{chainID}/finalize", s.handleFinalizeLocalFunds)
		r.Post("/ethtx/{account}/transactions/commit", s.handleCommitToTransaction)
		r.Post("/ethtx/{account}/transactions/sign", s.handleSignTransaction)
		r.Post("/ethtx/deposits/commit", s.handleCommitToDeposit)
		r.Post("/ethtx/deposits", s.handleDepositFunds)
		r.Post("/ethtx/deposits/prove", s.handleProveTransactionInclusion)
		r.Post("/ethtx/{account}/{chainID}/{to}/release-commitment", s.handleReleaseCommitmentRequirement)
	})

	if s.cfg.EnablePprof {
		s.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Swap(false) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}
	s.log.Info("server marked as not ready")
	go func() {
		time.Sleep(s.cfg.DrainDuration)
		s.log.Info("drain period completed")
	}()
	writeJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.isReady.Swap(true) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already ready"})
		return
	}
	s.log.Info("server marked as ready")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("starting kernel http server", "listenAddress", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("kernel http server failed", "err", err)
		}
	}()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("graceful kernel http server shutdown failed", "err", err)
	} else {
		s.log.Info("kernel http server gracefully stopped")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch kernelerr.KindOf(err) {
	case kernelerr.NotAuthorized, kernelerr.NotLeaseholder, kernelerr.NotCommitter, kernelerr.WrongExportTag:
		status = http.StatusForbidden
	case kernelerr.WalletNotFound, kernelerr.AssetUnknown:
		status = http.StatusNotFound
	case kernelerr.Pending, kernelerr.Expired, kernelerr.AlreadyEncumbered, kernelerr.Exported,
		kernelerr.AlreadySeen, kernelerr.InsufficientBalance, kernelerr.CommitmentRequired,
		kernelerr.CommitmentTooEarly, kernelerr.BadNonce, kernelerr.ProofMismatch:
		status = http.StatusConflict
	case kernelerr.InvalidArgument:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
