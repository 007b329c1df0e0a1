// Package metrics exposes the kernel's prometheus surface: counters for
// signing outcomes, lease lifecycle, sub-balance movement and inclusion
// proof latency.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquefaction_sign_attempts_total",
		Help: "sign_message/sign_typed_data attempts by outcome",
	}, []string{"outcome"})

	LeasesGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquefaction_leases_granted_total",
		Help: "encumbrance leases successfully installed",
	})

	LeasesDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquefaction_leases_denied_total",
		Help: "enter_encumbrance calls refused, by reason",
	}, []string{"reason"})

	SubBalanceDelta = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquefaction_sub_balance_delta_wei_total",
		Help: "cumulative wei moved in/out of sub-policy ETH balances",
	}, []string{"direction"})

	InclusionProofLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquefaction_inclusion_proof_seconds",
		Help:    "wall-clock time spent verifying an inclusion proof",
		Buckets: prometheus.DefBuckets,
	})

	WalletsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquefaction_wallets_created_total",
		Help: "create_wallet calls that produced a new wallet",
	})
)

// Server is a side listener serving /metrics, mirroring the teacher's
// httpserver.HTTPServerConfig split between the operation API and metrics.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		log:        log,
	}
}

func (s *Server) RunInBackground() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server exited", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
