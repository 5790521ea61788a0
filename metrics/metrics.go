// Package metrics holds the tag's Prometheus collectors and the server exposing them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hybridtag"

var (
	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rotations_total",
		Help:      "Protocol rotations, by protocol switched to.",
	}, []string{"protocol"})

	AdvertisingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advertising_errors_total",
		Help:      "Radio failures during advertising refresh, by operation.",
	}, []string{"op"})

	ProvisioningWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provisioning_writes_total",
		Help:      "Provisioning characteristic writes, by characteristic and result.",
	}, []string{"characteristic", "result"})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_commits_total",
		Help:      "Identity commits handled by the deferred worker, by result.",
	}, []string{"result"})

	Provisioned = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provisioned",
		Help:      "1 when the tag runs with provisioned keys.",
	})
)

// Server serves /metrics on its own listen address.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, log *slog.Logger) *Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// RunInBackground starts serving until Shutdown is called.
func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("Starting metrics server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
