// Package health implements the worker's liveness/readiness/metrics HTTP
// surface on a chi.Router.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"transcode-worker/internal/metrics"
)

// Status reports how full the pipeline's concurrency semaphore is. The
// ready and draining flags live on Server itself.
type Status interface {
	// InUse and MaxConcurrency together derive load = in_use/max, clamped
	// to [0,1].
	InUse() int
	MaxConcurrency() int
}

// Server is the worker's health, readiness, build, and metrics HTTP
// endpoint. A crashing Server is a fatal condition for the process; a
// crashing heartbeat is not.
type Server struct {
	buildVersion string
	metrics      *metrics.Registry
	status       Status

	ready    atomic.Bool
	draining atomic.Bool

	router chi.Router
}

// New builds a Server bound to buildVersion and metricsReg. status is
// queried live on every /_state request.
func New(buildVersion string, metricsReg *metrics.Registry, status Status) *Server {
	s := &Server{buildVersion: buildVersion, metrics: metricsReg, status: status}

	r := chi.NewRouter()
	r.Get("/_health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/_build", s.handleBuild)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/_state", s.handleState)
	s.router = r

	return s
}

// SetReady flips the readiness flag observed by /readyz and /_state.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// SetDraining flips the draining flag observed by /readyz and /_state.
func (s *Server) SetDraining(draining bool) { s.draining.Store(draining) }

// ListenAndServe blocks serving the router on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	switch {
	case s.draining.Load():
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("DRAINING"))
	case s.ready.Load():
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_READY"))
	}
}

func (s *Server) handleBuild(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.buildVersion))
}

func (s *Server) load() float64 {
	max := s.status.MaxConcurrency()
	if max <= 0 {
		return 0
	}
	load := float64(s.status.InUse()) / float64(max)
	switch {
	case load < 0:
		return 0
	case load > 1:
		return 1
	default:
		return load
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	ready := s.ready.Load() && !s.draining.Load()
	body := map[string]any{
		"ready":    ready,
		"draining": s.draining.Load(),
		"load":     s.load(),
	}
	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
