// Package admin serves the engine's operational HTTP surface: health
// probes, Prometheus metrics, and an environment introspection endpoint.
// It deliberately uses the plain net/http mux; there is no REST resource
// model here to route.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"

	core "github.com/arpa2/lcengine/internal/core/service"
	"github.com/arpa2/lcengine/internal/engine"
	"github.com/arpa2/lcengine/internal/metrics"
	"github.com/arpa2/lcengine/pkg/logger"
)

// EnvLister supplies the environments to introspect. It is a function so the
// host can add or remove environments without restarting the server.
type EnvLister func() []*engine.Env

// Server is the admin HTTP surface, started and stopped through the
// system.Service contract.
type Server struct {
	addr   string
	log    *logger.Logger
	envs   EnvLister
	srv    *http.Server
	ln     net.Listener
	ready  atomic.Bool
	closed atomic.Bool
}

// NewServer builds an admin server bound to addr.
func NewServer(addr string, envs EnvLister, log *logger.Logger) *Server {
	return &Server{addr: addr, log: log, envs: envs}
}

// Name implements system.Service.
func (s *Server) Name() string { return "admin-http" }

// Descriptor advertises the admin surface to the system layer.
func (s *Server) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         s.Name(),
		Domain:       "lifecycle",
		Layer:        core.LayerAdmin,
		Capabilities: []string{"health", "metrics", "introspection"},
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleOK)
	mux.HandleFunc("/livez", s.handleOK)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/environments", s.handleEnvironments)
	return metrics.InstrumentHandler(mux)
}

func (s *Server) handleOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	statuses := make([]engine.Status, 0)
	for _, e := range s.envs() {
		statuses = append(statuses, e.Status())
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		s.log.Errorf("encode environment statuses: %v", err)
	}
}

// Start implements system.Service. It binds the listener synchronously so
// callers see address errors, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.handler()}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("admin server: %v", err)
		}
	}()
	s.ready.Store(true)
	s.log.WithField("addr", ln.Addr().String()).Info("admin server listening")
	return nil
}

// Addr returns the bound listen address, useful when the configured port is
// 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop implements system.Service.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil || s.closed.Swap(true) {
		return nil
	}
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}
