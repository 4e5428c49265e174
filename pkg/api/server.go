package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/gorilla/mux"
)

const (
	// DefaultListenAddr is the admin API address when none is configured
	DefaultListenAddr = "0.0.0.0:8053"

	shutdownTimeout = 5 * time.Second
)

// Registry is the registry surface the admin API drives
type Registry interface {
	Add(key string, names []string)
	Get(key string) []string
	Remove(key string)
	ActivateStatic(domain, addr string)
	DeactivateStatic(domain string)
	StaticAddrs(domain string) []string
	Dump() ([]byte, error)
}

// Config holds admin API configuration
type Config struct {
	ListenAddr string                 // Address to listen on (default: 0.0.0.0:8053)
	Broker     *events.Broker         // Enables GET /events when set
	Health     *metrics.HealthChecker // Serves /health and /ready when set
}

// Server is the HTTP admin API
type Server struct {
	registry   Registry
	broker     *events.Broker
	health     *metrics.HealthChecker
	listenAddr string
	router     *mux.Router

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer creates a new admin API server
func NewServer(reg Registry, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}

	s := &Server{
		registry:   reg,
		broker:     config.Broker,
		health:     config.Health,
		listenAddr: config.ListenAddr,
	}
	if s.listenAddr == "" {
		s.listenAddr = DefaultListenAddr
	}
	if s.health == nil {
		s.health = metrics.NewHealthChecker("")
	}

	r := mux.NewRouter()
	r.Use(instrument)
	s.routes(r)
	s.router = r

	return s
}

func (s *Server) routes(r *mux.Router) {
	c := r.Path("/container/{label}/{arg}").Subrouter()
	c.Methods(http.MethodGet).HandlerFunc(s.getContainer)
	c.Methods(http.MethodPut).HandlerFunc(s.putContainer)
	c.Methods(http.MethodDelete).HandlerFunc(s.deleteContainer)

	d := r.Path("/domain/{domain}").Subrouter()
	d.Methods(http.MethodGet).HandlerFunc(s.getDomain)
	d.Methods(http.MethodPut).HandlerFunc(s.putDomain)
	d.Methods(http.MethodDelete).HandlerFunc(s.deleteDomain)

	r.Path("/debug").Methods(http.MethodGet).HandlerFunc(s.getDebug)
	r.Path("/events").Methods(http.MethodGet).HandlerFunc(s.streamEvents)

	r.Path("/health").Methods(http.MethodGet).HandlerFunc(s.health.HealthHandler())
	r.Path("/ready").Methods(http.MethodGet).HandlerFunc(s.health.ReadyHandler())
	r.Path("/metrics").Methods(http.MethodGet).Handler(metrics.Handler())
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the TCP listener. Serve calls it when not bound yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		s.health.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(l)
	}()

	log.Logger.Info().
		Str("component", "api").
		Str("address", l.Addr().String()).
		Msg("admin API started")
	s.health.UpdateComponent(metrics.ComponentAPI, true, "")

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			_ = server.Close()
		}
		err = <-errCh
	}

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	s.health.UpdateComponent(metrics.ComponentAPI, false, "stopped")

	log.Logger.Info().
		Str("component", "api").
		Msg("admin API stopped")

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Response is the envelope of every admin API reply
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// RecordResponse is returned by lookups
type RecordResponse struct {
	Code   int      `json:"code"`
	Record []string `json:"record"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, Response{Code: 0})
}

func fail(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, Response{Code: 1, Message: fmt.Sprintf(format, args...)})
}

func record(w http.ResponseWriter, names []string) {
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, RecordResponse{Code: 0, Record: names})
}
