package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// SelectionFunc returns the current selection. It is called from the HTTP
// goroutine and must be safe for that.
type SelectionFunc func() model.SelectionState

// StatusServer serves the live selection at /status and the query metrics
// at /metrics.
type StatusServer struct {
	addr     string
	current  SelectionFunc
	gatherer prometheus.Gatherer
	server   *http.Server
	listener net.Listener
}

// NewStatusServer creates a server bound to addr once Start is called. A
// nil gatherer serves the default registry.
func NewStatusServer(addr string, current SelectionFunc, gatherer prometheus.Gatherer) *StatusServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &StatusServer{
		addr:     addr,
		current:  current,
		gatherer: gatherer,
	}
}

// Handler returns the server's routes
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return noCacheMiddleware(mux)
}

// Start listens and serves in the background
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	go srv.Serve(ln) // returns http.ErrServerClosed after Stop
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *StatusServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the base URL of the server
func (s *StatusServer) URL() string {
	return "http://" + s.Addr()
}

// Stop gracefully stops the server
func (s *StatusServer) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// statusHandler returns the current manifest as JSON
func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	sel := model.NewSelectionState()
	if s.current != nil {
		sel = s.current()
	}
	json.NewEncoder(w).Encode(NewManifest(sel, nil))
}

// noCacheMiddleware adds headers to prevent caching.
func noCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}
