// Package rpc implements the JSON-RPC 2.0 server for X1-Ballot.
//
// The API follows the Solana JSON-RPC conventions so existing tooling can
// talk to a ballot node, and adds poll-specific reads.
//
// Supported methods:
//   - Cluster: getHealth, getVersion, getSlot, getLatestBlockhash
//   - Account: getAccountInfo, getBalance, getMinimumBalanceForRentExemption
//   - Transaction: sendTransaction, simulateTransaction, getTransaction,
//     getSignaturesForAddress, requestAirdrop
//   - Polls: getPollAddress, getPoll
//
// Polls can also be read over REST at GET /polls/{owner}/{uid} and
// GET /polls/{owner}/{uid}/address.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/pkg/bank"
)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool

	// Version is reported by getVersion.
	Version string
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024,
		EnableCORS:     true,
		Version:        "dev",
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config
	bank   *bank.Bank

	healthMu sync.RWMutex
	healthy  bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

type methodFunc func(s *Server, params json.RawMessage) (interface{}, *RPCError)

var methods = map[string]methodFunc{
	"getHealth":          (*Server).getHealth,
	"getVersion":         (*Server).getVersion,
	"getSlot":            (*Server).getSlot,
	"getLatestBlockhash": (*Server).getLatestBlockhash,

	"getAccountInfo":                    (*Server).getAccountInfo,
	"getBalance":                        (*Server).getBalance,
	"getMinimumBalanceForRentExemption": (*Server).getMinimumBalanceForRentExemption,

	"requestAirdrop":          (*Server).requestAirdrop,
	"sendTransaction":         (*Server).sendTransaction,
	"simulateTransaction":     (*Server).simulateTransaction,
	"getTransaction":          (*Server).getTransaction,
	"getSignaturesForAddress": (*Server).getSignaturesForAddress,

	"getPollAddress": (*Server).getPollAddress,
	"getPoll":        (*Server).getPoll,
}

// New creates a new RPC server.
func New(config Config, b *bank.Bank) *Server {
	return &Server{config: config, bank: b, healthy: true}
}

// Handler returns the HTTP handler serving the RPC and REST routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.config.LogRequests {
		r.Use(logRequests)
	}
	r.Use(s.corsMiddleware)

	r.Post("/", s.handleRPC)
	r.Get("/health", s.handleHealth)
	r.Route("/polls/{owner}/{uid}", func(r chi.Router) {
		r.Get("/", s.handleGetPoll)
		r.Get("/address", s.handleGetPollAddress)
	})
	return r
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { shutdown(srv) })
	defer stop()

	klog.InfoS("RPC server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return shutdown(srv)
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// logRequests logs every HTTP request with its status and latency.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		klog.InfoS("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
			h.Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin may call the API. An empty allow
// list admits everyone.
func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.IsHealthy() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// handleRPC serves single and batch JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		writeJSON(w, http.StatusOK, Response{JSONRPC: JSONRPCVersion, Error: ErrInvalidRequest})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		writeJSON(w, http.StatusOK, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}

	if len(body) > 0 && body[0] == '[' {
		var batch []Request
		switch err := json.Unmarshal(body, &batch); {
		case err != nil:
			writeJSON(w, http.StatusOK, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		case len(batch) == 0:
			writeJSON(w, http.StatusOK, Response{JSONRPC: JSONRPCVersion, Error: ErrInvalidRequest})
		default:
			responses := make([]Response, len(batch))
			for i, req := range batch {
				responses[i] = s.serve(req)
			}
			writeJSON(w, http.StatusOK, responses)
		}
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}
	writeJSON(w, http.StatusOK, s.serve(req))
}

func (s *Server) serve(req Request) Response {
	resp := Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if req.JSONRPC != JSONRPCVersion {
		resp.Error = ErrInvalidRequest
		return resp
	}
	method, ok := methods[req.Method]
	if !ok {
		resp.Error = NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
		return resp
	}
	result, rpcErr := method(s, req.Params)
	if rpcErr != nil {
		klog.V(2).InfoS("RPC request failed", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.V(2).InfoS("Failed to write response", "err", err)
	}
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
