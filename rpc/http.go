package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pegvault/native/vault"
	"pegvault/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// rpcTokenEnv names the environment variable holding the bearer token
	// required on every mutating method.
	rpcTokenEnv = "PEGVAULT_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	// codeBounce carries the human-readable rejection for triggers the vault
	// refused. The payment reversal happens at the ledger layer.
	codeBounce = -32050
)

// mutatingMethods lists the triggers that change vault state and therefore
// require bearer-token authentication.
var mutatingMethods = map[string]bool{
	"vault_define":        true,
	"vault_issue":         true,
	"vault_addCollateral": true,
	"vault_repay":         true,
	"vault_mint":          true,
	"vault_redeem":        true,
	"vault_seize":         true,
	"vault_endAuction":    true,
	"vault_expire":        true,
}

// Server exposes the vault triggers over JSON-RPC.
type Server struct {
	engine    *vault.Engine
	state     *vault.State
	log       *slog.Logger
	metrics   *observability.VaultMetrics
	authToken string
}

// NewServer wires the RPC surface to the vault engine and its state accessor.
// The bearer token for mutating methods is read from PEGVAULT_RPC_TOKEN.
func NewServer(engine *vault.Engine, state *vault.State, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		state:     state,
		log:       logger.With("component", "rpc"),
		metrics:   observability.Vault(),
		authToken: strings.TrimSpace(os.Getenv(rpcTokenEnv)),
	}
}

// requireAuth validates the bearer token on mutating methods. A server
// without a configured token refuses all mutating calls.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "bearer token required"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/rpc", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	if s.authToken == "" {
		s.log.Warn("no RPC token configured, mutating methods will be refused", "env", rpcTokenEnv)
	}
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to the trigger handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutatingMethods[req.Method] {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
			return
		}
	}

	switch req.Method {
	case "vault_define":
		s.observe(req.Method, func() string { return s.handleDefine(w, req) })
	case "vault_issue":
		s.observe(req.Method, func() string { return s.handleIssue(w, req) })
	case "vault_addCollateral":
		s.observe(req.Method, func() string { return s.handleAddCollateral(w, req) })
	case "vault_repay":
		s.observe(req.Method, func() string { return s.handleRepay(w, req) })
	case "vault_mint":
		s.observe(req.Method, func() string { return s.handleMint(w, req) })
	case "vault_redeem":
		s.observe(req.Method, func() string { return s.handleRedeem(w, req) })
	case "vault_seize":
		s.observe(req.Method, func() string { return s.handleSeize(w, req) })
	case "vault_endAuction":
		s.observe(req.Method, func() string { return s.handleEndAuction(w, req) })
	case "vault_expire":
		s.observe(req.Method, func() string { return s.handleRecordExpiry(w, req) })
	case "vault_position":
		s.handleGetPosition(w, req)
	case "vault_state":
		s.handleGetState(w, req)
	case "vault_balance":
		s.handleGetBalance(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// observe times a trigger handler and feeds the outcome into the metrics
// registry. The handler returns the bounce reason, empty on success.
func (s *Server) observe(op string, fn func() string) {
	start := time.Now()
	reason := fn()
	s.metrics.ObserveTrigger(op, reason, time.Since(start))
	s.refreshSupply()
}

// refreshSupply mirrors the circulating supply into the metrics gauge after
// each trigger.
func (s *Server) refreshSupply() {
	supply, err := s.state.CirculatingSupply()
	if err != nil {
		s.log.Warn("failed to read circulating supply", "error", err)
		return
	}
	value, _ := new(big.Float).SetInt(supply).Float64()
	s.metrics.SetSupply(value)
}
