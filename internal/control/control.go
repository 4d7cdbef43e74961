// Package control is the small HTTP endpoint that reads and writes the
// filter list (spec.md §6's "optional sidecar HTTP endpoint", specified
// concretely in SPEC_FULL.md §4.12). Routing style grounded on
// internal/api/server.go (Server struct holding logger + cfg, Run(ctx)
// blocking lifecycle); request validation grounded on original src/api.rs's
// GET list / POST replace-all-or-nothing semantics.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/PayRpc/geyser-sprint/internal/filterstore"
	"github.com/PayRpc/geyser-sprint/internal/hostadapter"
)

// pubkey strings are validated the same way internal/blocks/solana's
// validator checks blockhashes/pubkeys: plausible base58 length, 32-44.
const (
	minPubkeyLen = 32
	maxPubkeyLen = 44
)

// Server is the control-plane HTTP server.
type Server struct {
	addr    string
	store   filterstore.Store
	filters *hostadapter.GeyserFilters
	logger  *zap.Logger
	http    *http.Server
}

// New constructs a control Server bound to addr, backed by store for
// persistence and filters for the live in-process predicate.
func New(addr string, store filterstore.Store, filters *hostadapter.GeyserFilters, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, store: store, filters: filters, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/filters", s.handleGetFilters).Methods(http.MethodGet)
	router.HandleFunc("/filters", s.handlePostFilters).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully (mirrors internal/api/server.go's Run(ctx) lifecycle).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control endpoint listening", zap.String("addr", s.addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	pubkeys, err := s.store.Get(r.Context())
	if err != nil {
		s.logger.Warn("filter store get failed", zap.Error(err))
		http.Error(w, "filter store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pubkeys)
}

func (s *Server) handlePostFilters(w http.ResponseWriter, r *http.Request) {
	var pubkeys []string
	if err := json.NewDecoder(r.Body).Decode(&pubkeys); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	// All-or-nothing: a single malformed pubkey rejects the whole request,
	// leaving the prior filter set in effect (original src/api.rs).
	for _, k := range pubkeys {
		if len(k) < minPubkeyLen || len(k) > maxPubkeyLen {
			http.Error(w, fmt.Sprintf("invalid pubkey %q", k), http.StatusBadRequest)
			return
		}
	}

	if err := s.store.Set(r.Context(), pubkeys); err != nil {
		s.logger.Warn("filter store set failed", zap.Error(err))
		http.Error(w, "filter store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.filters.UpdateFilters(pubkeys)

	w.WriteHeader(http.StatusNoContent)
}
