// Package http implements the query and action API over the session
// registry.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/history"
	"github.com/brianly1003/devtap/internal/registry"
)

// Server is the HTTP API server.
type Server struct {
	addr       string
	httpServer *http.Server

	store   *registry.Store
	eval    *cdp.Evaluator
	history *history.Store
}

// New creates a new HTTP server. The history store may be nil when
// change persistence is disabled.
func New(host string, port int, store *registry.Store, eval *cdp.Evaluator, hist *history.Store) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)

	s := &Server{
		addr:    addr,
		store:   store,
		eval:    eval,
		history: hist,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}/snapshot", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/sessions/{id}/style", s.handleGetStyle).Methods("GET")
	api.HandleFunc("/sessions/{id}/conversation", s.handleGetConversation).Methods("GET")
	api.HandleFunc("/sessions/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/sessions/{id}/input", s.handleInput).Methods("POST")
	api.HandleFunc("/sessions/{id}/evaluate", s.handleEvaluate).Methods("POST")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("HTTP server starting")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"sessions":  s.store.Len(),
		"timestamp": time.Now().Unix(),
	})
}

// handleListSessions handles GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.store.Listing(),
	})
}

// entry resolves the {id} path variable into a registry entry.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) *registry.Entry {
	id := mux.Vars(r)["id"]
	entry := s.store.Get(id)
	if entry == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("unknown session: %s", id))
		return nil
	}
	return entry
}

// handleGetSnapshot handles GET /api/sessions/{id}/snapshot
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	snapshot := entry.Snapshot()
	if snapshot == nil {
		s.respondError(w, http.StatusNotFound, "no snapshot captured yet")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":          entry.ID(),
		"fingerprint": entry.Fingerprint(),
		"snapshot":    json.RawMessage(snapshot),
	})
}

// handleGetStyle handles GET /api/sessions/{id}/style
func (s *Server) handleGetStyle(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	style := entry.Style()
	if style == nil {
		s.respondError(w, http.StatusNotFound, "no style captured")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":    entry.ID(),
		"style": json.RawMessage(style),
	})
}

// handleGetConversation handles GET /api/sessions/{id}/conversation
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":              entry.ID(),
		"conversation_id": entry.Meta().ConversationID,
	})
}

// handleGetHistory handles GET /api/sessions/{id}/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history persistence is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	changes, err := s.history.Changes(entry.ID(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":      entry.ID(),
		"changes": changes,
	})
}

// inputRequest is the body of POST /api/sessions/{id}/input: a raw
// protocol call forwarded to the session. The caller supplies the action
// content; the server only provides the plumbing.
type inputRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// handleInput handles POST /api/sessions/{id}/input
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method == "" {
		s.respondError(w, http.StatusBadRequest, "body must be {method, params}")
		return
	}

	var params interface{}
	if len(req.Params) > 0 {
		params = req.Params
	}

	result, err := entry.Session().Call(r.Context(), req.Method, params)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     entry.ID(),
		"result": json.RawMessage(result),
	})
}

// evaluateRequest is the body of POST /api/sessions/{id}/evaluate.
type evaluateRequest struct {
	Expression string `json:"expression"`
	ContextID  int64  `json:"context_id,omitempty"`
}

// handleEvaluate handles POST /api/sessions/{id}/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	entry := s.entry(w, r)
	if entry == nil {
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Expression == "" {
		s.respondError(w, http.StatusBadRequest, "body must carry an expression")
		return
	}

	contextID := req.ContextID
	if contextID == 0 {
		contextID = entry.ContextID()
	}

	value, err := s.eval.Evaluate(r.Context(), entry.Session(), req.Expression, contextID)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":    entry.ID(),
		"value": json.RawMessage(value),
	})
}

// respondJSON writes a JSON response with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// respondError writes a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware allows cross-origin requests from local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
