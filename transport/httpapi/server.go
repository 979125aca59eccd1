// Package httpapi exposes graph.Executor's operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/flowforge/graphrun/graph"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server wraps a graph.Executor behind a chi router.
type Server struct {
	executor *graph.Executor
	router   chi.Router

	mu      sync.Mutex
	streams map[string]*stepBroker
}

// NewServer builds a Server around executor.
func NewServer(executor *graph.Executor) *Server {
	s := &Server{executor: executor, streams: make(map[string]*stepBroker)}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP satisfies http.Handler, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr with timeouts sized for
// long-running executions (§4.3's streaming contract has no fixed deadline).
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/graphs/validate", s.handleValidate)
	r.Post("/executions", s.handleExecute)
	r.Post("/executions/stream", s.handleExecuteStream)
	r.Get("/executions/{id}", s.handleGetExecution)
	r.Get("/executions/{id}/stream", s.handleStreamSubscribe)
	r.Post("/executions/{id}/pause", s.handlePause)
	r.Post("/executions/{id}/resume", s.handleResume)
	r.Post("/executions/{id}/cancel", s.handleCancel)

	return r
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var def graph.GraphDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, graph.Validate(&def))
}

// executeRequest is the body accepted by POST /executions and
// POST /executions/stream: a graph definition, the execution input, and any
// runtime config to carry into the compiled plan.
type executeRequest struct {
	Graph         graph.GraphDefinition `json:"graph"`
	Input         graph.ExecutionInput  `json:"input"`
	RuntimeConfig map[string]any        `json:"runtimeConfig"`
}

func (s *Server) compile(req executeRequest) (*graph.ExecutableGraph, error) {
	return graph.Compile(&req.Graph, req.RuntimeConfig)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	compiled, err := s.compile(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	out, err := s.executor.ExecuteGraph(r.Context(), compiled, req.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExecuteStream starts an execution in the background and returns its
// execution id immediately; subscribe to progress via
// GET /executions/{id}/stream.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	compiled, err := s.compile(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if req.Input.ExecutionID == "" {
		req.Input.ExecutionID = uuid.NewString()
	}
	executionID := req.Input.ExecutionID

	broker := newStepBroker()
	s.mu.Lock()
	s.streams[executionID] = broker
	s.mu.Unlock()

	ctx := context.Background()
	go func() {
		defer broker.close()
		_, _ = s.executor.Stream(ctx, compiled, req.Input, broker.publish)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"executionId": executionID})
}

func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	broker, ok := s.streams[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown execution stream", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	sub, history, unsubscribe := broker.subscribe()
	defer unsubscribe()

	for _, step := range history {
		writeSSE(w, step)
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case step, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(w, step)
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.executor.GetExecutionState(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.executor.PauseExecution(id)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.executor.ResumeExecution(id)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.executor.CancelExecution(id)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
