package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// httpServer is the assistant's HTTP driver: a thin JSON API over
// internal/assistant.Orchestrator, grounded on
// internal/gateway/http_server.go's listener/mux/graceful-shutdown shape.
// It is not part of the orchestration core's contract (spec Non-goals: "no
// wire transport is mandated") — one concrete driver among possible others.
type httpServer struct {
	addr     string
	runtime  *bootstrap.Runtime
	server   *http.Server
	listener net.Listener
}

func newHTTPServer(addr string, rt *bootstrap.Runtime) *httpServer {
	return &httpServer{addr: addr, runtime: rt}
}

func (s *httpServer) start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/questions", s.handleQuestion)
	mux.HandleFunc("/v1/questions/stream", s.handleQuestionStream)
	mux.HandleFunc("/v1/workflows/", s.handleWorkflow)
	mux.HandleFunc("/v1/chats", s.handleListChats)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	return nil
}

func (s *httpServer) stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
}

type questionRequest struct {
	Question string `json:"question"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	Model    string `json:"model"`
}

func (s *httpServer) handleQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, assistantapi.ErrorKindValidation, err)
		return
	}
	resp := s.runtime.Orchestrator.ProcessQuestion(r.Context(), req.Question, req.ChatID, req.UserID, req.Model)
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) handleQuestionStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, assistantapi.ErrorKindValidation, err)
		return
	}

	chunks, err := s.runtime.Orchestrator.ProcessQuestionStream(r.Context(), req.Question, req.ChatID, req.UserID, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, assistantapi.ErrorKindInternal, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, canFlush := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	for chunk := range chunks {
		if err := encoder.Encode(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *httpServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Path[len("/v1/workflows/"):]
	if name == "" {
		http.Error(w, "workflow name is required", http.StatusBadRequest)
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, assistantapi.ErrorKindValidation, err)
		return
	}
	resp := s.runtime.Orchestrator.RunWorkflow(r.Context(), name, req.Message)
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) handleListChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := s.runtime.History.ListChats(r.Context(), "", 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, assistantapi.ErrorKindInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := checkHealth(r.Context(), s.runtime)
	status := http.StatusOK
	if resp.Status != assistantapi.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind assistantapi.ErrorKind, err error) {
	writeJSON(w, status, assistantapi.ErrorResponse{
		Error:     err.Error(),
		ErrorType: kind,
		Timestamp: time.Now(),
	})
}

