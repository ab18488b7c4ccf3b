// Package api serves the trigger management HTTP surface. Every /v1 route is
// scoped to the caller identified by the X-User-ID header; request handling
// itself is delegated to the user-bound toolkit so the HTTP and tool-calling
// surfaces share one contract.
package api

import (
	"encoding/json"
	"net/http"

	"triggerd/internal/logger"
	"triggerd/internal/metrics"
	"triggerd/internal/result"
	"triggerd/internal/service"
	"triggerd/internal/trigger"
	"triggerd/pkg/tools"
)

const userIDHeader = "X-User-ID"

// Server exposes trigger CRUD, fire history, and operational endpoints
type Server struct {
	svc     *service.Service
	history result.Backend
	metrics *metrics.Collector
	log     logger.Logger
}

// NewServer creates the API server. history and collector may be nil; the
// corresponding endpoints then report unavailable.
func NewServer(svc *service.Service, history result.Backend, collector *metrics.Collector, log logger.Logger) *Server {
	return &Server{
		svc:     svc,
		history: history,
		metrics: collector,
		log:     log.WithComponent(logger.ComponentAPI),
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/triggers", s.withUser(s.handleCreate))
	mux.HandleFunc("GET /v1/triggers", s.withUser(s.handleList))
	mux.HandleFunc("GET /v1/triggers/{id}", s.withUser(s.handleGet))
	mux.HandleFunc("PATCH /v1/triggers/{id}", s.withUser(s.handleUpdate))
	mux.HandleFunc("DELETE /v1/triggers/{id}", s.withUser(s.handleDelete))
	mux.HandleFunc("GET /v1/triggers/{id}/history", s.withUser(s.handleHistory))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return mux
}

type userHandler func(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit)

// withUser requires the X-User-ID header and binds a toolkit to the caller
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			s.writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
			return
		}
		next(w, r, tools.New(s.svc, userID))
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	var req tools.CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := tk.CreateTrigger(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	resp, err := tk.ListTriggers(r.Context(), tools.ListTriggersRequest{
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	// List and filter rather than a raw Get so ownership scoping stays in
	// one place
	id := r.PathValue("id")
	resp, err := tk.ListTriggers(r.Context(), tools.ListTriggersRequest{Status: "all"})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	for _, t := range resp.Triggers {
		if t.ID == id {
			s.writeJSON(w, http.StatusOK, t)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "trigger not found")
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	var req tools.UpdateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.TriggerID = r.PathValue("id")

	resp, err := tk.UpdateTrigger(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	resp, err := tk.DeleteTrigger(r.Context(), tools.DeleteTriggerRequest{
		TriggerID: r.PathValue("id"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, tk *tools.Toolkit) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "fire history is disabled")
		return
	}

	id := r.PathValue("id")
	// Ownership check through the toolkit's scoped listing
	resp, err := tk.ListTriggers(r.Context(), tools.ListTriggersRequest{Status: "all"})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	owned := false
	for _, t := range resp.Triggers {
		if t.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		s.writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	records, err := s.history.History(r.Context(), id, 50)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trigger_id": id,
		"count":      len(records),
		"fires":      records,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusNotImplemented, "metrics are disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case trigger.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case trigger.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
