package hub

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ShayCichocki/relay/internal/budget"
)

// SubmitRequest is the payload for POST /api/tasks.
type SubmitRequest struct {
	Goal     string           `json:"goal"`
	WorkerID string           `json:"workerId,omitempty"`
	Messages []budget.Message `json:"messages,omitempty"`
}

// SubmitResponse is the response for POST /api/tasks.
type SubmitResponse struct {
	TaskID   string `json:"taskId"`
	WorkerID string `json:"workerId"`
}

// apiError is the structured error payload for the admin surface.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	writeJSON(w, status, e)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.hub.ListWorkers()
	if workers == nil {
		workers = []WorkerInfo{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", "body must be JSON: "+err.Error())
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "goal is required")
		return
	}

	rec, err := s.hub.Submit(req.Goal, req.WorkerID, req.Messages)
	switch {
	case errors.Is(err, ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, "worker_not_found", err.Error())
		return
	case errors.Is(err, ErrNoWorkers):
		writeError(w, http.StatusServiceUnavailable, "no_workers", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "submit_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{TaskID: rec.ID, WorkerID: rec.WorkerID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.hub.ListTasks()
	if tasks == nil {
		tasks = []TaskRecord{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.hub.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.hub.StopTask(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTaskMessage(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", "body must be JSON: "+err.Error())
		return
	}

	err := s.hub.SendTaskMessage(r.PathValue("id"), payload)
	switch {
	case errors.Is(err, ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	case errors.Is(err, ErrWorkerNotFound):
		writeError(w, http.StatusGone, "worker_gone", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "message_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
