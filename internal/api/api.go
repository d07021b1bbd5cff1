// Package api implements the thin HTTP surface around the engine: the
// task-state callback a Remote backend worker posts progress to, and a
// minimal project/branch surface external clients can drive instead of
// embedding the controller directly.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vizier-run/vizier/internal/backend"
	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/model"
	"github.com/vizier-run/vizier/internal/projectcache"
	"github.com/vizier-run/vizier/internal/vzerr"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// Controller is the subset of *controller.Controller the HTTP surface calls,
// kept narrow so handlers can be tested against a fake.
type Controller interface {
	AppendWorkflowModule(ctx context.Context, branchID string, cmd command.Command) (*model.Workflow, []model.Module, error)
	InsertWorkflowModule(ctx context.Context, branchID, beforeModuleID string, cmd command.Command) (*model.Workflow, []model.Module, error)
	DeleteWorkflowModule(ctx context.Context, branchID, moduleID string) (*model.Workflow, []model.Module, error)
	ReplaceWorkflowModule(ctx context.Context, branchID, moduleID string, cmd command.Command) (*model.Workflow, []model.Module, error)
	CancelExec(ctx context.Context, branchID string) error
	UpdateTaskState(ctx context.Context, update backend.TaskUpdate) error
}

// Service wires the Execution Controller and Project Cache to HTTP.
type Service struct {
	controller Controller
	cache      projectcache.Cache
}

// NewService returns a Service backed by ctrl and cache.
func NewService(ctrl Controller, cache projectcache.Cache) *Service {
	return &Service{controller: ctrl, cache: cache}
}

// requestIDMiddleware assigns a unique ID to each request for log
// correlation, reusing X-Request-ID if the caller supplied one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// LoadRoutes installs the API's routes onto parentRouter under /api/v1.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/api/v1").Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("/tasks/{taskId}", s.HandleTaskStateCallback).Methods("POST")

	router.HandleFunc("/projects", s.HandleListProjects).Methods("GET")
	router.HandleFunc("/projects", s.HandleCreateProject).Methods("POST")
	router.HandleFunc("/projects/{id}", s.HandleGetProject).Methods("GET")
	router.HandleFunc("/projects/{id}", s.HandleDeleteProject).Methods("DELETE")

	router.HandleFunc("/branches/{branchId}/modules", s.HandleAppendModule).Methods("POST")
	router.HandleFunc("/branches/{branchId}/modules/{moduleId}/insert", s.HandleInsertModule).Methods("POST")
	router.HandleFunc("/branches/{branchId}/modules/{moduleId}", s.HandleReplaceModule).Methods("PUT")
	router.HandleFunc("/branches/{branchId}/modules/{moduleId}", s.HandleDeleteModule).Methods("DELETE")
	router.HandleFunc("/branches/{branchId}/cancel", s.HandleCancelExec).Methods("POST")
}

// HandleTaskStateCallback is the endpoint the Remote backend's worker posts
// progress to: POST /tasks/{taskId}.
func (s *Service) HandleTaskStateCallback(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	taskID := mux.Vars(r)["taskId"]

	var body struct {
		Done        bool           `json:"done"`
		Success     bool           `json:"success"`
		Stdout      []string       `json:"stdout"`
		Stderr      []string       `json:"stderr"`
		Output      command.Output `json:"output"`
		ErrorDetail string         `json:"errorDetail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("failed to decode task state callback", "taskId", taskID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	update := backend.TaskUpdate{
		TaskID:      taskID,
		Done:        body.Done,
		Success:     body.Success,
		Stdout:      body.Stdout,
		Stderr:      body.Stderr,
		Output:      body.Output,
		ErrorDetail: body.ErrorDetail,
	}
	if err := s.controller.UpdateTaskState(r.Context(), update); err != nil {
		slog.Error("failed to apply task state update", "taskId", taskID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	projects, err := s.cache.ListProjects(r.Context())
	if err != nil {
		slog.Error("failed to list projects", "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), "failed to list projects", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Service) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	var body struct {
		Properties model.Properties `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("failed to decode create project body", "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.cache.CreateProject(r.Context(), body.Properties)
	if err != nil {
		slog.Error("failed to create project", "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), "failed to create project", statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	p, err := s.cache.GetProject(r.Context(), id)
	if err != nil {
		slog.Warn("failed to get project", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), "project unavailable", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	ok, err := s.cache.DeleteProject(r.Context(), id)
	if err != nil {
		slog.Error("failed to delete project", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), "failed to delete project", statusFor(err))
		return
	}
	if !ok {
		writeErrorJSON(w, "NOT_FOUND", "project not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) HandleAppendModule(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	branchID := mux.Vars(r)["branchId"]
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		slog.Warn("failed to decode command body", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	wf, modules, err := s.controller.AppendWorkflowModule(r.Context(), branchID, cmd)
	if err != nil {
		slog.Warn("append_workflow_module failed", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": wf, "modules": modules})
}

func (s *Service) HandleInsertModule(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	branchID := mux.Vars(r)["branchId"]
	beforeModuleID := mux.Vars(r)["moduleId"]
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		slog.Warn("failed to decode command body", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	wf, modules, err := s.controller.InsertWorkflowModule(r.Context(), branchID, beforeModuleID, cmd)
	if err != nil {
		slog.Warn("insert_workflow_module failed", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": wf, "modules": modules})
}

func (s *Service) HandleReplaceModule(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	branchID := mux.Vars(r)["branchId"]
	moduleID := mux.Vars(r)["moduleId"]
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		slog.Warn("failed to decode command body", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	wf, modules, err := s.controller.ReplaceWorkflowModule(r.Context(), branchID, moduleID, cmd)
	if err != nil {
		slog.Warn("replace_workflow_module failed", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": wf, "modules": modules})
}

func (s *Service) HandleDeleteModule(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	branchID := mux.Vars(r)["branchId"]
	moduleID := mux.Vars(r)["moduleId"]
	wf, modules, err := s.controller.DeleteWorkflowModule(r.Context(), branchID, moduleID)
	if err != nil {
		slog.Warn("delete_workflow_module failed", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": wf, "modules": modules})
}

func (s *Service) HandleCancelExec(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	branchID := mux.Vars(r)["branchId"]
	if err := s.controller.CancelExec(r.Context(), branchID); err != nil {
		slog.Warn("cancel_exec failed", "branchId", branchID, "requestId", rid, "error", err)
		writeErrorJSON(w, errCode(err), err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes v as a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// writeErrorJSON writes a structured JSON error body with a
// machine-readable code.
func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

// statusFor maps a vzerr sentinel to its HTTP status. Validation/NotFound/
// Conflict fail synchronously; BackendUnavailable propagates to the caller
// for retry.
func statusFor(err error) int {
	switch {
	case vzerr.IsValidation(err):
		return http.StatusBadRequest
	case vzerr.IsNotFound(err):
		return http.StatusNotFound
	case vzerr.IsConflict(err):
		return http.StatusConflict
	case vzerr.IsBackendUnavailable(err):
		return http.StatusServiceUnavailable
	case vzerr.IsCorrupt(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errCode(err error) string {
	switch {
	case vzerr.IsValidation(err):
		return "VALIDATION_ERROR"
	case vzerr.IsNotFound(err):
		return "NOT_FOUND"
	case vzerr.IsConflict(err):
		return "CONFLICT"
	case vzerr.IsBackendUnavailable(err):
		return "BACKEND_UNAVAILABLE"
	case vzerr.IsCorrupt(err):
		return "CORRUPT"
	default:
		return "INTERNAL_ERROR"
	}
}
