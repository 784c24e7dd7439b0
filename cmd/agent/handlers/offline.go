// Package handlers provides the REST API the UI uses to drive the offline queue.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cpltrack/fieldsync/internal/connectivity"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/models"
	"github.com/cpltrack/fieldsync/internal/offline"
)

const maxRequestBody = 1 << 20

// OfflineService is the queue facade the handlers drive.
type OfflineService interface {
	Status() offline.Status
	Queue() []models.QueuedAction
	Enqueue(ctx context.Context, actionType, url string, payload json.RawMessage) (string, error)
	EnqueueAction(ctx context.Context, action models.Action) (string, error)
	Remove(ctx context.Context, id string) bool
	Clear(ctx context.Context)
	ReplayAll(ctx context.Context) (*models.SyncReport, error)
	ReplayOne(ctx context.Context, id string) (offline.Outcome, error)
	ToggleSimulation() connectivity.Status
	SyncReport() *models.SyncReport
	ClearReport()
}

// OfflineHandler serves /offline routes.
type OfflineHandler struct {
	service OfflineService
}

// NewOfflineHandler creates a new OfflineHandler.
func NewOfflineHandler(service OfflineService) *OfflineHandler {
	return &OfflineHandler{service: service}
}

// Register mounts the routes on r.
func (h *OfflineHandler) Register(r chi.Router) {
	r.Route("/offline", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Get("/queue", h.ListQueue)
		r.Post("/queue", h.Enqueue)
		r.Delete("/queue", h.ClearQueue)
		r.Delete("/queue/{id}", h.RemoveAction)
		r.Post("/queue/{id}/replay", h.ReplayOne)

		r.Post("/actions/{kind}", h.EnqueueAction)
		r.Post("/replay", h.ReplayAll)
		r.Post("/simulation/toggle", h.ToggleSimulation)

		r.Get("/report", h.GetReport)
		r.Delete("/report", h.ClearReport)
	})
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type EnqueueRequest struct {
	Type    string          `json:"type"`
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

type ReplayOneResponse struct {
	Outcome   offline.Outcome `json:"outcome"`
	LastError string          `json:"lastError,omitempty"`
}

type ReportResponse struct {
	Report *models.SyncReport `json:"report"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeAppError maps error codes to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrOffline:
		status = http.StatusConflict
	}

	message := apperrors.MessageOf(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Offline request failed", string(code), err)
	}
	writeError(w, status, string(code), message)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperrors.ErrInvalid), "Invalid request body")
		return nil, false
	}
	return body, true
}

// Status handles GET /offline/status.
func (h *OfflineHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// ListQueue handles GET /offline/queue.
func (h *OfflineHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Queue())
}

// Enqueue handles POST /offline/queue with an arbitrary action.
func (h *OfflineHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperrors.ErrInvalid), "Invalid JSON body")
		return
	}
	if req.Type == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, string(apperrors.ErrValidation), "type and url are required")
		return
	}

	id, err := h.service.Enqueue(r.Context(), req.Type, req.URL, req.Payload)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

// EnqueueAction handles POST /offline/actions/{kind} with a typed payload.
func (h *OfflineHandler) EnqueueAction(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	action, err := models.DecodeAction(chi.URLParam(r, "kind"), body)
	if err != nil {
		writeAppError(w, err)
		return
	}

	id, err := h.service.EnqueueAction(r.Context(), action)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

// ClearQueue handles DELETE /offline/queue.
func (h *OfflineHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.service.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAction handles DELETE /offline/queue/{id}.
func (h *OfflineHandler) RemoveAction(w http.ResponseWriter, r *http.Request) {
	if !h.service.Remove(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, string(apperrors.ErrNotFound), "Action not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReplayOne handles POST /offline/queue/{id}/replay.
func (h *OfflineHandler) ReplayOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := h.service.ReplayOne(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if outcome == offline.OutcomeNotFound {
		writeError(w, http.StatusNotFound, string(apperrors.ErrNotFound), "Action not found")
		return
	}

	resp := ReplayOneResponse{Outcome: outcome}
	for _, a := range h.service.Queue() {
		if a.ID == id {
			resp.LastError = a.LastError
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayAll handles POST /offline/replay.
func (h *OfflineHandler) ReplayAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ReplayAll(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: report})
}

// ToggleSimulation handles POST /offline/simulation/toggle.
func (h *OfflineHandler) ToggleSimulation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ToggleSimulation())
}

// GetReport handles GET /offline/report.
func (h *OfflineHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ReportResponse{Report: h.service.SyncReport()})
}

// ClearReport handles DELETE /offline/report.
func (h *OfflineHandler) ClearReport(w http.ResponseWriter, r *http.Request) {
	h.service.ClearReport()
	w.WriteHeader(http.StatusNoContent)
}
