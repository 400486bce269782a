package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/orchestrator"
)

// Handler serves the gateway's dispatch endpoint.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewHandler creates a new request handler.
func NewHandler(orch *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{orch: orch, logger: logger}
}

// RegisterRoutes registers all HTTP routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/dispatch", h.handleDispatch)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type dispatchRequest struct {
	ID            string `json:"id"`
	FromRole      string `json:"from_role"`
	ToRole        string `json:"to_role"`
	Content       string `json:"content"`
	PrevMessageID string `json:"prev_message_id"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	msg := model.Message{
		ID:            req.ID,
		FromRole:      model.Role(req.FromRole),
		ToRole:        model.Role(req.ToRole),
		Content:       req.Content,
		TimestampMs:   time.Now().UnixMilli(),
		PrevMessageID: req.PrevMessageID,
	}

	record, err := h.orch.Dispatch(r.Context(), msg)
	if err != nil {
		var violation *model.SecurityViolation
		if errors.As(err, &violation) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked": true,
				"reason":  violation.Reason,
				"verdict": violation.Result.Verdict,
			})
			return
		}
		h.logger.Error("dispatch error", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "dispatch_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		h.logger.Error("failed to write response", "error", err, "request_id", GetRequestID(r.Context()))
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
}
