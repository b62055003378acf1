package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/transferdesk/transferdesk/pkg/contracts"
	"github.com/transferdesk/transferdesk/pkg/review"
)

// Handler serves the review engine's operations over REST.
type Handler struct {
	engine  *review.Engine
	logger  *slog.Logger
	schemas *schemas
}

// NewHandler creates an API handler over the engine.
func NewHandler(engine *review.Engine, logger *slog.Logger) (*Handler, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, schemas: s}, nil
}

// Routes builds the route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/transfers", h.handleListTransfers)
	mux.HandleFunc("GET /v1/transfers/{id}/requirements", h.handleGetRequirements)
	mux.HandleFunc("GET /v1/transfers/{id}/sla", h.handleTransferSLA)
	mux.HandleFunc("GET /v1/transfers/{id}/audit", h.handleTransferAuditTrail)
	mux.HandleFunc("POST /v1/transfers/{id}/escalate", h.handleEscalateTransfer)
	mux.HandleFunc("POST /v1/evidence", h.handleUploadEvidence)
	mux.HandleFunc("DELETE /v1/evidence/{id}", h.handleDeleteEvidence)
	mux.HandleFunc("POST /v1/decisions", h.handleSubmitDecision)
	mux.HandleFunc("GET /v1/requirements/{id}/audit", h.handleAuditTrail)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.engine.ListTransfers(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (h *Handler) handleGetRequirements(w http.ResponseWriter, r *http.Request) {
	id := contracts.TransferID(r.PathValue("id"))
	reqs, err := h.engine.GetRequirements(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleTransferSLA(w http.ResponseWriter, r *http.Request) {
	id := contracts.TransferID(r.PathValue("id"))
	sla, err := h.engine.TransferSLA(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sla)
}

func (h *Handler) handleTransferAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := contracts.TransferID(r.PathValue("id"))
	entries, err := h.engine.GetTransferAuditTrail(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleEscalateTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeValidated(r.Body, h.schemas.escalate, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id := contracts.TransferID(r.PathValue("id"))
	if err := h.engine.EscalateTransfer(r.Context(), id, body.Reason); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	var in contracts.UploadInput
	if err := decodeValidated(r.Body, h.schemas.upload, &in); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ev, err := h.engine.UploadEvidence(r.Context(), in)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleDeleteEvidence(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteEvidence(r.Context(), r.PathValue("id")); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	var in contracts.DecisionInput
	if err := decodeValidated(r.Body, h.schemas.decision, &in); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.engine.SubmitDecision(r.Context(), in); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := contracts.RequirementID(r.PathValue("id"))
	entries, err := h.engine.GetAuditTrail(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
