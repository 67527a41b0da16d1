package emergency

import (
	"encoding/json"
	"net/http"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnknownProcedure, Status: http.StatusBadRequest},
	{Error: ErrResponseNotFound, Status: http.StatusNotFound},
	{Error: ErrNotAwaitingApproval, Status: http.StatusConflict},
}

// Handler handles HTTP requests for emergency procedures.
type Handler struct {
	orchestrator *Orchestrator
	validator    *validator.Validate
}

// NewHandler creates an emergency handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		validator:    validator.New(),
	}
}

// RegisterRoutes registers emergency routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/procedures", h.Procedures)
	r.Post("/responses", h.Trigger)
	r.Get("/responses", h.ActiveResponses)
	r.Get("/responses/{id}", h.ResponseStatus)
	r.Post("/responses/{id}/approve", h.Approve)
}

// TriggerRequest represents request body for triggering a procedure.
type TriggerRequest struct {
	ProcedureID string            `json:"procedure_id" validate:"required"`
	Metadata    map[string]string `json:"metadata"`
}

// Procedures handles GET /procedures.
func (h *Handler) Procedures(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.orchestrator.catalog.Procedures())
}

// Trigger handles POST /responses.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	id, err := h.orchestrator.Trigger(r.Context(), req.ProcedureID, req.Metadata)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status, statusErr := h.orchestrator.ResponseStatus(id)
	if statusErr != nil {
		httputil.HandleError(r.Context(), w, statusErr, errorMappings)
		return
	}
	httputil.Success(w, http.StatusAccepted, status)
}

// Approve handles POST /responses/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.orchestrator.Approve(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status, err := h.orchestrator.ResponseStatus(id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, status)
}

// ActiveResponses handles GET /responses.
func (h *Handler) ActiveResponses(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.orchestrator.ActiveResponses())
}

// ResponseStatus handles GET /responses/{id}.
func (h *Handler) ResponseStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.orchestrator.ResponseStatus(id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, status)
}
