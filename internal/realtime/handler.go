package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotInitialized, Status: http.StatusConflict, Message: "channels not initialized"},
	{Error: ErrNoRecipients, Status: http.StatusBadRequest, Message: "at least one recipient is required"},
	{Error: ErrAllRecipientsFailed, Status: http.StatusBadGateway},
}

// Handler handles HTTP requests for the alert/presence channels.
type Handler struct {
	manager   *Manager
	validator *validator.Validate
}

// NewHandler creates a realtime handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager:   manager,
		validator: validator.New(),
	}
}

// RegisterRoutes registers realtime routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/initialize", h.InitializeSession)
	r.Post("/session/cleanup", h.CleanupSession)
	r.Post("/alerts", h.SendAlert)
	r.Post("/alerts/crisis", h.SendCrisisAlert)
	r.Post("/presence/status", h.UpdateStatus)
	r.Get("/connection/health", h.ConnectionHealth)
	r.Post("/connection/restored", h.NetworkRestored)
}

// InitializeSessionRequest represents request body for session initialization.
type InitializeSessionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// SendAlertRequest represents request body for an alert fan-out.
type SendAlertRequest struct {
	RecipientIDs []string         `json:"recipient_ids" validate:"required,min=1"`
	Type         string           `json:"type" validate:"required,oneof=crisis milestone support system"`
	SenderID     string           `json:"sender_id" validate:"required"`
	SenderName   string           `json:"sender_name"`
	Message      string           `json:"message" validate:"required"`
	Urgency      string           `json:"urgency" validate:"required,oneof=low medium high"`
	Location     *domain.Location `json:"location,omitempty"`
}

// SendCrisisAlertRequest represents request body for a crisis alert.
type SendCrisisAlertRequest struct {
	Message  string           `json:"message" validate:"required"`
	Location *domain.Location `json:"location,omitempty"`
}

// UpdateStatusRequest represents request body for a presence status update.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online away in-crisis"`
}

// InitializeSession handles POST /session/initialize.
func (h *Handler) InitializeSession(w http.ResponseWriter, r *http.Request) {
	var req InitializeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.manager.Initialize(r.Context(), req.UserID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"user_id": req.UserID})
}

// CleanupSession handles POST /session/cleanup.
func (h *Handler) CleanupSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cleanup(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]bool{"cleaned_up": true})
}

// SendAlert handles POST /alerts.
func (h *Handler) SendAlert(w http.ResponseWriter, r *http.Request) {
	var req SendAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.manager.SendAlert(r.Context(), req.RecipientIDs, domain.AlertDraft{
		Type:       domain.AlertType(req.Type),
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Message:    req.Message,
		Urgency:    domain.AlertUrgency(req.Urgency),
		Location:   req.Location,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, alert)
}

// SendCrisisAlert handles POST /alerts/crisis.
func (h *Handler) SendCrisisAlert(w http.ResponseWriter, r *http.Request) {
	var req SendCrisisAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	alert, err := h.manager.SendCrisisAlert(r.Context(), req.Message, req.Location)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, alert)
}

// UpdateStatus handles POST /presence/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.manager.UpdateStatus(r.Context(), domain.PresenceStatus(req.Status)); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": req.Status})
}

// ConnectionHealth handles GET /connection/health.
func (h *Handler) ConnectionHealth(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]any{
		"health":        h.manager.Monitor().Health(),
		"degraded_mode": h.manager.DegradedMode(),
	})
}

// NetworkRestored handles POST /connection/restored.
func (h *Handler) NetworkRestored(w http.ResponseWriter, r *http.Request) {
	h.manager.NetworkRestored()
	httputil.Success(w, http.StatusOK, map[string]any{
		"health":        h.manager.Monitor().Health(),
		"degraded_mode": h.manager.DegradedMode(),
	})
}
