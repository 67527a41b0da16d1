package delivery

import (
	"encoding/json"
	"net/http"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidAddress, Status: http.StatusBadRequest},
	{Error: ErrEmptyBody, Status: http.StatusBadRequest, Message: "message body is required"},
	{Error: ErrMessageNotFound, Status: http.StatusNotFound, Message: "message not found"},
}

// Handler handles HTTP requests for the delivery queue.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a delivery handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers delivery routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.SendMessage)
	r.Post("/messages/with-retry", h.SendMessageWithRetry)
	r.Get("/messages/statuses", h.AllStatuses)
	r.Get("/messages/{id}/status", h.MessageStatus)
	r.Get("/queue/stats", h.QueueStats)
	r.Post("/addresses/validate", h.ValidateAddress)
}

// SendMessageRequest represents request body for sending a message.
type SendMessageRequest struct {
	To       string `json:"to" validate:"required"`
	Body     string `json:"body" validate:"required"`
	Category string `json:"category" validate:"required,oneof=crisis checkin milestone reminder"`
	Priority string `json:"priority" validate:"required,oneof=low normal high critical"`
	OwnerID  string `json:"owner_id"`
	Retries  int    `json:"retries" validate:"gte=0,lte=10"`
}

func (r SendMessageRequest) message() domain.OutboundMessage {
	return domain.OutboundMessage{
		To:       r.To,
		Body:     r.Body,
		Category: domain.MessageCategory(r.Category),
		Priority: domain.MessagePriority(r.Priority),
		OwnerID:  r.OwnerID,
	}
}

// ValidateAddressRequest represents request body for address validation.
type ValidateAddressRequest struct {
	Address string `json:"address" validate:"required"`
}

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	id, err := h.service.Send(r.Context(), req.message())
	if err != nil && id == "" {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status, statusErr := h.service.Status(id)
	if statusErr != nil {
		httputil.HandleError(r.Context(), w, statusErr, errorMappings)
		return
	}
	httputil.Success(w, http.StatusAccepted, status)
}

// SendMessageWithRetry handles POST /messages/with-retry. Unlike SendMessage
// it blocks until delivery either succeeds or exhausts every inline attempt.
func (h *Handler) SendMessageWithRetry(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	retries := req.Retries
	if retries == 0 {
		retries = h.service.config.MaxAttempts
	}

	id, err := h.service.SendWithRetry(r.Context(), req.message(), retries)
	if err != nil && id == "" {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status, statusErr := h.service.Status(id)
	if statusErr != nil {
		httputil.HandleError(r.Context(), w, statusErr, errorMappings)
		return
	}

	code := http.StatusOK
	if err != nil {
		code = http.StatusBadGateway
	}
	httputil.Success(w, code, status)
}

// MessageStatus handles GET /messages/{id}/status.
func (h *Handler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.service.Status(id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, status)
}

// AllStatuses handles GET /messages/statuses.
func (h *Handler) AllStatuses(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.service.AllStatuses())
}

// QueueStats handles GET /queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.service.QueueStats())
}

// ValidateAddress handles POST /addresses/validate.
func (h *Handler) ValidateAddress(w http.ResponseWriter, r *http.Request) {
	var req ValidateAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, ValidateAddress(req.Address))
}
