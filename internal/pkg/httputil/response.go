// Package httputil contains the JSON response envelope and shared HTTP
// middleware used by every API handler.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encoding response body", "error", err)
	}
}

// JSON writes payload without an envelope. Most endpoints want Success.
func JSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

// Text writes a plain-text body.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("writing response body", "error", err)
	}
}

// Success writes the {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

// Error writes the {"error": {"message": ...}} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}

// ValidationError answers 400 with per-field details when err is a
// validator.ValidationErrors, or the bare error text otherwise.
func ValidationError(w http.ResponseWriter, err error) {
	details := any(err.Error())

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, map[string]string{
				"field":   fe.Field(),
				"message": fe.Tag(),
			})
		}
		details = fields
	}

	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": "validation error",
			"details": details,
		},
	})
}
