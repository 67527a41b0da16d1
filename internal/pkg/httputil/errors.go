package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/ctxlog"
)

// ErrorMapping pairs a sentinel error with the status and message it
// renders as. An empty Message falls back to err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError walks mappings with errors.Is and writes the first match.
// Unmapped errors are logged and answered with a generic 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
