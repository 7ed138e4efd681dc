package errorhandler

import (
	"context"
	"net/http"

	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/response"
)

// HandleError logs the failure with the request-scoped logger and sends the error
// envelope. 5xx responses log at error level, everything else at warn.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	event := l.Warn()
	if status >= http.StatusInternalServerError {
		event = l.Error()
	}

	event = event.
		Str("error_code", code).
		Str("error_message", message).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Request error")

	response.Error(w, status, code, message)
}

// HandleValidationError logs field errors and sends a 422 response.
func HandleValidationError(ctx context.Context, w http.ResponseWriter, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")

	response.ValidationError(w, fieldErrors)
}
