package errorhandler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pandarank/pandarank-api/internal/middleware"
	"github.com/pandarank/pandarank-api/internal/pkg/logger"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
)

// HandleError logs err against the request logger and sends the envelope.
// err itself never reaches the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	event := l.Warn()
	if status >= http.StatusInternalServerError {
		event = l.Error()
	}

	withActor(ctx, event).
		Str("error_code", code).
		Int("status_code", status).
		Err(err).
		Msg(message)

	response.Error(w, status, code, message)
}

// Internal logs err and replies with a generic 500.
func Internal(ctx context.Context, w http.ResponseWriter, err error) {
	HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
}

// LogValidationError records rejected request fields at debug level.
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	withActor(ctx, logger.FromContext(ctx).Debug()).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}

func withActor(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if actor, ok := middleware.GetActor(ctx); ok {
		event = event.Str("user_id", actor.ID.String()).Str("role", string(actor.Role))
	}
	return event
}
