package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/germanamz/relay/pkg/batchstore"
	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/function"
	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/templates"
	"github.com/germanamz/relay/pkg/variant"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	var (
		unknownFunction *engine.UnknownFunctionError
		unknownVariant  *engine.UnknownVariantError
		unknownModel    *model.UnknownModelError
		invalidRequest  *engine.InvalidRequestError
		invalidInput    *function.InputValidationError
		invalidMessage  *variant.InvalidMessageError
		render          *templates.RenderError
		keyMissing      *modeladapter.APIKeyMissingError
		unsupported     *modeladapter.UnsupportedError
		allFailed       *engine.AllVariantsFailedError
		exhausted       *model.ProvidersExhaustedError
	)

	switch {
	case errors.Is(err, batchstore.ErrNotFound),
		errors.As(err, &unknownFunction),
		errors.As(err, &unknownVariant):
		return http.StatusNotFound
	case errors.As(err, &invalidRequest),
		errors.As(err, &invalidInput),
		errors.As(err, &invalidMessage),
		errors.As(err, &render):
		return http.StatusBadRequest
	case errors.As(err, &keyMissing):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNoBatchStore):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &unsupported):
		return http.StatusNotImplemented
	case errors.As(err, &allFailed), errors.As(err, &exhausted):
		return http.StatusBadGateway
	case errors.As(err, &unknownModel):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}

	writeError(w, status, err.Error())
}
