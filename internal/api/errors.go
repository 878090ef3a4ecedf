package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/flatten"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/lifecycle"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/sink"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

// requestError is a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	var (
		reqErr        *requestError
		transitionErr *lifecycle.TransitionError
		validationErr *flatten.ValidationError
		sinkErr       *sink.Error
		extractErr    *extract.Error
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, extract.ErrUnknownProcessor):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrReadOnlyProcessors):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, lifecycle.ErrAlreadySent),
		errors.As(err, &transitionErr):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sink.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.As(err, &sinkErr), errors.As(err, &extractErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
