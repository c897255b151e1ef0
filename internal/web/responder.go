// internal/web/responder.go
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libradesk/internal/apperr"
	"libradesk/internal/logging"
)

// ErrBadRequest marks malformed input that never reached a service.
var ErrBadRequest = errors.New("bad request")

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Responder writes JSON bodies and maps service errors onto status codes.
type Responder struct {
	logger *slog.Logger
}

func NewResponder(logger *slog.Logger) Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return Responder{logger: logger}
}

// JSON writes payload with status. A nil payload or 204 writes no body.
func (rs Responder) JSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := jsonAPI.NewEncoder(w).Encode(payload); err != nil {
		rs.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Error maps err to a status code and writes an ErrorResponse.
func (rs Responder) Error(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := describe(err)
	logger := rs.loggerFor(ctx).With("status", status, "error_kind", apperr.Kind(err))
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "error", err)
	} else {
		logger.InfoContext(ctx, "request rejected", "error", err)
	}
	rs.JSON(ctx, w, status, body)
}

func describe(err error) (int, ErrorResponse) {
	var vErr *apperr.ValidationError
	switch {
	case err == nil:
		return http.StatusInternalServerError, ErrorResponse{ErrorCode: "INTERNAL_ERROR", Message: "unknown error"}
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "request contains invalid fields",
			Errors:    vErr.FieldErrors,
		}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{ErrorCode: "RESOURCE_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, apperr.ErrInvalidStatusTransition):
		return http.StatusConflict, ErrorResponse{ErrorCode: "INVALID_STATUS_TRANSITION", Message: err.Error()}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, ErrorResponse{ErrorCode: "CONFLICT", Message: err.Error()}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{ErrorCode: "UNAUTHORIZED", Message: "invalid or missing credentials"}
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{ErrorCode: "RATE_LIMITED", Message: "too many requests, try again later"}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{ErrorCode: "BAD_REQUEST", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{ErrorCode: "INTERNAL_ERROR", Message: "internal server error"}
	}
}

// Decode reads a JSON body into dst. Unknown fields are rejected.
func (rs Responder) Decode(r *http.Request, dst any) error {
	dec := jsonAPI.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", ErrBadRequest)
		}
		return fmt.Errorf("%w: malformed JSON body: %v", ErrBadRequest, err)
	}
	return nil
}

func (rs Responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return rs.logger
}

// PathID parses the uuid URL parameter name.
func PathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", ErrBadRequest, name, raw)
	}
	return id, nil
}

// QueryID parses an optional uuid query parameter.
func QueryID(r *http.Request, name string) (uuid.NullUUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.NullUUID{}, fmt.Errorf("%w: invalid %s %q", ErrBadRequest, name, raw)
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}
