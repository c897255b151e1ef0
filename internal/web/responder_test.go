package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/apperr"
)

func TestErrorMapping(t *testing.T) {
	id := uuid.New()
	verr := &apperr.ValidationError{}
	verr.Add("email", "email is required")

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", apperr.NotFound("Member", id), http.StatusNotFound, "RESOURCE_NOT_FOUND", "Member not found with id " + id.String()},
		{"wrapped not found", fmt.Errorf("loading: %w", apperr.NotFound("Loan", id)), http.StatusNotFound, "RESOURCE_NOT_FOUND", ""},
		{"invalid transition", apperr.InvalidTransition("Member is already suspended"), http.StatusConflict, "INVALID_STATUS_TRANSITION", "Member is already suspended"},
		{"conflict", apperr.Conflict("Book with ISBN %s already exists", "123"), http.StatusConflict, "CONFLICT", ""},
		{"validation", verr, http.StatusUnprocessableEntity, "VALIDATION_FAILED", ""},
		{"unauthorized", fmt.Errorf("%w: bad token", apperr.ErrUnauthorized), http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"rate limited", apperr.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", ""},
		{"bad request", fmt.Errorf("%w: nope", ErrBadRequest), http.StatusBadRequest, "BAD_REQUEST", ""},
		{"persistence failure", errors.New("pq: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := describe(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.ErrorCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body.Message)
			}
		})
	}
}

func TestResponderWritesErrorBody(t *testing.T) {
	var logs bytes.Buffer
	rs := NewResponder(slog.New(slog.NewJSONHandler(&logs, nil)))
	verr := &apperr.ValidationError{}
	verr.Add("title", "title is required")

	rec := httptest.NewRecorder()
	rs.Error(context.Background(), rec, verr)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"error_code": "VALIDATION_FAILED",
		"message": "request contains invalid fields",
		"errors": {"title": "title is required"}
	}`, rec.Body.String())
	assert.Contains(t, logs.String(), `"error_kind":"validation"`)
}

func TestResponderNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	NewResponder(nil).JSON(context.Background(), rec, http.StatusNoContent, map[string]string{"ignored": "yes"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDecode(t *testing.T) {
	rs := NewResponder(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Ada"}`))
	require.NoError(t, rs.Decode(req, &dst))
	assert.Equal(t, "Ada", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Ada","admin":true}`))
	assert.ErrorIs(t, rs.Decode(req, &dst), ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	err := rs.Decode(req, &dst)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "empty")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	assert.ErrorIs(t, rs.Decode(req, &dst), ErrBadRequest)
}

func TestQueryID(t *testing.T) {
	id := uuid.New()

	got, err := QueryID(httptest.NewRequest(http.MethodGet, "/?member_id="+id.String(), nil), "member_id")
	require.NoError(t, err)
	assert.Equal(t, uuid.NullUUID{UUID: id, Valid: true}, got)

	got, err = QueryID(httptest.NewRequest(http.MethodGet, "/", nil), "member_id")
	require.NoError(t, err)
	assert.False(t, got.Valid)

	_, err = QueryID(httptest.NewRequest(http.MethodGet, "/?member_id=42", nil), "member_id")
	assert.ErrorIs(t, err, ErrBadRequest)
}
