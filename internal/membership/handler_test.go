package membership

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/web"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := web.NewTokenIssuer("test-secret", time.Hour)
	srv := httptest.NewServer(web.NewRouter(logger, issuer, NewHandler(f.svc, issuer, logger)))
	t.Cleanup(srv.Close)
	return srv, f
}

func do(t *testing.T, method, url string, body any, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestMemberEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api/v1"

	resp, body := do(t, http.MethodPost, api+"/members", map[string]any{
		"name": "Ada Lovelace", "email": "ada@example.org", "password": "analytical-engine",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ACTIVE", body["status"])
	id := body["id"].(string)

	resp, body = do(t, http.MethodPost, api+"/members/"+id+"/suspend", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUSPENDED", body["status"])
	assert.Equal(t, id, body["id"])

	resp, body = do(t, http.MethodPost, api+"/members/"+id+"/suspend", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", body["error_code"])
	assert.Equal(t, "Member is already suspended", body["message"])

	resp, body = do(t, http.MethodPost, api+"/members/"+id+"/activate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACTIVE", body["status"])

	resp, _ = do(t, http.MethodDelete, api+"/members/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, http.MethodDelete, api+"/members/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Member not found with id "+id, body["message"])

	resp, body = do(t, http.MethodGet, api+"/members/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", body["error_code"])

	resp, _ = do(t, http.MethodGet, api+"/members?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterValidationResponse(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/members", map[string]any{
		"email": "ada@example.org", "password": "x",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, "name")
	assert.Contains(t, errs, "password")

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/members", map[string]any{"unknown": true}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginAndMe(t *testing.T) {
	srv, f := newTestServer(t)
	api := srv.URL + "/api/v1"
	m := f.register(t, "ada@example.org")

	resp, body := do(t, http.MethodPost, api+"/login", map[string]any{
		"email": "ada@example.org", "password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error_code"])

	resp, body = do(t, http.MethodPost, api+"/login", map[string]any{
		"email": "ada@example.org", "password": "analytical-engine",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	assert.Equal(t, "Bearer", body["token_type"])

	resp, _ = do(t, http.MethodGet, api+"/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = do(t, http.MethodGet, api+"/me", nil, http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, m.ID.String(), body["id"])
}

func TestVisitEndpoints(t *testing.T) {
	srv, f := newTestServer(t)
	api := srv.URL + "/api/v1"
	m := f.register(t, "ada@example.org")

	resp, body := do(t, http.MethodPost, api+"/visits", map[string]any{"member_id": m.ID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["active"])
	visitID := body["id"].(string)

	resp, body = do(t, http.MethodPost, api+"/visits", map[string]any{"member_id": m.ID}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Member already has an active visit", body["message"])

	resp, body = do(t, http.MethodPost, api+"/visits/"+visitID+"/checkout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])

	resp, _ = do(t, http.MethodGet, api+"/visits?member_id="+m.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, api+"/visits", map[string]any{"member_id": uuid.Nil}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
