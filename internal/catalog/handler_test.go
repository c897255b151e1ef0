package catalog

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/web"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := web.NewTokenIssuer("test-secret", time.Hour)
	srv := httptest.NewServer(web.NewRouter(logger, issuer, NewHandler(f.svc, logger)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestBookEndpoints(t *testing.T) {
	srv := newTestServer(t)
	api := srv.URL + "/api/v1"

	resp, raw := do(t, http.MethodPost, api+"/books", map[string]any{
		"isbn": "978-0-441-47812-5", "title": "The Left Hand of Darkness", "author": "Ursula K. Le Guin", "copies": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var book struct {
		ID           string `json:"id"`
		ISBN         string `json:"isbn"`
		Availability struct {
			Total     int `json:"total_copies"`
			Available int `json:"available"`
		} `json:"availability"`
	}
	require.NoError(t, json.Unmarshal(raw, &book))
	assert.Equal(t, "9780441478125", book.ISBN)
	assert.Equal(t, 2, book.Availability.Total)
	assert.Equal(t, 2, book.Availability.Available)

	resp, raw = do(t, http.MethodPost, api+"/books", map[string]any{
		"isbn": "9780441478125", "title": "Copy", "author": "Someone",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(raw), `"error_code":"CONFLICT"`)

	resp, raw = do(t, http.MethodGet, api+"/books?q=le+guin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var books []map[string]any
	require.NoError(t, json.Unmarshal(raw, &books))
	require.Len(t, books, 1)
	assert.NotContains(t, books[0], "availability")

	resp, raw = do(t, http.MethodPost, api+"/books/"+book.ID+"/copies", map[string]any{"barcode": "LIB-0001"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var c map[string]any
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, "LIB-0001", c["barcode"])
	copyID := c["id"].(string)

	resp, raw = do(t, http.MethodGet, api+"/copies?book_id="+book.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var copies []map[string]any
	require.NoError(t, json.Unmarshal(raw, &copies))
	assert.Len(t, copies, 3)

	resp, raw = do(t, http.MethodPatch, api+"/copies/"+copyID, map[string]any{"status": "LOST"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"status":"LOST"`)

	resp, raw = do(t, http.MethodPatch, api+"/copies/"+copyID, map[string]any{"status": "ON_LOAN"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(raw), `"error_code":"INVALID_STATUS_TRANSITION"`)

	resp, _ = do(t, http.MethodPatch, api+"/copies/"+copyID, map[string]any{"status": "SHREDDED"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = do(t, http.MethodGet, api+"/books/"+book.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"availability":{"total_copies":3,"available":2}`)

	resp, _ = do(t, http.MethodDelete, api+"/copies/"+copyID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, api+"/books/"+book.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, raw = do(t, http.MethodGet, api+"/books/"+book.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), `"error_code":"RESOURCE_NOT_FOUND"`)
}

func TestBookEndpointRejections(t *testing.T) {
	srv := newTestServer(t)
	api := srv.URL + "/api/v1"

	resp, raw := do(t, http.MethodPost, api+"/books", map[string]any{"isbn": "1"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body web.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "VALIDATION_FAILED", body.ErrorCode)
	assert.Contains(t, body.Errors, "title")

	resp, _ = do(t, http.MethodGet, api+"/books/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, api+"/copies?book_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
