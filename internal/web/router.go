// internal/web/router.go
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Mount registers a group of routes under the API prefix. Authenticated
// routes receive a router that already requires a bearer token.
type Mount interface {
	Routes(public, authed chi.Router)
}

// NewRouter assembles the HTTP surface.
func NewRouter(logger *slog.Logger, issuer *TokenIssuer, mounts ...Mount) http.Handler {
	respond := NewResponder(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respond.JSON(r.Context(), w, http.StatusNotFound, ErrorResponse{ErrorCode: "ROUTE_NOT_FOUND", Message: "no such route"})
		})
		api.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			respond.JSON(r.Context(), w, http.StatusMethodNotAllowed, ErrorResponse{ErrorCode: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
		})

		authed := api.With(RequireAuth(issuer, respond))
		for _, m := range mounts {
			m.Routes(api, authed)
		}
	})

	return r
}
