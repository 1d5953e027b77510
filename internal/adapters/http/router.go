package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers the routing API and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/api/v1/routing", func(r chi.Router) {
		r.Post("/requests", handler.routeRequest)
		r.Get("/match", handler.matchProbe)
		r.Get("/stats", handler.routingStats)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handler.getSession)
			r.Post("/accept", handler.acceptSession)
			r.Post("/resolve", handler.resolveSession)
			r.Post("/cancel", handler.cancelSession)
		})
	})

	return r
}
