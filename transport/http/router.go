package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kart-io/msgbus/pkg/logger"
)

// NewRouter wires the API routes with the request-id and logging middleware.
func NewRouter(h *MessageHandler, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(log))

	r.Get("/healthz", Healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", h.Submit)
		r.Get("/messages/{uuid}", h.Get)
	})
	return r
}
