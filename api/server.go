/*
server.go - HTTP router configuration

PURPOSE:
  Sets up the chi router with middleware and routes for the inventory
  engine API.

MIDDLEWARE:
  - Logger: request logging
  - Recoverer: panic recovery
  - RequestID: request tracing
  - CORS: cross-origin support for a browser front end

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server entry point
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP router with all routes wired.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/movements", h.GetItemMovements)
			r.Get("/{id}/replay", h.GetItemReplay)
			r.Post("/{id}/adjust", h.AdjustItem)
			r.Post("/{id}/retire", h.RetireItem)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/release", h.ReleaseReservation)
		})

		r.Route("/consumers", func(r chi.Router) {
			r.Post("/{ref}/release", h.ReleaseConsumer)
			r.Get("/{ref}/movements", h.GetConsumerMovements)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}", h.UpdateOrder)
			r.Delete("/{id}", h.DeleteOrder)
			r.Post("/{id}/lines", h.AddOrderLine)
			r.Post("/{id}/send", h.SendOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/receive", h.ReceiveOrder)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Post("/repair", h.PostRepair)
		})
	})

	return r
}
