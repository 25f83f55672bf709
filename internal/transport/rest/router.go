package rest

import (
	"database/sql"
	"log/slog"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
	"github.com/frahmantamala/invoice-approval/internal/transport/middleware"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, dbDriver string, invoiceHandler *invoice.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, dbDriver)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if invoiceHandler != nil {
			invoiceHandler.RegisterRoutes(r)
		}
	})
}
