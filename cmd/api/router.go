package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/FACorreiaa/spending-ledger/pkg/middleware"
	"github.com/FACorreiaa/spending-ledger/pkg/respond"
)

// NewRouter mounts the API routes behind the shared middleware stack.
func NewRouter(d *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(d.Config.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.Ping(ctx); err != nil {
			respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if perSecond := d.Config.Server.RateLimitPerSecond; perSecond > 0 {
			r.Use(middleware.NewRateLimiter(perSecond, d.Config.Server.RateLimitBurst).Handler)
		}
		d.LedgerHandler.Routes(r)
		d.ImportHandler.Routes(r)
	})

	return r
}
