package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"portfolio_sync/internal/middleware"
)

// healthTimeout bounds the database ping behind /health.
const healthTimeout = 2 * time.Second

// NewRouter builds the HTTP API.
func NewRouter(deps *Dependencies) http.Handler {
	logger := deps.Logger

	portfolioHandler := NewPortfolioHandler(deps.PortfolioRepo, deps.AccountRepo, deps.HoldingRepo, deps.ValueHistory, logger)
	syncHandler := NewSyncHandler(deps.Syncer, deps.SyncHistoryRepo, logger)
	brokerageHandler := NewBrokerageHandler(deps.Connector, logger)
	credentialsHandler := NewCredentialsHandler(deps.Tokens, logger)

	r := chi.NewRouter()

	// Chi middleware (aliased as chimw to avoid conflict with our middleware package)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", handleHealth(deps.DB, logger))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(limit(deps.APILimiter))

		r.Get("/portfolio", portfolioHandler.Get)
		r.Get("/portfolio/history", portfolioHandler.History)
		r.Get("/accounts/{remoteID}/holdings", portfolioHandler.AccountHoldings)

		r.Get("/sync/status", syncHandler.Status)
		r.Get("/sync/history", syncHandler.History)
		r.Get("/sync/history/{id}", syncHandler.HistoryEntry)
		r.Get("/credentials/token", credentialsHandler.TokenStatus)

		r.Group(func(r chi.Router) {
			r.Use(deps.Guard.Require)

			r.Patch("/portfolio", portfolioHandler.Rename)
			r.Put("/credentials/token", credentialsHandler.SetToken)
			r.Delete("/credentials/token", credentialsHandler.ClearToken)

			// Runs hit the backend; they get the stricter limit.
			r.Group(func(r chi.Router) {
				r.Use(limit(deps.SyncLimiter))
				r.Post("/sync", syncHandler.RefreshAll)
				r.Post("/prices/refresh", syncHandler.RefreshPrices)
				r.Post("/brokerages/{brokerage}/connect", brokerageHandler.Connect)
				r.Get("/brokerages/{brokerage}/connect/qr", brokerageHandler.ConnectQR)
			})
		})
	})

	return r
}

func limit(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Limit
}

// handleHealth returns the server health status.
func handleHealth(db Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Warn("Health check failed", zap.Error(err))
				writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}
