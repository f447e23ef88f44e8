package handlers

import (
	"context"

	"go.uber.org/zap"

	"portfolio_sync/internal/auth"
	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/credentials"
	"portfolio_sync/internal/middleware"
	"portfolio_sync/internal/repository"
	syncsvc "portfolio_sync/internal/sync"
)

// Syncer runs the sync engines on demand.
type Syncer interface {
	RefreshAll(ctx context.Context) (*syncsvc.RefreshResult, error)
	RefreshPricesOnly(ctx context.Context) (*syncsvc.PriceResult, error)
	Status() syncsvc.Status
}

// Connector starts a brokerage login through the backend.
type Connector interface {
	LoginRedirect(ctx context.Context, brokerage string) (*backend.LoginRedirect, error)
}

// TokenStore holds the backend bearer token.
type TokenStore interface {
	SetToken(ctx context.Context, token string) error
	Status(ctx context.Context) (*credentials.Status, error)
	Clear(ctx context.Context) error
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies holds all handler dependencies.
type Dependencies struct {
	Logger *zap.Logger
	DB     Pinger

	// Repositories
	PortfolioRepo   *repository.PortfolioRepository
	AccountRepo     *repository.AccountRepository
	HoldingRepo     *repository.HoldingRepository
	SyncHistoryRepo *repository.SyncHistoryRepository
	ValueHistory    *repository.ValueHistoryRepository

	// Services
	Syncer    Syncer
	Connector Connector
	Tokens    TokenStore

	// Guard protects the mutating routes; nil leaves them open.
	Guard *auth.Guard

	// Rate limiters; nil disables limiting for that route group.
	APILimiter  *middleware.RateLimiter
	SyncLimiter *middleware.RateLimiter
}

// NewDependencies creates a Dependencies container.
// Use the With methods to set the rest.
func NewDependencies(logger *zap.Logger) *Dependencies {
	return &Dependencies{Logger: logger}
}

// WithDB sets the database checked by the health endpoint.
func (d *Dependencies) WithDB(db Pinger) *Dependencies {
	d.DB = db
	return d
}

// WithRepositories sets the repositories the read endpoints query.
func (d *Dependencies) WithRepositories(
	portfolios *repository.PortfolioRepository,
	accounts *repository.AccountRepository,
	holdings *repository.HoldingRepository,
	history *repository.SyncHistoryRepository,
) *Dependencies {
	d.PortfolioRepo = portfolios
	d.AccountRepo = accounts
	d.HoldingRepo = holdings
	d.SyncHistoryRepo = history
	return d
}

// WithValueHistory sets the daily value history behind /api/portfolio/history.
func (d *Dependencies) WithValueHistory(values *repository.ValueHistoryRepository) *Dependencies {
	d.ValueHistory = values
	return d
}

// WithSyncer sets the sync service.
func (d *Dependencies) WithSyncer(s Syncer) *Dependencies {
	d.Syncer = s
	return d
}

// WithConnector sets the brokerage connector.
func (d *Dependencies) WithConnector(c Connector) *Dependencies {
	d.Connector = c
	return d
}

// WithTokens sets the token store.
func (d *Dependencies) WithTokens(t TokenStore) *Dependencies {
	d.Tokens = t
	return d
}

// WithLimiters sets the per-client rate limiters.
func (d *Dependencies) WithLimiters(api, sync *middleware.RateLimiter) *Dependencies {
	d.APILimiter = api
	d.SyncLimiter = sync
	return d
}

// WithGuard sets the API key guard.
func (d *Dependencies) WithGuard(g *auth.Guard) *Dependencies {
	d.Guard = g
	return d
}
