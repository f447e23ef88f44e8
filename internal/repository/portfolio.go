package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"portfolio_sync/internal/database"
	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/models"
)

// portfolioID is the well-known key of the singleton portfolio row.
const portfolioID = 1

// PortfolioRepository handles the singleton portfolio row.
type PortfolioRepository struct {
	db database.Queryer
}

// NewPortfolioRepository creates a new PortfolioRepository.
func NewPortfolioRepository(db database.Queryer) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Get returns the portfolio, or nil if no sync has created it yet.
func (r *PortfolioRepository) Get(ctx context.Context) (*models.Portfolio, error) {
	p := &models.Portfolio{}
	err := sqlx.GetContext(ctx, r.db, p, `SELECT id, name, as_of FROM portfolios WHERE id = ?`, portfolioID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ensure creates the portfolio with the default name if it is missing and sets its as-of time.
// An existing portfolio keeps its name.
func (r *PortfolioRepository) Ensure(ctx context.Context, asOf time.Time) (*models.Portfolio, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolios (id, name, as_of)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET as_of = excluded.as_of
	`, portfolioID, models.DefaultPortfolioName, asOf.UTC())
	if err != nil {
		return nil, err
	}
	return r.Get(ctx)
}

// Load returns the portfolio with its accounts and their holdings attached,
// or nil if no sync has created it yet.
func (r *PortfolioRepository) Load(ctx context.Context) (*models.Portfolio, error) {
	portfolio, err := r.Get(ctx)
	if err != nil || portfolio == nil {
		return nil, err
	}

	accounts, err := NewAccountRepository(r.db).List(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := NewHoldingRepository(r.db).List(ctx)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[int64][]*models.Holding, len(accounts))
	for _, h := range holdings {
		byAccount[h.AccountID] = append(byAccount[h.AccountID], h)
	}
	for _, a := range accounts {
		a.Holdings = byAccount[a.ID]
	}
	portfolio.Accounts = accounts
	return portfolio, nil
}

// Rename changes the display name of the portfolio.
// It fails with a not found error before the first sync.
func (r *PortfolioRepository) Rename(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE portfolios SET name = ? WHERE id = ?`, name, portfolioID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "portfolio has not been synced yet")
	}
	return nil
}
