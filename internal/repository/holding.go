package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
)

const holdingColumns = `id, remote_id, account_id, symbol, description, quantity, avg_cost, market_price, updated_at, price_as_of, prev_close, created_at`

// HoldingRepository handles holding database operations.
type HoldingRepository struct {
	db database.Queryer
}

// NewHoldingRepository creates a new HoldingRepository.
func NewHoldingRepository(db database.Queryer) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// Create inserts a new holding and returns its ID.
func (r *HoldingRepository) Create(ctx context.Context, holding *models.Holding) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO holdings (remote_id, account_id, symbol, description, quantity, avg_cost, market_price, updated_at, price_as_of, prev_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, holding.RemoteID, holding.AccountID, holding.Symbol, holding.Description, holding.Quantity,
		holding.AvgCost, holding.MarketPrice, holding.UpdatedAt.UTC(), utcPtr(holding.PriceAsOf), holding.PrevClose)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetByRemoteID retrieves a holding by the backend's identifier.
func (r *HoldingRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Holding, error) {
	holding := &models.Holding{}
	err := sqlx.GetContext(ctx, r.db, holding, `SELECT `+holdingColumns+` FROM holdings WHERE remote_id = ?`, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return holding, nil
}

// List retrieves every stored holding.
func (r *HoldingRepository) List(ctx context.Context) ([]*models.Holding, error) {
	return r.query(ctx, `SELECT `+holdingColumns+` FROM holdings ORDER BY id ASC`)
}

// ListByAccountID retrieves all holdings for an account, ordered by symbol.
func (r *HoldingRepository) ListByAccountID(ctx context.Context, accountID int64) ([]*models.Holding, error) {
	return r.query(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE account_id = ? ORDER BY symbol ASC, id ASC`, accountID)
}

func (r *HoldingRepository) query(ctx context.Context, query string, args ...any) ([]*models.Holding, error) {
	holdings := make([]*models.Holding, 0)
	if err := sqlx.SelectContext(ctx, r.db, &holdings, query, args...); err != nil {
		return nil, err
	}
	return holdings, nil
}

// Update overwrites the position fields of an existing holding in place.
// Price fields are left alone; they belong to UpdatePrice.
func (r *HoldingRepository) Update(ctx context.Context, holding *models.Holding) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holdings
		SET account_id = ?, symbol = ?, description = ?, quantity = ?, avg_cost = ?, updated_at = ?
		WHERE id = ?
	`, holding.AccountID, holding.Symbol, holding.Description, holding.Quantity, holding.AvgCost,
		holding.UpdatedAt.UTC(), holding.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("holding not found")
	}
	return nil
}

// UpdatePrice overwrites the quote fields of a holding. Nil values clear the stored value.
// It reports whether a row was updated.
func (r *HoldingRepository) UpdatePrice(ctx context.Context, id int64, last, prevClose *float64, asOf time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holdings
		SET market_price = ?, prev_close = ?, price_as_of = ?
		WHERE id = ?
	`, last, prevClose, asOf.UTC(), id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// Delete removes a holding by ID.
func (r *HoldingRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM holdings WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("holding not found")
	}
	return nil
}
