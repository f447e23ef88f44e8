package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
)

const accountColumns = `id, remote_id, portfolio_id, name, brokerage, currency, last_synced_at, created_at`

// AccountRepository handles account database operations.
type AccountRepository struct {
	db database.Queryer
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db database.Queryer) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account and returns its ID.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (remote_id, portfolio_id, name, brokerage, currency, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, account.RemoteID, account.PortfolioID, account.Name, account.Brokerage, account.Currency,
		utcPtr(account.LastSyncedAt))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetByRemoteID retrieves an account by the backend's identifier.
// Matching is exact; no case or whitespace normalization is applied.
func (r *AccountRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Account, error) {
	account := &models.Account{}
	err := sqlx.GetContext(ctx, r.db, account, `SELECT `+accountColumns+` FROM accounts WHERE remote_id = ?`, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// List retrieves all accounts, sorted by name.
func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	accounts := make([]*models.Account, 0)
	err := sqlx.SelectContext(ctx, r.db, &accounts, `SELECT `+accountColumns+` FROM accounts ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Update overwrites the mutable fields of an existing account in place.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET portfolio_id = ?, name = ?, brokerage = ?, currency = ?, last_synced_at = ?
		WHERE id = ?
	`, account.PortfolioID, account.Name, account.Brokerage, account.Currency,
		utcPtr(account.LastSyncedAt), account.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("account not found")
	}
	return nil
}

// Delete removes an account by ID. Its holdings are removed by the foreign key cascade.
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errors.New("account not found")
	}
	return nil
}
