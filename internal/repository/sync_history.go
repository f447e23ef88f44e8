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

const syncHistoryColumns = `id, run_id, kind, status, accounts_synced, holdings_synced, quotes_applied, orphaned_holdings, cleanup_errors, error_message, started_at, completed_at, duration_ms`

// SyncStats are the counters recorded when a run completes.
type SyncStats struct {
	AccountsSynced   int
	HoldingsSynced   int
	QuotesApplied    int
	OrphanedHoldings int
	CleanupErrors    int
}

// SyncHistoryRepository handles sync history database operations.
type SyncHistoryRepository struct {
	db  database.Queryer
	now func() time.Time
}

// NewSyncHistoryRepository creates a new SyncHistoryRepository.
func NewSyncHistoryRepository(db database.Queryer) *SyncHistoryRepository {
	return &SyncHistoryRepository{db: db, now: time.Now}
}

// Start creates a new history entry with status "started" and returns its ID.
func (r *SyncHistoryRepository) Start(ctx context.Context, runID, kind string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_history (run_id, kind, status, started_at)
		VALUES (?, ?, ?, ?)
	`, runID, kind, models.SyncStatusStarted, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Complete marks a run as successful and records its counters.
func (r *SyncHistoryRepository) Complete(ctx context.Context, id int64, stats SyncStats) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = ?, accounts_synced = ?, holdings_synced = ?, quotes_applied = ?,
		    orphaned_holdings = ?, cleanup_errors = ?, completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ?
	`, models.SyncStatusSuccess, stats.AccountsSynced, stats.HoldingsSynced, stats.QuotesApplied,
		stats.OrphanedHoldings, stats.CleanupErrors, now, now.Format(julianLayout), id)
	return err
}

// Fail marks a run as failed with an error message.
func (r *SyncHistoryRepository) Fail(ctx context.Context, id int64, errorMsg string) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = ?, error_message = ?, completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ?
	`, models.SyncStatusError, errorMsg, now, now.Format(julianLayout), id)
	return err
}

// julianLayout is a timestamp layout SQLite's date functions understand.
const julianLayout = "2006-01-02 15:04:05.000"

// GetByID retrieves a history entry by ID.
func (r *SyncHistoryRepository) GetByID(ctx context.Context, id int64) (*models.SyncHistory, error) {
	entry := &models.SyncHistory{}
	err := sqlx.GetContext(ctx, r.db, entry, `SELECT `+syncHistoryColumns+` FROM sync_history WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// FindRun returns the entry of kind recorded for runID, or nil if the run did not get that far.
func (r *SyncHistoryRepository) FindRun(ctx context.Context, runID, kind string) (*models.SyncHistory, error) {
	entry := &models.SyncHistory{}
	err := sqlx.GetContext(ctx, r.db, entry, `
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		WHERE run_id = ? AND kind = ?
		ORDER BY id DESC
		LIMIT 1
	`, runID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns history entries, most recent first.
func (r *SyncHistoryRepository) List(ctx context.Context, p Pagination) (Page[*models.SyncHistory], error) {
	var total int64
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM sync_history`); err != nil {
		return Page[*models.SyncHistory]{}, err
	}

	entries := make([]*models.SyncHistory, 0)
	err := sqlx.SelectContext(ctx, r.db, &entries, `
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, p.Limit, p.Offset)
	if err != nil {
		return Page[*models.SyncHistory]{}, err
	}

	return NewPage(entries, total, p), nil
}

// LastSuccess returns the most recent successful run of a kind, or nil if there is none.
func (r *SyncHistoryRepository) LastSuccess(ctx context.Context, kind string) (*models.SyncHistory, error) {
	entry := &models.SyncHistory{}
	err := sqlx.GetContext(ctx, r.db, entry, `
		SELECT `+syncHistoryColumns+`
		FROM sync_history
		WHERE kind = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`, kind, models.SyncStatusSuccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}
