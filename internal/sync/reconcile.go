// Package sync keeps the local store in step with the hosted backend.
//
// Reconciler applies full snapshots, PriceRefresher overlays quotes onto stored
// holdings, and Service runs both with an in-flight guard, a cooldown and a
// history entry per run.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/database"
	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/metrics"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

// ReconcileResult counts what one reconciliation pass changed.
type ReconcileResult struct {
	AccountsUpserted int `json:"accounts_upserted"`
	AccountsDeleted  int `json:"accounts_deleted"`
	HoldingsUpserted int `json:"holdings_upserted"`
	HoldingsDeleted  int `json:"holdings_deleted"`
	// OrphanedHoldings are snapshot holdings whose account was not in the same snapshot.
	OrphanedHoldings int `json:"orphaned_holdings"`
	// CleanupErrors are failures deleting stale records. They do not fail the pass.
	CleanupErrors int `json:"cleanup_errors"`
}

// Reconciler applies backend snapshots to the local store.
type Reconciler struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(db *database.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Reconcile makes the stored accounts and holdings match snapshot in one transaction.
//
// Records are matched by remote id. Matches are updated in place, new ids are
// inserted, and stored records absent from the snapshot are deleted. A holding
// is only attached to an account from this snapshot; holdings referencing any
// other account are dropped. Any upsert error rolls the whole pass back, as does
// a cleanup failure that takes the transaction down with it.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot *backend.Snapshot) (*ReconcileResult, error) {
	if snapshot == nil {
		return nil, apperrors.Validation("snapshot is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *ReconcileResult
	err := r.db.Transact(ctx, func(tx *sqlx.Tx) error {
		res, err := r.apply(ctx, tx, snapshot)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record(result)
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, tx *sqlx.Tx, snapshot *backend.Snapshot) (*ReconcileResult, error) {
	portfolios := repository.NewPortfolioRepository(tx)
	accounts := repository.NewAccountRepository(tx)
	holdings := repository.NewHoldingRepository(tx)

	result := &ReconcileResult{}
	asOf := snapshot.AsOf.UTC()

	portfolio, err := portfolios.Ensure(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("ensuring portfolio: %w", err)
	}

	// remote id -> local id for accounts upserted in this pass
	seenAccounts := make(map[string]int64, len(snapshot.Accounts))
	for _, rec := range snapshot.Accounts {
		id, err := upsertAccount(ctx, accounts, rec, portfolio.ID, asOf)
		if err != nil {
			return nil, fmt.Errorf("upserting account %q: %w", rec.ID, err)
		}
		seenAccounts[rec.ID] = id
		result.AccountsUpserted++
	}

	if err := r.deleteStaleAccounts(ctx, tx, accounts, seenAccounts, result); err != nil {
		return nil, err
	}

	seenHoldings := make(map[string]struct{}, len(snapshot.Holdings))
	for _, rec := range snapshot.Holdings {
		accountID, ok := seenAccounts[rec.AccountID]
		if !ok {
			r.logger.Debug("Dropping holding without account in snapshot",
				zap.String("holding_id", rec.ID),
				zap.String("account_id", rec.AccountID),
			)
			result.OrphanedHoldings++
			continue
		}

		if err := upsertHolding(ctx, holdings, rec, accountID, asOf); err != nil {
			return nil, fmt.Errorf("upserting holding %q: %w", rec.ID, err)
		}
		seenHoldings[rec.ID] = struct{}{}
		result.HoldingsUpserted++
	}

	if err := r.deleteStaleHoldings(ctx, tx, holdings, seenHoldings, result); err != nil {
		return nil, err
	}

	return result, nil
}

func upsertAccount(ctx context.Context, repo *repository.AccountRepository, rec backend.AccountRecord, portfolioID int64, asOf time.Time) (int64, error) {
	existing, err := repo.GetByRemoteID(ctx, rec.ID)
	if err != nil {
		return 0, err
	}

	if existing != nil {
		existing.Name = rec.Name
		existing.Brokerage = rec.Brokerage
		existing.Currency = rec.Currency
		existing.PortfolioID = &portfolioID
		existing.LastSyncedAt = &asOf
		if err := repo.Update(ctx, existing); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	id, err := repo.Create(ctx, &models.Account{
		RemoteID:     rec.ID,
		PortfolioID:  &portfolioID,
		Name:         rec.Name,
		Brokerage:    rec.Brokerage,
		Currency:     rec.Currency,
		LastSyncedAt: &asOf,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func upsertHolding(ctx context.Context, repo *repository.HoldingRepository, rec backend.HoldingRecord, accountID int64, asOf time.Time) error {
	existing, err := repo.GetByRemoteID(ctx, rec.ID)
	if err != nil {
		return err
	}

	if existing != nil {
		existing.AccountID = accountID
		existing.Symbol = rec.Symbol
		existing.Quantity = rec.Quantity
		existing.AvgCost = rec.AvgCost
		existing.UpdatedAt = asOf
		if rec.SymbolDescription != nil {
			existing.Description = rec.SymbolDescription
		}
		if err := repo.Update(ctx, existing); err != nil {
			return err
		}
		return nil
	}

	if _, err := repo.Create(ctx, &models.Holding{
		RemoteID:    rec.ID,
		AccountID:   accountID,
		Symbol:      rec.Symbol,
		Description: rec.SymbolDescription,
		Quantity:    rec.Quantity,
		AvgCost:     rec.AvgCost,
		UpdatedAt:   asOf,
	}); err != nil {
		return err
	}
	return nil
}

// deleteStaleAccounts removes accounts missing from seen. Their holdings go with them.
// A failed delete is logged and counted without aborting the pass; only losing the
// transaction itself is returned.
func (r *Reconciler) deleteStaleAccounts(ctx context.Context, tx *sqlx.Tx, repo *repository.AccountRepository, seen map[string]int64, result *ReconcileResult) error {
	var stored []*models.Account
	failed, err := cleanupStep(ctx, tx, func() error {
		var err error
		stored, err = repo.List(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if failed != nil {
		r.cleanupFailed("account", "listing accounts", failed, result)
		return nil
	}

	for _, acc := range stored {
		if _, ok := seen[acc.RemoteID]; ok {
			continue
		}
		failed, err := cleanupStep(ctx, tx, func() error { return repo.Delete(ctx, acc.ID) })
		if err != nil {
			return fmt.Errorf("deleting account %q: %w", acc.RemoteID, err)
		}
		if failed != nil {
			r.cleanupFailed("account", "deleting account "+acc.RemoteID, failed, result)
			continue
		}
		result.AccountsDeleted++
	}
	return nil
}

// deleteStaleHoldings removes holdings missing from seen, with the same error policy as accounts.
func (r *Reconciler) deleteStaleHoldings(ctx context.Context, tx *sqlx.Tx, repo *repository.HoldingRepository, seen map[string]struct{}, result *ReconcileResult) error {
	var stored []*models.Holding
	failed, err := cleanupStep(ctx, tx, func() error {
		var err error
		stored, err = repo.List(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if failed != nil {
		r.cleanupFailed("holding", "listing holdings", failed, result)
		return nil
	}

	for _, h := range stored {
		if _, ok := seen[h.RemoteID]; ok {
			continue
		}
		failed, err := cleanupStep(ctx, tx, func() error { return repo.Delete(ctx, h.ID) })
		if err != nil {
			return fmt.Errorf("deleting holding %q: %w", h.RemoteID, err)
		}
		if failed != nil {
			r.cleanupFailed("holding", "deleting holding "+h.RemoteID, failed, result)
			continue
		}
		result.HoldingsDeleted++
	}
	return nil
}

// cleanupStep runs fn inside a savepoint. When fn fails and the savepoint can be
// rolled back, the failure is returned as failed and the transaction stays usable.
// When the savepoint is gone, SQLite has already rolled back the whole transaction
// and the error comes back as fatal.
func cleanupStep(ctx context.Context, tx *sqlx.Tx, fn func() error) (failed, fatal error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT cleanup"); err != nil {
		return nil, fmt.Errorf("opening savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO cleanup"); rbErr != nil {
			return nil, fmt.Errorf("%w (transaction lost: %v)", err, rbErr)
		}
		if _, relErr := tx.ExecContext(ctx, "RELEASE cleanup"); relErr != nil {
			return nil, fmt.Errorf("releasing savepoint: %w", relErr)
		}
		return err, nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE cleanup"); err != nil {
		return nil, fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil, nil
}

func (r *Reconciler) cleanupFailed(entity, action string, err error, result *ReconcileResult) {
	r.logger.Warn("Stale record cleanup failed",
		zap.String("entity", entity),
		zap.String("action", action),
		zap.Error(err),
	)
	metrics.CleanupErrors.WithLabelValues(entity).Inc()
	result.CleanupErrors++
}

func (r *Reconciler) record(result *ReconcileResult) {
	metrics.RecordsUpserted.WithLabelValues("account").Add(float64(result.AccountsUpserted))
	metrics.RecordsUpserted.WithLabelValues("holding").Add(float64(result.HoldingsUpserted))
	metrics.RecordsDeleted.WithLabelValues("account").Add(float64(result.AccountsDeleted))
	metrics.RecordsDeleted.WithLabelValues("holding").Add(float64(result.HoldingsDeleted))
	metrics.OrphanedHoldings.Add(float64(result.OrphanedHoldings))

	r.logger.Info("Snapshot reconciled",
		zap.Int("accounts_upserted", result.AccountsUpserted),
		zap.Int("accounts_deleted", result.AccountsDeleted),
		zap.Int("holdings_upserted", result.HoldingsUpserted),
		zap.Int("holdings_deleted", result.HoldingsDeleted),
		zap.Int("orphaned_holdings", result.OrphanedHoldings),
		zap.Int("cleanup_errors", result.CleanupErrors),
	)
}
