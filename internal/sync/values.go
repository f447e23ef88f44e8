package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/metrics"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

// ValueRecorder keeps one total-value point per day for the performance history.
type ValueRecorder struct {
	db     *database.DB
	logger *zap.Logger
}

// NewValueRecorder creates a new ValueRecorder.
func NewValueRecorder(db *database.DB, logger *zap.Logger) *ValueRecorder {
	return &ValueRecorder{db: db, logger: logger}
}

// Record computes the current total value and upserts it as the point for at's UTC day.
// It returns nil without writing when no portfolio has been synced.
func (v *ValueRecorder) Record(ctx context.Context, at time.Time) (*models.ValuePoint, error) {
	var point *models.ValuePoint
	err := v.db.Transact(ctx, func(tx *sqlx.Tx) error {
		portfolio, err := repository.NewPortfolioRepository(tx).Load(ctx)
		if err != nil {
			return fmt.Errorf("loading portfolio: %w", err)
		}
		if portfolio == nil {
			return nil
		}

		point = &models.ValuePoint{
			Date:       at.UTC().Format(models.DateLayout),
			TotalValue: portfolio.TotalValue(),
			RecordedAt: at.UTC(),
		}
		return repository.NewValueHistoryRepository(tx).Record(ctx, point)
	})
	if err != nil {
		return nil, err
	}
	if point == nil {
		return nil, nil
	}

	metrics.PortfolioValue.Set(point.TotalValue)
	v.logger.Debug("Recorded portfolio value",
		zap.String("date", point.Date),
		zap.Float64("total_value", point.TotalValue),
	)
	return point, nil
}
