package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
)

// ValueHistoryRepository stores the portfolio's total value per day.
type ValueHistoryRepository struct {
	db database.Queryer
}

// NewValueHistoryRepository creates a new ValueHistoryRepository.
func NewValueHistoryRepository(db database.Queryer) *ValueHistoryRepository {
	return &ValueHistoryRepository{db: db}
}

// Record upserts the point for its day.
func (r *ValueHistoryRepository) Record(ctx context.Context, point *models.ValuePoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_value_history (date, total_value, recorded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_value = excluded.total_value,
			recorded_at = excluded.recorded_at
	`, point.Date, point.TotalValue, point.RecordedAt.UTC())
	return err
}

// List returns points on or after from, oldest first. An empty from returns every point.
func (r *ValueHistoryRepository) List(ctx context.Context, from string) ([]*models.ValuePoint, error) {
	points := make([]*models.ValuePoint, 0)
	err := sqlx.SelectContext(ctx, r.db, &points, `
		SELECT date, total_value, recorded_at
		FROM portfolio_value_history
		WHERE date >= ?
		ORDER BY date ASC
	`, from)
	if err != nil {
		return nil, err
	}
	return points, nil
}

// Latest returns the most recent point, or nil when nothing has been recorded.
func (r *ValueHistoryRepository) Latest(ctx context.Context) (*models.ValuePoint, error) {
	point := &models.ValuePoint{}
	err := sqlx.GetContext(ctx, r.db, point, `
		SELECT date, total_value, recorded_at
		FROM portfolio_value_history
		ORDER BY date DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return point, nil
}
