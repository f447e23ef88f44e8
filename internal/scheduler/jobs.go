package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	syncsvc "portfolio_sync/internal/sync"
)

// Job names.
const (
	JobPortfolioSync = "portfolio-sync"
	JobPriceRefresh  = "price-refresh"
)

// Refresher is the part of the sync service the jobs drive.
type Refresher interface {
	RefreshAll(ctx context.Context) (*syncsvc.RefreshResult, error)
	RefreshPricesOnly(ctx context.Context) (*syncsvc.PriceResult, error)
}

// RegisterSyncJobs adds the periodic full refresh and price refresh jobs.
// An empty schedule leaves that job out.
func RegisterSyncJobs(s *Scheduler, refresher Refresher, syncSchedule, priceSchedule string, logger *zap.Logger) error {
	if syncSchedule != "" {
		err := s.AddJob(Job{
			Name:     JobPortfolioSync,
			Schedule: syncSchedule,
			Handler: func(ctx context.Context) error {
				_, err := refresher.RefreshAll(ctx)
				return skipped(err, JobPortfolioSync, logger)
			},
		})
		if err != nil {
			return err
		}
	}

	if priceSchedule != "" {
		err := s.AddJob(Job{
			Name:     JobPriceRefresh,
			Schedule: priceSchedule,
			Handler: func(ctx context.Context) error {
				_, err := refresher.RefreshPricesOnly(ctx)
				return skipped(err, JobPriceRefresh, logger)
			},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// skipped turns the in-progress and cooldown refusals into a debug log instead of a failure.
func skipped(err error, job string, logger *zap.Logger) error {
	if errors.Is(err, syncsvc.ErrSyncInProgress) || errors.Is(err, syncsvc.ErrCooldown) {
		logger.Debug("Scheduled sync skipped", zap.String("job", job), zap.String("reason", err.Error()))
		return nil
	}
	return err
}
