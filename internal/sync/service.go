package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio_sync/internal/backend"
	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/metrics"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

// DefaultCooldown is the minimum time between full refreshes.
const DefaultCooldown = 60 * time.Second

var (
	// ErrSyncInProgress is returned when a run is requested while another is active.
	ErrSyncInProgress = apperrors.Conflict("sync already in progress")

	// ErrCooldown is returned when a full refresh is requested too soon after the last successful one.
	ErrCooldown = apperrors.New(apperrors.ErrRateLimit, "portfolio was refreshed recently, try again later")
)

// Backend is the hosted API the engines pull from.
type Backend interface {
	FetchSnapshot(ctx context.Context) (*backend.Snapshot, error)
	QuoteFetcher
}

// RefreshResult is the outcome of a full refresh.
type RefreshResult struct {
	RunID     string           `json:"run_id"`
	Reconcile *ReconcileResult `json:"reconcile"`
	Prices    *PriceResult     `json:"prices"`
}

// Status describes the orchestrator state.
type Status struct {
	InProgress        bool          `json:"in_progress"`
	LastSuccess       *time.Time    `json:"last_success,omitempty"`
	CooldownRemaining time.Duration `json:"-"`
}

// Service runs the engines one at a time and records each run in the sync history.
// After every successful run it records the portfolio's total value for the day.
type Service struct {
	backend    Backend
	reconciler *Reconciler
	prices     *PriceRefresher
	history    *repository.SyncHistoryRepository
	values     *ValueRecorder
	logger     *zap.Logger
	cooldown   time.Duration
	now        func() time.Time

	inFlight    atomic.Bool
	lastSuccess atomic.Int64 // unix nanos, 0 when no full refresh has succeeded
}

// NewService creates a new sync service.
func NewService(
	b Backend,
	reconciler *Reconciler,
	prices *PriceRefresher,
	history *repository.SyncHistoryRepository,
	values *ValueRecorder,
	cooldown time.Duration,
	logger *zap.Logger,
) *Service {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Service{
		backend:    b,
		reconciler: reconciler,
		prices:     prices,
		history:    history,
		values:     values,
		logger:     logger,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// RefreshAll fetches a snapshot, reconciles it and then refreshes prices.
// The cooldown starts only when both steps succeed.
func (s *Service) RefreshAll(ctx context.Context) (*RefreshResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	if s.CooldownRemaining() > 0 {
		return nil, ErrCooldown
	}

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))
	result := &RefreshResult{RunID: runID}

	err := s.track(ctx, runID, models.SyncKindSnapshot, logger, func() (repository.SyncStats, error) {
		snapshot, err := s.backend.FetchSnapshot(ctx)
		if err != nil {
			return repository.SyncStats{}, fmt.Errorf("fetching snapshot: %w", err)
		}
		res, err := s.reconciler.Reconcile(ctx, snapshot)
		if err != nil {
			return repository.SyncStats{}, fmt.Errorf("reconciling snapshot: %w", err)
		}
		result.Reconcile = res
		return repository.SyncStats{
			AccountsSynced:   res.AccountsUpserted,
			HoldingsSynced:   res.HoldingsUpserted,
			OrphanedHoldings: res.OrphanedHoldings,
			CleanupErrors:    res.CleanupErrors,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	prices, err := s.refreshPrices(ctx, runID, logger)
	if err != nil {
		return nil, err
	}
	result.Prices = prices

	s.lastSuccess.Store(s.now().UnixNano())
	s.recordValue(ctx, logger)
	return result, nil
}

// RefreshPricesOnly refreshes prices without fetching a snapshot. It is not subject to the cooldown.
func (s *Service) RefreshPricesOnly(ctx context.Context) (*PriceResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))
	result, err := s.refreshPrices(ctx, runID, logger)
	if err != nil {
		return nil, err
	}
	s.recordValue(ctx, logger)
	return result, nil
}

// recordValue stores today's total value. The refresh has already committed,
// so a failure here is logged and does not fail the run.
func (s *Service) recordValue(ctx context.Context, logger *zap.Logger) {
	if s.values == nil {
		return
	}
	if _, err := s.values.Record(context.WithoutCancel(ctx), s.now()); err != nil {
		logger.Warn("Failed to record portfolio value", zap.Error(err))
	}
}

// RestoreCooldown loads the last fully successful refresh from the sync history,
// so the cooldown survives a restart. A refresh counts only when both its
// snapshot and price runs succeeded.
func (s *Service) RestoreCooldown(ctx context.Context) error {
	snapshot, err := s.history.LastSuccess(ctx, models.SyncKindSnapshot)
	if err != nil {
		return fmt.Errorf("loading last snapshot run: %w", err)
	}
	if snapshot == nil {
		return nil
	}

	prices, err := s.history.FindRun(ctx, snapshot.RunID, models.SyncKindPrices)
	if err != nil {
		return fmt.Errorf("loading price run %s: %w", snapshot.RunID, err)
	}
	if prices == nil || prices.Status != models.SyncStatusSuccess || prices.CompletedAt == nil {
		return nil
	}

	if s.lastSuccess.CompareAndSwap(0, prices.CompletedAt.UnixNano()) {
		s.logger.Info("Restored last full refresh",
			zap.String("run_id", snapshot.RunID),
			zap.Time("completed_at", *prices.CompletedAt),
			zap.Duration("cooldown_remaining", s.CooldownRemaining()),
		)
	}
	return nil
}

func (s *Service) refreshPrices(ctx context.Context, runID string, logger *zap.Logger) (*PriceResult, error) {
	var result *PriceResult
	err := s.track(ctx, runID, models.SyncKindPrices, logger, func() (repository.SyncStats, error) {
		res, err := s.prices.RefreshPrices(ctx)
		if err != nil {
			return repository.SyncStats{}, err
		}
		result = res
		return repository.SyncStats{QuotesApplied: res.HoldingsUpdated}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// track records fn as one history entry and in the run metrics.
// It is the one place a failed run is logged.
func (s *Service) track(ctx context.Context, runID, kind string, logger *zap.Logger, fn func() (repository.SyncStats, error)) error {
	// History writes must land even if ctx is cancelled mid-run.
	historyCtx := context.WithoutCancel(ctx)

	historyID, err := s.history.Start(historyCtx, runID, kind)
	if err != nil {
		logger.Error("Failed to record sync start", zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("starting sync history: %w", err)
	}

	inProgress := metrics.SyncRunsInProgress.WithLabelValues(kind)
	inProgress.Inc()
	defer inProgress.Dec()

	start := time.Now()
	stats, err := fn()
	metrics.SyncRunDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(kind, models.SyncStatusError).Inc()
		if histErr := s.history.Fail(historyCtx, historyID, err.Error()); histErr != nil {
			logger.Error("Failed to record sync failure", zap.Error(histErr))
		}
		if errors.Is(err, context.Canceled) {
			logger.Debug("Sync run cancelled", zap.String("kind", kind))
		} else {
			logger.Error("Sync run failed", zap.String("kind", kind), zap.Error(err))
		}
		return err
	}

	metrics.SyncRunsTotal.WithLabelValues(kind, models.SyncStatusSuccess).Inc()
	if err := s.history.Complete(historyCtx, historyID, stats); err != nil {
		logger.Error("Failed to record sync completion", zap.Error(err))
	}
	return nil
}

// CooldownRemaining returns how long until RefreshAll may run again.
func (s *Service) CooldownRemaining() time.Duration {
	last := s.lastSuccess.Load()
	if last == 0 {
		return 0
	}
	remaining := s.cooldown - s.now().Sub(time.Unix(0, last))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status reports whether a run is active and when the last full refresh succeeded.
func (s *Service) Status() Status {
	status := Status{
		InProgress:        s.inFlight.Load(),
		CooldownRemaining: s.CooldownRemaining(),
	}
	if last := s.lastSuccess.Load(); last != 0 {
		t := time.Unix(0, last).UTC()
		status.LastSuccess = &t
	}
	return status
}
