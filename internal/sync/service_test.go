package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/database"
	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

type testService struct {
	*Service
	db      *database.DB
	fake    *fakeBackend
	history *repository.SyncHistoryRepository
	clock   *time.Time
}

func newTestService(t *testing.T, fake *fakeBackend) *testService {
	t.Helper()
	return newTestServiceOn(t, setupTestDB(t), fake)
}

func newTestServiceOn(t *testing.T, db *database.DB, fake *fakeBackend) *testService {
	t.Helper()
	logger := zaptest.NewLogger(t)
	history := repository.NewSyncHistoryRepository(db)

	svc := NewService(
		fake,
		NewReconciler(db, logger),
		NewPriceRefresher(db, fake, logger),
		history,
		NewValueRecorder(db, logger),
		DefaultCooldown,
		logger,
	)
	clock := t1
	svc.now = func() time.Time { return clock }

	return &testService{Service: svc, db: db, fake: fake, history: history, clock: &clock}
}

func defaultSnapshot() *backend.Snapshot {
	return &backend.Snapshot{
		AsOf:     t1,
		Accounts: []backend.AccountRecord{account("A1")},
		Holdings: []backend.HoldingRecord{
			holding("H1", "A1", "AAPL", 10, 100),
			holding("H2", "A1", "MSFT", 5, 300),
		},
	}
}

func TestService_RefreshAll_RunsBothEnginesAndRecordsHistory(t *testing.T) {
	fake := &fakeBackend{
		snapshot: defaultSnapshot(),
		prices: &backend.PriceResponse{
			Quotes: []backend.Quote{quote("AAPL", models.Float(150), models.Float(148), t1)},
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	result, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.Reconcile.HoldingsUpserted)
	assert.Equal(t, 1, result.Prices.HoldingsUpdated)
	assert.Equal(t, []string{"AAPL", "MSFT"}, fake.requested[0])

	page, err := svc.history.List(ctx, repository.NewPagination(10, 0))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	prices, snapshot := page.Items[0], page.Items[1]
	assert.Equal(t, models.SyncKindPrices, prices.Kind)
	assert.Equal(t, models.SyncStatusSuccess, prices.Status)
	assert.Equal(t, 1, prices.QuotesApplied)
	assert.Equal(t, models.SyncKindSnapshot, snapshot.Kind)
	assert.Equal(t, models.SyncStatusSuccess, snapshot.Status)
	assert.Equal(t, 1, snapshot.AccountsSynced)
	assert.Equal(t, 2, snapshot.HoldingsSynced)
	assert.Equal(t, result.RunID, snapshot.RunID)
	assert.Equal(t, result.RunID, prices.RunID)
}

func TestService_RefreshAll_Cooldown(t *testing.T) {
	svc := newTestService(t, &fakeBackend{snapshot: defaultSnapshot()})
	ctx := context.Background()

	_, err := svc.RefreshAll(ctx)
	require.NoError(t, err)

	*svc.clock = t1.Add(30 * time.Second)
	_, err = svc.RefreshAll(ctx)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, 30*time.Second, svc.CooldownRemaining())
	assert.Equal(t, 429, apperrors.HTTPStatus(err))
	assert.Equal(t, 1, svc.fake.snapshotCalls)

	*svc.clock = t1.Add(DefaultCooldown)
	_, err = svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.fake.snapshotCalls)
}

func TestService_RefreshAll_FailureDoesNotStartCooldown(t *testing.T) {
	boom := apperrors.Upstream("backend request failed", errors.New("connection refused"))
	svc := newTestService(t, &fakeBackend{snapshotErr: boom})
	ctx := context.Background()

	_, err := svc.RefreshAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, apperrors.IsUpstream(err))
	assert.Zero(t, svc.CooldownRemaining())

	page, err := svc.history.List(ctx, repository.NewPagination(10, 0))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.SyncStatusError, page.Items[0].Status)
	require.NotNil(t, page.Items[0].ErrorMessage)
	assert.Contains(t, *page.Items[0].ErrorMessage, "connection refused")

	svc.fake.snapshotErr = nil
	svc.fake.snapshot = defaultSnapshot()
	_, err = svc.RefreshAll(ctx)
	assert.NoError(t, err)
}

func TestService_RefreshAll_InFlightGuard(t *testing.T) {
	fake := &fakeBackend{
		snapshot: defaultSnapshot(),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.RefreshAll(ctx)
		done <- err
	}()
	<-fake.started

	assert.True(t, svc.Status().InProgress)
	_, err := svc.RefreshAll(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = svc.RefreshPricesOnly(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, apperrors.IsConflict(err))

	close(fake.release)
	require.NoError(t, <-done)
	assert.False(t, svc.Status().InProgress)
	assert.Equal(t, 1, fake.snapshotCalls)
}

func TestService_RefreshPricesOnly_IgnoresCooldown(t *testing.T) {
	svc := newTestService(t, &fakeBackend{snapshot: defaultSnapshot()})
	ctx := context.Background()

	_, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	require.Positive(t, svc.CooldownRemaining())

	result, err := svc.RefreshPricesOnly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SymbolsRequested)
	assert.Equal(t, 2, svc.fake.quoteCalls)
	assert.Equal(t, 1, svc.fake.snapshotCalls)
}

func TestService_RefreshAll_CancelledBeforeFetch_LeavesStoreUntouched(t *testing.T) {
	fake := &fakeBackend{
		snapshot: defaultSnapshot(),
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	svc := newTestService(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	last, err := svc.history.LastSuccess(context.Background(), models.SyncKindSnapshot)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Zero(t, svc.CooldownRemaining())
}

func TestService_Status(t *testing.T) {
	svc := newTestService(t, &fakeBackend{snapshot: defaultSnapshot()})

	status := svc.Status()
	assert.False(t, status.InProgress)
	assert.Nil(t, status.LastSuccess)

	_, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)

	status = svc.Status()
	require.NotNil(t, status.LastSuccess)
	assert.True(t, status.LastSuccess.Equal(t1))
	assert.Equal(t, DefaultCooldown, status.CooldownRemaining)

	raw, err := json.Marshal(status)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "cooldown")
	assert.Contains(t, string(raw), `"in_progress":false`)
}

func TestService_RefreshAll_FailureIsLoggedOnce(t *testing.T) {
	svc := newTestService(t, &fakeBackend{snapshotErr: apperrors.Upstream("backend request failed", nil)})
	core, logs := observer.New(zap.ErrorLevel)
	svc.logger = zap.New(core)

	_, err := svc.RefreshAll(context.Background())
	require.Error(t, err)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Sync run failed", logs.All()[0].Message)
}

func TestService_RecordsDailyValue(t *testing.T) {
	fake := &fakeBackend{
		snapshot: defaultSnapshot(),
		prices: &backend.PriceResponse{
			Quotes: []backend.Quote{
				quote("AAPL", models.Float(150), nil, t1),
				quote("MSFT", models.Float(400), nil, t1),
			},
		},
	}
	svc := newTestService(t, fake)
	values := repository.NewValueHistoryRepository(svc.db)
	ctx := context.Background()

	_, err := svc.RefreshAll(ctx)
	require.NoError(t, err)

	points, err := values.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "2026-03-14", points[0].Date)
	assert.InDelta(t, 10*150+5*400, points[0].TotalValue, 1e-9)

	// A later price refresh on the same day overwrites the point.
	fake.prices = &backend.PriceResponse{
		Quotes: []backend.Quote{
			quote("AAPL", models.Float(100), nil, t1),
			quote("MSFT", models.Float(400), nil, t1),
		},
	}
	*svc.clock = t1.Add(time.Hour)
	_, err = svc.RefreshPricesOnly(ctx)
	require.NoError(t, err)

	points, err = values.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 10*100+5*400, points[0].TotalValue, 1e-9)

	*svc.clock = t1.Add(24 * time.Hour)
	_, err = svc.RefreshPricesOnly(ctx)
	require.NoError(t, err)

	points, err = values.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2026-03-15", points[1].Date)
}

func TestService_FailedRefresh_RecordsNoValue(t *testing.T) {
	svc := newTestService(t, &fakeBackend{snapshot: defaultSnapshot(), pricesErr: errors.New("quotes down")})
	ctx := context.Background()

	_, err := svc.RefreshAll(ctx)
	require.Error(t, err)

	points, err := repository.NewValueHistoryRepository(svc.db).List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestService_RestoreCooldown(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newTestServiceOn(t, db, &fakeBackend{snapshot: defaultSnapshot()})
	_, err := first.RefreshAll(ctx)
	require.NoError(t, err)

	// History timestamps come from the wall clock.
	restarted := newTestServiceOn(t, db, &fakeBackend{snapshot: defaultSnapshot()})
	restarted.now = time.Now
	require.NoError(t, restarted.RestoreCooldown(ctx))

	remaining := restarted.CooldownRemaining()
	assert.Positive(t, remaining)
	assert.LessOrEqual(t, remaining, DefaultCooldown)
	require.NotNil(t, restarted.Status().LastSuccess)

	_, err = restarted.RefreshAll(ctx)
	assert.ErrorIs(t, err, ErrCooldown)
}

func TestService_RestoreCooldown_IgnoresIncompleteRefresh(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newTestServiceOn(t, db, &fakeBackend{snapshot: defaultSnapshot(), pricesErr: errors.New("quotes down")})
	_, err := first.RefreshAll(ctx)
	require.Error(t, err)

	restarted := newTestServiceOn(t, db, &fakeBackend{snapshot: defaultSnapshot()})
	restarted.now = time.Now
	require.NoError(t, restarted.RestoreCooldown(ctx))
	assert.Zero(t, restarted.CooldownRemaining())

	empty := newTestService(t, &fakeBackend{})
	require.NoError(t, empty.RestoreCooldown(ctx))
	assert.Nil(t, empty.Status().LastSuccess)
}
