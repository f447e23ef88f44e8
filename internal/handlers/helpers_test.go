package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/credentials"
	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
	syncsvc "portfolio_sync/internal/sync"
)

var testTime = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

type fakeSyncer struct {
	mu          gosync.Mutex
	result      *syncsvc.RefreshResult
	prices      *syncsvc.PriceResult
	err         error
	status      syncsvc.Status
	allCalls    int
	pricesCalls int
}

func (f *fakeSyncer) RefreshAll(ctx context.Context) (*syncsvc.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSyncer) RefreshPricesOnly(ctx context.Context) (*syncsvc.PriceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pricesCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

func (f *fakeSyncer) Status() syncsvc.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeConnector struct {
	redirect  *backend.LoginRedirect
	err       error
	brokerage string
}

func (f *fakeConnector) LoginRedirect(ctx context.Context, brokerage string) (*backend.LoginRedirect, error) {
	f.brokerage = brokerage
	if f.err != nil {
		return nil, f.err
	}
	return f.redirect, nil
}

type testEnv struct {
	db        *database.DB
	syncer    *fakeSyncer
	connector *fakeConnector
	deps      *Dependencies
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() {
		db.Close()
	})

	enc, err := credentials.NewEncryptor(strings.Repeat("k", 32))
	require.NoError(t, err)

	session := "sess-1"
	env := &testEnv{
		db:     db,
		syncer: &fakeSyncer{},
		connector: &fakeConnector{redirect: &backend.LoginRedirect{
			RedirectURI: "https://connect.example.com/login?session=sess-1",
			SessionID:   &session,
		}},
	}
	env.deps = NewDependencies(zaptest.NewLogger(t)).
		WithDB(db).
		WithRepositories(
			repository.NewPortfolioRepository(db),
			repository.NewAccountRepository(db),
			repository.NewHoldingRepository(db),
			repository.NewSyncHistoryRepository(db),
		).
		WithValueHistory(repository.NewValueHistoryRepository(db)).
		WithSyncer(env.syncer).
		WithConnector(env.connector).
		WithTokens(credentials.NewStore(repository.NewCredentialRepository(db), enc))
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	NewRouter(e.deps).ServeHTTP(rec, req)
	return rec
}

// seedPortfolio stores two accounts: acc-1 with AAPL and MSFT, acc-2 with nothing.
func (e *testEnv) seedPortfolio(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	p, err := repository.NewPortfolioRepository(e.db).Ensure(ctx, testTime)
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(e.db)
	holdings := repository.NewHoldingRepository(e.db)

	acc1, err := accounts.Create(ctx, &models.Account{RemoteID: "acc-1", PortfolioID: &p.ID, Name: "Brokerage", Brokerage: "Schwab", Currency: "USD", LastSyncedAt: &testTime})
	require.NoError(t, err)
	_, err = accounts.Create(ctx, &models.Account{RemoteID: "acc-2", PortfolioID: &p.ID, Name: "Roth IRA", Brokerage: "Fidelity", Currency: "USD"})
	require.NoError(t, err)

	aapl, err := holdings.Create(ctx, &models.Holding{RemoteID: "h-aapl", AccountID: acc1, Symbol: "AAPL", Quantity: 10, AvgCost: 100, UpdatedAt: testTime})
	require.NoError(t, err)
	_, err = holdings.UpdatePrice(ctx, aapl, models.Float(150), models.Float(120), testTime)
	require.NoError(t, err)

	msft, err := holdings.Create(ctx, &models.Holding{RemoteID: "h-msft", AccountID: acc1, Symbol: "MSFT", Quantity: 5, AvgCost: 200, UpdatedAt: testTime})
	require.NoError(t, err)
	_, err = holdings.UpdatePrice(ctx, msft, models.Float(300), nil, testTime)
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	body := rec.Body.Bytes()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), "body: %s", body)
	return v
}

type errorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func assertJSON(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
