package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

var (
	t1 = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// fakeBackend serves canned responses and records what it was asked for.
type fakeBackend struct {
	mu          gosync.Mutex
	snapshot    *backend.Snapshot
	snapshotErr error
	prices      *backend.PriceResponse
	pricesErr   error

	snapshotCalls int
	quoteCalls    int
	requested     [][]string

	// When set, FetchSnapshot signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeBackend) FetchSnapshot(ctx context.Context) (*backend.Snapshot, error) {
	if f.started != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeBackend) FetchQuotes(ctx context.Context, symbols []string) (*backend.PriceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.requested = append(f.requested, symbols)
	if f.pricesErr != nil {
		return nil, f.pricesErr
	}
	if f.prices == nil {
		return &backend.PriceResponse{}, nil
	}
	return f.prices, nil
}

func account(id string) backend.AccountRecord {
	return backend.AccountRecord{ID: id, Name: "Account " + id, Brokerage: "Robinhood", Currency: "USD"}
}

func holding(id, accountID, symbol string, qty, avgCost float64) backend.HoldingRecord {
	return backend.HoldingRecord{ID: id, AccountID: accountID, Symbol: symbol, Quantity: qty, AvgCost: avgCost}
}

func quote(symbol string, last, prevClose *float64, asOf time.Time) backend.Quote {
	return backend.Quote{Symbol: symbol, Last: last, PrevClose: prevClose, AsOf: asOf, Source: "test"}
}

// storeState is a comparable view of every stored account and holding.
type storeState struct {
	Accounts []*models.Account
	Holdings []*models.Holding
}

func loadState(t *testing.T, db *database.DB) storeState {
	t.Helper()
	ctx := context.Background()
	accounts, err := repository.NewAccountRepository(db).List(ctx)
	require.NoError(t, err)
	holdings, err := repository.NewHoldingRepository(db).List(ctx)
	require.NoError(t, err)
	return storeState{Accounts: accounts, Holdings: holdings}
}

func remoteIDs[T any](items []T, id func(T) string) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, id(item))
	}
	return ids
}

func accountIDs(s storeState) []string {
	return remoteIDs(s.Accounts, func(a *models.Account) string { return a.RemoteID })
}

func holdingIDs(s storeState) []string {
	return remoteIDs(s.Holdings, func(h *models.Holding) string { return h.RemoteID })
}

func getHolding(t *testing.T, db *database.DB, remoteID string) *models.Holding {
	t.Helper()
	h, err := repository.NewHoldingRepository(db).GetByRemoteID(context.Background(), remoteID)
	require.NoError(t, err)
	return h
}
