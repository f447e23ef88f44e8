package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
)

var testTime = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to create database")
	require.NoError(t, db.RunMigrations(), "failed to run migrations")
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func createTestAccount(t *testing.T, db *database.DB, remoteID string) int64 {
	t.Helper()
	id, err := NewAccountRepository(db).Create(context.Background(), &models.Account{
		RemoteID:  remoteID,
		Name:      "Account " + remoteID,
		Brokerage: "Robinhood",
		Currency:  "USD",
	})
	require.NoError(t, err, "failed to create test account")
	return id
}
