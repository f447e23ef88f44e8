package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_sync/internal/models"
)

func TestAccountRepository_Create_ValidAccount_ReturnsID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	synced := testTime
	id, err := repo.Create(ctx, &models.Account{
		RemoteID:     "acc-1",
		Name:         "Brokerage",
		Brokerage:    "Schwab",
		Currency:     "USD",
		LastSyncedAt: &synced,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.GetByRemoteID(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Schwab", got.Brokerage)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(synced))
	assert.Nil(t, got.PortfolioID)
}

func TestAccountRepository_Create_DuplicateRemoteID_ReturnsError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, &models.Account{RemoteID: "acc-1", Name: "One"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &models.Account{RemoteID: "acc-1", Name: "Two"})
	assert.Error(t, err, "remote ids must be unique")
}

func TestAccountRepository_GetByRemoteID_ExactMatchOnly(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	createTestAccount(t, db, "Acc-1")

	got, err := repo.GetByRemoteID(ctx, "Acc-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	for _, variant := range []string{"acc-1", " Acc-1", "Acc-1 "} {
		got, err := repo.GetByRemoteID(ctx, variant)
		require.NoError(t, err)
		assert.Nil(t, got, "GetByRemoteID(%q) should not match", variant)
	}
}

func TestAccountRepository_GetByRemoteID_Missing_ReturnsNil(t *testing.T) {
	db := setupTestDB(t)

	got, err := NewAccountRepository(db).GetByRemoteID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountRepository_Update_KeepsLocalID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	id := createTestAccount(t, db, "acc-1")

	acc, err := repo.GetByRemoteID(ctx, "acc-1")
	require.NoError(t, err)

	acc.Name = "Renamed"
	acc.Currency = "EUR"
	require.NoError(t, repo.Update(ctx, acc))

	got, err := repo.GetByRemoteID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "EUR", got.Currency)
}

func TestAccountRepository_Update_Missing_ReturnsError(t *testing.T) {
	db := setupTestDB(t)

	err := NewAccountRepository(db).Update(context.Background(), &models.Account{ID: 999, RemoteID: "x"})
	assert.Error(t, err)
}

func TestAccountRepository_Delete_CascadesToHoldings(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccountRepository(db)
	holdings := NewHoldingRepository(db)
	ctx := context.Background()
	id := createTestAccount(t, db, "acc-1")

	_, err := holdings.Create(ctx, &models.Holding{RemoteID: "h-1", AccountID: id, Symbol: "AAPL", UpdatedAt: testTime})
	require.NoError(t, err)

	require.NoError(t, accounts.Delete(ctx, id))

	remaining, err := holdings.ListByAccountID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Error(t, accounts.Delete(ctx, id), "second delete should report not found")
}

func TestAccountRepository_List_SortedByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		_, err := repo.Create(ctx, &models.Account{RemoteID: name, Name: name})
		require.NoError(t, err)
	}

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "Alpha", accounts[0].Name)
	assert.Equal(t, "Mid", accounts[1].Name)
	assert.Equal(t, "Zeta", accounts[2].Name)
}
