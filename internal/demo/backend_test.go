package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "portfolio_sync/internal/errors"
)

func TestBackend_FetchSnapshot_HoldingsReferenceAccounts(t *testing.T) {
	b := NewBackend(zaptest.NewLogger(t))

	snapshot, err := b.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, snapshot.Accounts)
	require.NotEmpty(t, snapshot.Holdings)

	accounts := map[string]bool{}
	for _, a := range snapshot.Accounts {
		accounts[a.ID] = true
	}
	for _, h := range snapshot.Holdings {
		assert.True(t, accounts[h.AccountID], "holding %s has unknown account %s", h.ID, h.AccountID)
		_, priced := prevCloses[h.Symbol]
		assert.True(t, priced, "holding %s has unpriced symbol %s", h.ID, h.Symbol)
	}
}

func TestBackend_FetchQuotes(t *testing.T) {
	b := NewBackend(zaptest.NewLogger(t))

	resp, err := b.FetchQuotes(context.Background(), []string{"AAPL", "ZZZZ"})
	require.NoError(t, err)

	require.Len(t, resp.Quotes, 1)
	q := resp.Quotes[0]
	assert.Equal(t, "AAPL", q.Symbol)
	require.NotNil(t, q.Last)
	require.NotNil(t, q.PrevClose)
	assert.Equal(t, prevCloses["AAPL"], *q.PrevClose)
	assert.InDelta(t, *q.PrevClose, *q.Last, *q.PrevClose*0.005+0.01)

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "ZZZZ", resp.Errors[0].Symbol)
}

func TestBackend_FetchQuotes_NoSymbols(t *testing.T) {
	_, err := NewBackend(zaptest.NewLogger(t)).FetchQuotes(context.Background(), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestBackend_LoginRedirect(t *testing.T) {
	b := NewBackend(zaptest.NewLogger(t))

	first, err := b.LoginRedirect(context.Background(), "Robinhood")
	require.NoError(t, err)
	second, err := b.LoginRedirect(context.Background(), "Robinhood")
	require.NoError(t, err)

	assert.Contains(t, first.RedirectURI, "/robinhood?session=")
	require.NotNil(t, first.SessionID)
	require.NotNil(t, second.SessionID)
	assert.NotEqual(t, *first.SessionID, *second.SessionID)

	_, err = b.LoginRedirect(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestPrice_Cycle(t *testing.T) {
	assert.Equal(t, 100.0, Price(100, 5))
	assert.Equal(t, 99.5, Price(100, 0))
	assert.Equal(t, 100.5, Price(100, 10))
	assert.Equal(t, Price(100, 3), Price(100, 14))
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBackend(zaptest.NewLogger(t)).FetchSnapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
