// Package demo provides an in-process backend with fixed sample data for demonstration deployments.
package demo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"portfolio_sync/internal/backend"
	apperrors "portfolio_sync/internal/errors"
)

type demoHolding struct {
	id, accountID, symbol, description string
	quantity, avgCost                  float64
}

var demoAccounts = []backend.AccountRecord{
	{ID: "demo-acc-brokerage", Name: "Individual Brokerage", Brokerage: "Robinhood", Currency: "USD"},
	{ID: "demo-acc-roth", Name: "Roth IRA", Brokerage: "Fidelity", Currency: "USD"},
	{ID: "demo-acc-401k", Name: "401(k)", Brokerage: "Vanguard", Currency: "USD"},
}

var demoHoldings = []demoHolding{
	{"demo-h-aapl", "demo-acc-brokerage", "AAPL", "Apple Inc.", 25, 142.10},
	{"demo-h-msft", "demo-acc-brokerage", "MSFT", "Microsoft Corporation", 12, 310.55},
	{"demo-h-nvda", "demo-acc-brokerage", "NVDA", "NVIDIA Corporation", 8, 420.00},
	{"demo-h-vti-roth", "demo-acc-roth", "VTI", "Vanguard Total Stock Market ETF", 40, 201.30},
	{"demo-h-aapl-roth", "demo-acc-roth", "AAPL", "Apple Inc.", 10, 155.75},
	{"demo-h-vxus", "demo-acc-401k", "VXUS", "Vanguard Total International Stock ETF", 120, 55.20},
	{"demo-h-bnd", "demo-acc-401k", "BND", "Vanguard Total Bond Market ETF", 60, 72.40},
}

// prevCloses are the reference closing prices quotes move around.
var prevCloses = map[string]float64{
	"AAPL": 189.84,
	"MSFT": 415.26,
	"NVDA": 875.28,
	"VTI":  258.10,
	"VXUS": 60.44,
	"BND":  72.15,
}

// Backend serves the sample snapshot and quotes. Each quote request moves prices one step.
type Backend struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	tick     int
	sessions int
}

// NewBackend creates a demo backend.
func NewBackend(logger *zap.Logger) *Backend {
	return &Backend{logger: logger, now: time.Now}
}

// FetchSnapshot returns the sample accounts and holdings.
func (b *Backend) FetchSnapshot(ctx context.Context) (*backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := &backend.Snapshot{
		AsOf:     b.now().UTC(),
		Accounts: append([]backend.AccountRecord(nil), demoAccounts...),
		Holdings: make([]backend.HoldingRecord, 0, len(demoHoldings)),
	}
	for _, h := range demoHoldings {
		desc := h.description
		snapshot.Holdings = append(snapshot.Holdings, backend.HoldingRecord{
			ID:                h.id,
			AccountID:         h.accountID,
			Symbol:            h.symbol,
			SymbolDescription: &desc,
			Quantity:          h.quantity,
			AvgCost:           h.avgCost,
		})
	}

	b.logger.Debug("Serving demo snapshot",
		zap.Int("accounts", len(snapshot.Accounts)),
		zap.Int("holdings", len(snapshot.Holdings)),
	)
	return snapshot, nil
}

// FetchQuotes prices the requested symbols. Unknown symbols are reported in Errors.
func (b *Backend) FetchQuotes(ctx context.Context, symbols []string) (*backend.PriceResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, apperrors.Validation("at least one symbol is required")
	}

	b.mu.Lock()
	b.tick++
	tick := b.tick
	b.mu.Unlock()

	now := b.now().UTC()
	resp := &backend.PriceResponse{AsOf: now}
	currency := "USD"
	for _, sym := range symbols {
		prev, ok := prevCloses[strings.ToUpper(sym)]
		if !ok {
			resp.Errors = append(resp.Errors, backend.QuoteError{Symbol: sym, Message: "unknown symbol"})
			continue
		}
		last := Price(prev, tick)
		prevClose := prev
		resp.Quotes = append(resp.Quotes, backend.Quote{
			Symbol:      sym,
			Last:        &last,
			PrevClose:   &prevClose,
			AsOf:        now,
			Currency:    &currency,
			Source:      "demo",
			IsDelayed:   false,
			CachedUntil: now.Add(time.Minute),
			Stale:       false,
		})
	}
	return resp, nil
}

// LoginRedirect returns a placeholder connect URL for brokerage.
func (b *Backend) LoginRedirect(ctx context.Context, brokerage string) (*backend.LoginRedirect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(brokerage) == "" {
		return nil, apperrors.ValidationField("brokerage", "brokerage is required")
	}

	b.mu.Lock()
	b.sessions++
	session := fmt.Sprintf("demo-session-%d", b.sessions)
	b.mu.Unlock()

	return &backend.LoginRedirect{
		RedirectURI: fmt.Sprintf("https://connect.demo.invalid/%s?session=%s", url.PathEscape(strings.ToLower(brokerage)), session),
		SessionID:   &session,
	}, nil
}

// Price walks prev through a repeating cycle of small moves, at most half a percent either way.
func Price(prev float64, tick int) float64 {
	step := tick%11 - 5
	return float64(int64(prev*(1+0.001*float64(step))*100+0.5)) / 100
}
