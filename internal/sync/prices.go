package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/database"
	"portfolio_sync/internal/metrics"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

// QuoteFetcher requests quotes for a batch of symbols.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) (*backend.PriceResponse, error)
}

// PriceResult counts what one price refresh changed.
type PriceResult struct {
	SymbolsRequested int `json:"symbols_requested"`
	QuotesReceived   int `json:"quotes_received"`
	HoldingsUpdated  int `json:"holdings_updated"`
	// UnmatchedQuotes are quotes for symbols no stored holding has.
	UnmatchedQuotes int `json:"unmatched_quotes"`
	// QuoteErrors are symbols the backend reported it could not price.
	QuoteErrors int `json:"quote_errors"`
}

// PriceRefresher overlays backend quotes onto stored holdings.
type PriceRefresher struct {
	db     *database.DB
	quotes QuoteFetcher
	logger *zap.Logger
}

// NewPriceRefresher creates a new PriceRefresher.
func NewPriceRefresher(db *database.DB, quotes QuoteFetcher, logger *zap.Logger) *PriceRefresher {
	return &PriceRefresher{db: db, quotes: quotes, logger: logger}
}

// RefreshPrices requests one quote batch for every held symbol and writes the
// results in a single transaction. With no symbols held it returns without
// calling the backend. Backend errors are returned as-is and never retried.
func (p *PriceRefresher) RefreshPrices(ctx context.Context) (*PriceResult, error) {
	holdings, err := repository.NewHoldingRepository(p.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing holdings: %w", err)
	}

	symbols := SymbolSet(holdings)
	if len(symbols) == 0 {
		p.logger.Debug("No symbols held, skipping price refresh")
		return &PriceResult{}, nil
	}

	prices, err := p.quotes.FetchQuotes(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("fetching quotes: %w", err)
	}

	result := &PriceResult{
		SymbolsRequested: len(symbols),
		QuotesReceived:   len(prices.Quotes),
		QuoteErrors:      len(prices.Errors),
	}
	for _, qe := range prices.Errors {
		p.logger.Warn("Backend could not price symbol",
			zap.String("symbol", qe.Symbol),
			zap.String("message", qe.Message),
		)
	}

	index := indexBySymbol(holdings)
	err = p.db.Transact(ctx, func(tx *sqlx.Tx) error {
		repo := repository.NewHoldingRepository(tx)
		for _, quote := range prices.Quotes {
			ids, ok := index[strings.ToUpper(quote.Symbol)]
			if !ok {
				result.UnmatchedQuotes++
				continue
			}
			for _, id := range ids {
				updated, err := repo.UpdatePrice(ctx, id, quote.Last, quote.PrevClose, quote.AsOf)
				if err != nil {
					return fmt.Errorf("updating price for holding %d: %w", id, err)
				}
				if updated {
					result.HoldingsUpdated++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.QuotesApplied.Add(float64(result.HoldingsUpdated))
	metrics.QuoteErrors.Add(float64(result.QuoteErrors))
	p.logger.Info("Prices refreshed",
		zap.Int("symbols", result.SymbolsRequested),
		zap.Int("quotes", result.QuotesReceived),
		zap.Int("holdings_updated", result.HoldingsUpdated),
		zap.Int("unmatched_quotes", result.UnmatchedQuotes),
		zap.Int("quote_errors", result.QuoteErrors),
	)
	return result, nil
}

// SymbolSet returns the distinct, uppercased, non-empty symbols of holdings in sorted order.
func SymbolSet(holdings []*models.Holding) []string {
	seen := make(map[string]struct{}, len(holdings))
	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		sym := strings.ToUpper(h.Symbol)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// indexBySymbol maps each uppercased symbol to the ids of the holdings that carry it.
func indexBySymbol(holdings []*models.Holding) map[string][]int64 {
	index := make(map[string][]int64, len(holdings))
	for _, h := range holdings {
		sym := strings.ToUpper(h.Symbol)
		if sym == "" {
			continue
		}
		index[sym] = append(index[sym], h.ID)
	}
	return index
}
