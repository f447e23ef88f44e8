package backend

import "time"

// Snapshot is a point-in-time listing of every account and holding the backend knows about.
type Snapshot struct {
	AsOf     time.Time       `json:"asOf"`
	Accounts []AccountRecord `json:"accounts"`
	Holdings []HoldingRecord `json:"holdings"`
}

// AccountRecord is one account in a snapshot.
type AccountRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Brokerage string `json:"brokerage"`
	Currency  string `json:"currency"`
}

// HoldingRecord is one position in a snapshot. AccountID refers to AccountRecord.ID.
type HoldingRecord struct {
	ID                string  `json:"id"`
	AccountID         string  `json:"accountId"`
	Symbol            string  `json:"symbol"`
	SymbolDescription *string `json:"symbolDescription,omitempty"`
	Quantity          float64 `json:"quantity"`
	AvgCost           float64 `json:"avgCost"`
}

// PriceResponse is the result of a batched quote request.
type PriceResponse struct {
	AsOf   time.Time    `json:"asOf"`
	Quotes []Quote      `json:"quotes"`
	Errors []QuoteError `json:"errors"`
}

// Quote is the price record for one symbol.
type Quote struct {
	Symbol      string    `json:"symbol"`
	Last        *float64  `json:"last,omitempty"`
	PrevClose   *float64  `json:"prevClose,omitempty"`
	AsOf        time.Time `json:"asOf"`
	Currency    *string   `json:"currency,omitempty"`
	Source      string    `json:"source"`
	IsDelayed   bool      `json:"isDelayed"`
	CachedUntil time.Time `json:"cachedUntil"`
	Stale       bool      `json:"stale"`
}

// QuoteError reports a symbol the backend could not price.
type QuoteError struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
}

// LoginRedirect is where the user goes to link a brokerage.
type LoginRedirect struct {
	RedirectURI string  `json:"redirectURI"`
	SessionID   *string `json:"sessionId,omitempty"`
}

type loginRedirectRequest struct {
	Brokerage string `json:"brokerage"`
}
