// Package models contains the domain models for portfolio sync.
package models

import "time"

// DefaultPortfolioName is the name given to the portfolio when the first sync creates it.
const DefaultPortfolioName = "My Portfolio"

// Portfolio is the root aggregate. Only one exists locally.
type Portfolio struct {
	ID       int64      `db:"id" json:"-"`
	Name     string     `db:"name" json:"name"`
	AsOf     time.Time  `db:"as_of" json:"as_of"`
	Accounts []*Account `db:"-" json:"accounts"`
}

// TotalValue returns the current market value across all accounts.
func (p *Portfolio) TotalValue() float64 {
	var total float64
	for _, a := range p.Accounts {
		total += a.CurrentValue()
	}
	return total
}

// PrevCloseValue sums previous-close values over every account.
// It reports false when no holding has a previous close.
func (p *Portfolio) PrevCloseValue() (float64, bool) {
	var total float64
	found := false
	for _, a := range p.Accounts {
		if v, ok := a.PrevCloseValue(); ok {
			total += v
			found = true
		}
	}
	return total, found
}

// DayChangePercent is the portfolio-level change against the previous close.
func (p *Portfolio) DayChangePercent() (float64, bool) {
	prev, ok := p.PrevCloseValue()
	if !ok || prev <= 0 {
		return 0, false
	}
	return (p.TotalValue() - prev) / prev * 100, true
}

// Account represents a brokerage account linked through the backend.
type Account struct {
	ID           int64      `db:"id" json:"-"`
	RemoteID     string     `db:"remote_id" json:"id"`
	PortfolioID  *int64     `db:"portfolio_id" json:"-"`
	Name         string     `db:"name" json:"name"`
	Brokerage    string     `db:"brokerage" json:"brokerage"`
	Currency     string     `db:"currency" json:"currency"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"-"`
	Holdings     []*Holding `db:"-" json:"holdings,omitempty"`
}

// CurrentValue is the sum of the holdings' current values.
func (a *Account) CurrentValue() float64 {
	var total float64
	for _, h := range a.Holdings {
		total += h.CurrentValue()
	}
	return total
}

// PrevCloseValue sums previous-close values over holdings that have one.
// It reports false when no holding has a previous close.
func (a *Account) PrevCloseValue() (float64, bool) {
	var total float64
	found := false
	for _, h := range a.Holdings {
		if v, ok := h.PrevCloseValue(); ok {
			total += v
			found = true
		}
	}
	return total, found
}

// DayChangePercent is the account-level change against the previous close, weighted by position size.
func (a *Account) DayChangePercent() (float64, bool) {
	prev, ok := a.PrevCloseValue()
	if !ok || prev <= 0 {
		return 0, false
	}
	return (a.CurrentValue() - prev) / prev * 100, true
}

// Holding is a position in one symbol within one account.
type Holding struct {
	ID          int64      `db:"id" json:"-"`
	RemoteID    string     `db:"remote_id" json:"id"`
	AccountID   int64      `db:"account_id" json:"-"`
	Symbol      string     `db:"symbol" json:"symbol"`
	Description *string    `db:"description" json:"description,omitempty"`
	Quantity    float64    `db:"quantity" json:"quantity"`
	AvgCost     float64    `db:"avg_cost" json:"avg_cost"`
	MarketPrice *float64   `db:"market_price" json:"market_price,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	PriceAsOf   *time.Time `db:"price_as_of" json:"price_as_of,omitempty"`
	PrevClose   *float64   `db:"prev_close" json:"prev_close,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"-"`
}

// CurrentValue returns price × quantity, treating a missing price as zero.
func (h *Holding) CurrentValue() float64 {
	if h.MarketPrice == nil {
		return 0
	}
	return *h.MarketPrice * h.Quantity
}

// Gain returns the unrealized gain against the average cost basis.
func (h *Holding) Gain() float64 {
	return h.CurrentValue() - h.AvgCost*h.Quantity
}

// PrevCloseValue returns prevClose × quantity, or false when there is no previous close.
func (h *Holding) PrevCloseValue() (float64, bool) {
	if h.PrevClose == nil {
		return 0, false
	}
	return *h.PrevClose * h.Quantity, true
}

// DayChangePercent returns the change of the last price against the previous close.
func (h *Holding) DayChangePercent() (float64, bool) {
	if h.MarketPrice == nil || h.PrevClose == nil || *h.PrevClose <= 0 {
		return 0, false
	}
	return (*h.MarketPrice - *h.PrevClose) / *h.PrevClose * 100, true
}

// Sync kinds recorded in the history.
const (
	SyncKindSnapshot = "snapshot"
	SyncKindPrices   = "prices"
)

// Sync statuses recorded in the history.
const (
	SyncStatusStarted = "started"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncHistory tracks one sync engine run for auditing.
type SyncHistory struct {
	ID               int64      `db:"id" json:"id"`
	RunID            string     `db:"run_id" json:"run_id"`
	Kind             string     `db:"kind" json:"kind"`
	Status           string     `db:"status" json:"status"`
	AccountsSynced   int        `db:"accounts_synced" json:"accounts_synced"`
	HoldingsSynced   int        `db:"holdings_synced" json:"holdings_synced"`
	QuotesApplied    int        `db:"quotes_applied" json:"quotes_applied"`
	OrphanedHoldings int        `db:"orphaned_holdings" json:"orphaned_holdings"`
	CleanupErrors    int        `db:"cleanup_errors" json:"cleanup_errors"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs       *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}

// DateLayout formats the calendar day a value point is keyed by.
const DateLayout = "2006-01-02"

// ValuePoint is the portfolio's total value as last recorded on one UTC day.
type ValuePoint struct {
	Date       string    `db:"date" json:"date"`
	TotalValue float64   `db:"total_value" json:"total_value"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// ValueChange returns the change from the first to the last point, absolute and in percent.
// It reports false for fewer than two points or a non-positive starting value.
func ValueChange(points []*ValuePoint) (change, percent float64, ok bool) {
	if len(points) < 2 {
		return 0, 0, false
	}
	start := points[0].TotalValue
	if start <= 0 {
		return 0, 0, false
	}
	change = points[len(points)-1].TotalValue - start
	return change, change / start * 100, true
}

// History ranges, counted back from the latest recorded day.
const (
	Range1D  = "1D"
	Range1W  = "1W"
	Range6M  = "6M"
	RangeYTD = "YTD"
	Range1Y  = "1Y"
	Range5Y  = "5Y"
	RangeAll = "ALL"
)

// RangeStart returns the first day included in a history range ending at latest.
// RangeAll reports an empty start. ok is false for an unknown range.
func RangeStart(rng string, latest time.Time) (start string, ok bool) {
	var from time.Time
	switch rng {
	case Range1D:
		from = latest.AddDate(0, 0, -1)
	case Range1W:
		from = latest.AddDate(0, 0, -7)
	case Range6M:
		from = latest.AddDate(0, -6, 0)
	case RangeYTD:
		from = time.Date(latest.Year(), time.January, 1, 0, 0, 0, 0, latest.Location())
	case Range1Y:
		from = latest.AddDate(-1, 0, 0)
	case Range5Y:
		from = latest.AddDate(-5, 0, 0)
	case RangeAll:
		return "", true
	default:
		return "", false
	}
	return from.Format(DateLayout), true
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Credential is an encrypted secret stored at rest.
type Credential struct {
	Name       string    `db:"name"`
	Ciphertext []byte    `db:"ciphertext"`
	Nonce      []byte    `db:"nonce"`
	UpdatedAt  time.Time `db:"updated_at"`
}
