package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/models"
	"portfolio_sync/internal/repository"
)

var errNotSynced = apperrors.New(apperrors.ErrNotFound, "portfolio has not been synced yet")

// PortfolioHandler serves the stored portfolio with derived values.
type PortfolioHandler struct {
	portfolios *repository.PortfolioRepository
	accounts   *repository.AccountRepository
	holdings   *repository.HoldingRepository
	values     *repository.ValueHistoryRepository
	logger     *zap.Logger
}

// NewPortfolioHandler creates a new PortfolioHandler.
func NewPortfolioHandler(
	portfolios *repository.PortfolioRepository,
	accounts *repository.AccountRepository,
	holdings *repository.HoldingRepository,
	values *repository.ValueHistoryRepository,
	logger *zap.Logger,
) *PortfolioHandler {
	return &PortfolioHandler{
		portfolios: portfolios,
		accounts:   accounts,
		holdings:   holdings,
		values:     values,
		logger:     logger,
	}
}

// maxNameLength bounds the portfolio display name.
const maxNameLength = 100

type portfolioView struct {
	Name             string        `json:"name"`
	AsOf             time.Time     `json:"as_of"`
	TotalValue       float64       `json:"total_value"`
	PrevCloseValue   *float64      `json:"prev_close_value,omitempty"`
	DayChangePercent *float64      `json:"day_change_percent,omitempty"`
	Accounts         []accountView `json:"accounts"`
}

type accountView struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Brokerage        string     `json:"brokerage"`
	Currency         string     `json:"currency"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	CurrentValue     float64    `json:"current_value"`
	PrevCloseValue   *float64   `json:"prev_close_value,omitempty"`
	DayChangePercent *float64   `json:"day_change_percent,omitempty"`
	HoldingsCount    int        `json:"holdings_count"`
}

type holdingView struct {
	*models.Holding
	CurrentValue     float64  `json:"current_value"`
	Gain             float64  `json:"gain"`
	DayChangePercent *float64 `json:"day_change_percent,omitempty"`
}

type accountHoldingsView struct {
	Account  accountView   `json:"account"`
	Holdings []holdingView `json:"holdings"`
}

type valueHistoryView struct {
	Points        []*models.ValuePoint `json:"points"`
	Change        *float64             `json:"change,omitempty"`
	ChangePercent *float64             `json:"change_percent,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// Get returns the portfolio and its accounts.
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	portfolio, err := h.portfolios.Load(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if portfolio == nil {
		writeError(w, h.logger, errNotSynced)
		return
	}

	view := portfolioView{
		Name:       portfolio.Name,
		AsOf:       portfolio.AsOf,
		TotalValue: portfolio.TotalValue(),
		Accounts:   make([]accountView, 0, len(portfolio.Accounts)),
	}
	for _, a := range portfolio.Accounts {
		view.Accounts = append(view.Accounts, newAccountView(a))
	}
	if v, ok := portfolio.PrevCloseValue(); ok {
		view.PrevCloseValue = &v
	}
	if pct, ok := portfolio.DayChangePercent(); ok {
		view.DayChangePercent = &pct
	}

	writeJSON(w, h.logger, http.StatusOK, view)
}

// Rename sets the portfolio display name and returns the updated portfolio.
func (h *PortfolioHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, h.logger, apperrors.ValidationField("name", "name is required"))
		return
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		writeError(w, h.logger, apperrors.ValidationField("name", fmt.Sprintf("name must be at most %d characters", maxNameLength)))
		return
	}

	if err := h.portfolios.Rename(r.Context(), name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("Portfolio renamed", zap.String("name", name))

	h.Get(w, r)
}

// History returns the recorded daily total values, oldest first.
// Either from (YYYY-MM-DD) or range (1D, 1W, 6M, YTD, 1Y, 5Y, ALL) narrows the window.
func (h *PortfolioHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	from := query.Get("from")
	rng := strings.ToUpper(query.Get("range"))

	switch {
	case from != "" && rng != "":
		writeError(w, h.logger, apperrors.Validation("use either from or range, not both"))
		return
	case from != "":
		if _, err := time.Parse(models.DateLayout, from); err != nil {
			writeError(w, h.logger, apperrors.ValidationField("from", "must be a date in YYYY-MM-DD format"))
			return
		}
	case rng != "":
		if _, ok := models.RangeStart(rng, time.Time{}); !ok {
			writeError(w, h.logger, apperrors.ValidationField("range", "must be one of 1D, 1W, 6M, YTD, 1Y, 5Y, ALL"))
			return
		}
		latest, err := h.values.Latest(ctx)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if latest == nil {
			break
		}
		day, err := time.Parse(models.DateLayout, latest.Date)
		if err != nil {
			writeError(w, h.logger, fmt.Errorf("parsing stored date %q: %w", latest.Date, err))
			return
		}
		from, _ = models.RangeStart(rng, day)
	}

	points, err := h.values.List(ctx, from)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	view := valueHistoryView{Points: points}
	if change, pct, ok := models.ValueChange(points); ok {
		view.Change = &change
		view.ChangePercent = &pct
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

// AccountHoldings returns the holdings of one account, addressed by its remote id.
func (h *PortfolioHandler) AccountHoldings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	remoteID := chi.URLParam(r, "remoteID")

	account, err := h.accounts.GetByRemoteID(ctx, remoteID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if account == nil {
		writeError(w, h.logger, apperrors.NotFound("account"))
		return
	}

	holdings, err := h.holdings.ListByAccountID(ctx, account.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	account.Holdings = holdings

	view := accountHoldingsView{
		Account:  newAccountView(account),
		Holdings: make([]holdingView, 0, len(holdings)),
	}
	for _, holding := range holdings {
		hv := holdingView{
			Holding:      holding,
			CurrentValue: holding.CurrentValue(),
			Gain:         holding.Gain(),
		}
		if pct, ok := holding.DayChangePercent(); ok {
			hv.DayChangePercent = &pct
		}
		view.Holdings = append(view.Holdings, hv)
	}

	writeJSON(w, h.logger, http.StatusOK, view)
}

func newAccountView(a *models.Account) accountView {
	view := accountView{
		ID:            a.RemoteID,
		Name:          a.Name,
		Brokerage:     a.Brokerage,
		Currency:      a.Currency,
		LastSyncedAt:  a.LastSyncedAt,
		CurrentValue:  a.CurrentValue(),
		HoldingsCount: len(a.Holdings),
	}
	if v, ok := a.PrevCloseValue(); ok {
		view.PrevCloseValue = &v
	}
	if pct, ok := a.DayChangePercent(); ok {
		view.DayChangePercent = &pct
	}
	return view
}
