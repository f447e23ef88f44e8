package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/repository"
	syncsvc "portfolio_sync/internal/sync"
)

// SyncHandler triggers sync runs and reports on them.
type SyncHandler struct {
	syncer  Syncer
	history *repository.SyncHistoryRepository
	logger  *zap.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer Syncer, history *repository.SyncHistoryRepository, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, history: history, logger: logger}
}

type syncStatusView struct {
	InProgress        bool       `json:"in_progress"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	CooldownRemaining float64    `json:"cooldown_remaining_seconds"`
}

// RefreshAll runs a snapshot reconcile followed by a price refresh.
func (h *SyncHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.RefreshAll(r.Context())
	if err != nil {
		if errors.Is(err, syncsvc.ErrCooldown) {
			setRetryAfter(w, h.syncer.Status().CooldownRemaining)
		}
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// RefreshPrices re-quotes stored holdings without fetching a snapshot.
func (h *SyncHandler) RefreshPrices(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.RefreshPricesOnly(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// Status reports whether a run is active and the remaining cooldown.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.syncer.Status()
	writeJSON(w, h.logger, http.StatusOK, syncStatusView{
		InProgress:        status.InProgress,
		LastSuccess:       status.LastSuccess,
		CooldownRemaining: status.CooldownRemaining.Seconds(),
	})
}

// History lists recorded runs, most recent first.
func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", repository.DefaultLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.history.List(r.Context(), repository.NewPagination(limit, offset))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, page)
}

// HistoryEntry returns one recorded run by its history id.
func (h *SyncHandler) HistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, apperrors.ValidationField("id", "must be an integer"))
		return
	}

	entry, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if entry == nil {
		writeError(w, h.logger, apperrors.NotFound("sync run"))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entry)
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}
