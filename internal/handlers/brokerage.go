package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"portfolio_sync/internal/backend"
	apperrors "portfolio_sync/internal/errors"
)

// QR code size bounds in pixels.
const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// BrokerageHandler starts brokerage logins through the backend.
type BrokerageHandler struct {
	connector Connector
	logger    *zap.Logger
}

// NewBrokerageHandler creates a new BrokerageHandler.
func NewBrokerageHandler(connector Connector, logger *zap.Logger) *BrokerageHandler {
	return &BrokerageHandler{connector: connector, logger: logger}
}

type connectResponse struct {
	RedirectURI string  `json:"redirect_uri"`
	SessionID   *string `json:"session_id,omitempty"`
}

// Connect returns the URL the user visits to link a brokerage.
func (h *BrokerageHandler) Connect(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.redirect(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, connectResponse{
		RedirectURI: redirect.RedirectURI,
		SessionID:   redirect.SessionID,
	})
}

// ConnectQR renders the login URL as a PNG QR code so it can be opened on a phone.
func (h *BrokerageHandler) ConnectQR(w http.ResponseWriter, r *http.Request) {
	size, err := queryInt(r, "size", defaultQRSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if size < minQRSize || size > maxQRSize {
		writeError(w, h.logger, apperrors.ValidationField("size",
			"size must be between "+strconv.Itoa(minQRSize)+" and "+strconv.Itoa(maxQRSize)))
		return
	}

	redirect, err := h.redirect(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	png, err := qrcode.Encode(redirect.RedirectURI, qrcode.Medium, size)
	if err != nil {
		writeError(w, h.logger, apperrors.Internal("failed to render QR code", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	if redirect.SessionID != nil {
		w.Header().Set("X-Session-Id", *redirect.SessionID)
	}
	if _, err := w.Write(png); err != nil {
		h.logger.Debug("Failed to write QR code", zap.Error(err))
	}
}

func (h *BrokerageHandler) redirect(r *http.Request) (*backend.LoginRedirect, error) {
	brokerage := strings.TrimSpace(chi.URLParam(r, "brokerage"))
	if brokerage == "" {
		return nil, apperrors.ValidationField("brokerage", "brokerage is required")
	}
	return h.connector.LoginRedirect(r.Context(), brokerage)
}
