package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// CredentialsHandler manages the backend bearer token.
type CredentialsHandler struct {
	tokens TokenStore
	logger *zap.Logger
}

// NewCredentialsHandler creates a new CredentialsHandler.
func NewCredentialsHandler(tokens TokenStore, logger *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{tokens: tokens, logger: logger}
}

type setTokenRequest struct {
	Token string `json:"token"`
}

// TokenStatus reports whether a token is stored and when it expires. The token itself is never returned.
func (h *CredentialsHandler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tokens.Status(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

// SetToken stores a new token and returns its status.
func (h *CredentialsHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req setTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.tokens.SetToken(r.Context(), req.Token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("Backend token updated")

	h.TokenStatus(w, r)
}

// ClearToken removes the stored token.
func (h *CredentialsHandler) ClearToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Clear(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("Backend token cleared")
	w.WriteHeader(http.StatusNoContent)
}
