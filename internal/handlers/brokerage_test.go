package handlers

import (
	"bytes"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_sync/internal/backend"
	apperrors "portfolio_sync/internal/errors"
)

func TestBrokerageHandler_Connect(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/brokerages/robinhood/connect", "")

	assertJSON(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"redirect_uri":"https://connect.example.com/login?session=sess-1","session_id":"sess-1"}`, rec.Body.String())
	assert.Equal(t, "robinhood", env.connector.brokerage)
}

func TestBrokerageHandler_Connect_WithoutSession(t *testing.T) {
	env := setupTestEnv(t)
	env.connector.redirect = &backend.LoginRedirect{RedirectURI: "https://connect.example.com/login"}

	rec := env.do(t, http.MethodPost, "/api/brokerages/schwab/connect", "")

	assertJSON(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"redirect_uri":"https://connect.example.com/login"}`, rec.Body.String())
}

func TestBrokerageHandler_Connect_BackendError(t *testing.T) {
	env := setupTestEnv(t)
	env.connector.err = &backend.APIError{Endpoint: "/brokerages/login-redirect", StatusCode: 400, Body: "unknown brokerage"}

	rec := env.do(t, http.MethodPost, "/api/brokerages/nope/connect", "")

	assertJSON(t, rec, http.StatusBadGateway)
	assert.Equal(t, "backend returned status 400", decode[errorBody](t, rec).Error)
}

func TestBrokerageHandler_ConnectQR(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/brokerages/robinhood/connect/qr?size=200", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "sess-1", rec.Header().Get("X-Session-Id"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestBrokerageHandler_ConnectQR_InvalidSize(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"not a number", "?size=big"},
		{"too small", "?size=16"},
		{"too large", "?size=4096"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestEnv(t)

			rec := env.do(t, http.MethodGet, "/api/brokerages/robinhood/connect/qr"+tc.query, "")

			assertJSON(t, rec, http.StatusBadRequest)
			assert.Equal(t, "size", decode[errorBody](t, rec).Details["field"])
			assert.Empty(t, env.connector.brokerage, "backend should not be called")
		})
	}
}

func TestBrokerageHandler_ConnectQR_Unauthorized(t *testing.T) {
	env := setupTestEnv(t)
	env.connector.err = apperrors.Unauthorized("backend token expired")

	rec := env.do(t, http.MethodGet, "/api/brokerages/robinhood/connect/qr", "")

	assertJSON(t, rec, http.StatusUnauthorized)
	assert.Equal(t, "backend token expired", decode[errorBody](t, rec).Error)
}
