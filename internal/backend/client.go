package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/metrics"
)

// Endpoint paths, relative to the configured base URL.
const (
	EndpointSnapshot      = "/portfolio-snapshot"
	EndpointPrices        = "/prices"
	EndpointLoginRedirect = "/brokerages/login-redirect"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds the client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RPS paces outbound requests. Zero or less disables pacing.
	RPS     float64
	Burst   int
	Breaker BreakerConfig
}

// Client provides methods for accessing the hosted backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a new backend client.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.ValidationField("backend_url", fmt.Sprintf("invalid backend URL %q", cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == (BreakerConfig{}) {
		breakerCfg = DefaultBreakerConfig()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    newBreaker("backend", breakerCfg, logger),
		logger:     logger,
	}, nil
}

// FetchSnapshot retrieves the full account and holding listing.
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	var snapshot Snapshot
	if err := c.do(ctx, http.MethodGet, EndpointSnapshot, "", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// FetchQuotes retrieves quotes for symbols in one batched request.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) (*PriceResponse, error) {
	if len(symbols) == 0 {
		return nil, apperrors.Validation("at least one symbol is required")
	}

	escaped := make([]string, len(symbols))
	for i, s := range symbols {
		escaped[i] = url.QueryEscape(s)
	}

	var prices PriceResponse
	if err := c.do(ctx, http.MethodGet, EndpointPrices, "symbols="+strings.Join(escaped, ","), nil, &prices); err != nil {
		return nil, err
	}
	return &prices, nil
}

// LoginRedirect asks the backend for the URL that starts linking a brokerage.
func (c *Client) LoginRedirect(ctx context.Context, brokerage string) (*LoginRedirect, error) {
	if strings.TrimSpace(brokerage) == "" {
		return nil, apperrors.ValidationField("brokerage", "brokerage is required")
	}

	var redirect LoginRedirect
	body := loginRedirectRequest{Brokerage: brokerage}
	if err := c.do(ctx, http.MethodPost, EndpointLoginRedirect, "", body, &redirect); err != nil {
		return nil, err
	}
	if redirect.RedirectURI == "" {
		return nil, apperrors.Upstream("backend returned no redirect URI", nil)
	}
	return &redirect, nil
}

// do performs one authenticated request through the rate limiter and circuit breaker.
func (c *Client) do(ctx context.Context, method, endpoint, rawQuery string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, endpoint, rawQuery, token, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Upstream("backend temporarily unavailable", ErrCircuitOpen)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, rawQuery, token string, in, out any) error {
	target := c.baseURL + endpoint
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return apperrors.Upstream("backend request failed", err)
	}
	defer resp.Body.Close()

	metrics.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Upstream(fmt.Sprintf("reading %s response", endpoint), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: errorBody(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return apperrors.Upstream(fmt.Sprintf("decoding %s response", endpoint), ErrEmptyResponse)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Upstream(fmt.Sprintf("decoding %s response", endpoint), err)
	}
	return nil
}
