package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "portfolio_sync/internal/errors"
	"portfolio_sync/internal/models"
)

// TokenName is the key the backend bearer token is stored under.
const TokenName = "backend_token"

// Repository persists encrypted secrets.
type Repository interface {
	Save(ctx context.Context, name string, ciphertext, nonce []byte) error
	Get(ctx context.Context, name string) (*models.Credential, error)
	Delete(ctx context.Context, name string) error
}

// Status describes the stored token without revealing it.
type Status struct {
	Configured bool       `json:"configured"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Expired    bool       `json:"expired"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Store keeps the backend token encrypted in the database.
type Store struct {
	repo      Repository
	encryptor *Encryptor
	now       func() time.Time
}

// NewStore creates a new Store.
func NewStore(repo Repository, encryptor *Encryptor) *Store {
	return &Store{repo: repo, encryptor: encryptor, now: time.Now}
}

// SetToken encrypts and stores a new bearer token, replacing any previous one.
func (s *Store) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.ValidationField("token", "token is required")
	}

	ciphertext, nonce, err := s.encryptor.Encrypt(token, TokenName)
	if err != nil {
		return apperrors.Internal("failed to encrypt token", err)
	}
	if err := s.repo.Save(ctx, TokenName, ciphertext, nonce); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// Token returns the stored token. A missing token, or a JWT whose exp has passed,
// is reported as unauthorized without contacting the backend.
func (s *Store) Token(ctx context.Context) (string, error) {
	token, _, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", apperrors.Unauthorized("no backend token configured")
	}

	if exp, ok := Expiry(token); ok && !s.now().Before(exp) {
		return "", apperrors.Unauthorized("backend token expired")
	}
	return token, nil
}

// Status reports whether a token is stored and when it expires.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	token, cred, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return &Status{}, nil
	}

	updated := cred.UpdatedAt
	status := &Status{Configured: true, UpdatedAt: &updated}
	if exp, ok := Expiry(token); ok {
		status.ExpiresAt = &exp
		status.Expired = !s.now().Before(exp)
	}
	return status, nil
}

// Clear removes the stored token.
func (s *Store) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, TokenName)
}

func (s *Store) load(ctx context.Context) (string, *models.Credential, error) {
	cred, err := s.repo.Get(ctx, TokenName)
	if err != nil {
		return "", nil, fmt.Errorf("loading token: %w", err)
	}
	if cred == nil {
		return "", nil, nil
	}

	token, err := s.encryptor.Decrypt(cred.Ciphertext, cred.Nonce, TokenName)
	if err != nil {
		return "", nil, apperrors.Internal("failed to decrypt token", err)
	}
	return token, cred, nil
}

// Expiry reads the exp claim of a JWT without verifying its signature.
// It reports false for opaque tokens and JWTs without exp.
func Expiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
