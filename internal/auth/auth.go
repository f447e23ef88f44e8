// Package auth guards the mutating HTTP routes with a shared API key.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// HeaderName is the request header carrying the API key.
	HeaderName = "X-API-Key"

	// BcryptCost is the bcrypt hashing cost.
	BcryptCost = 12
)

// ErrInvalidKeyHash is returned when the configured hash is not a bcrypt hash.
var ErrInvalidKeyHash = errors.New("api key hash is not a bcrypt hash")

// HashKey hashes an API key using bcrypt.
func HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(bytes), nil
}

// CheckKey compares a key with a hash.
func CheckKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// Guard rejects requests that do not present the configured key.
type Guard struct {
	hash string
}

// NewGuard creates a Guard for a bcrypt hash. An empty hash returns a nil Guard,
// whose Require lets every request through.
func NewGuard(hash string) (*Guard, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	return &Guard{hash: hash}, nil
}

// Require is middleware that answers 401 unless the request carries the key,
// either in the X-API-Key header or as a bearer token.
func (g *Guard) Require(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CheckKey(requestKey(r), g.hash) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="portfolio-sync"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid or missing api key"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderName)); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
