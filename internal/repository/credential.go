package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"portfolio_sync/internal/database"
	"portfolio_sync/internal/models"
)

// CredentialRepository stores encrypted secrets by name.
type CredentialRepository struct {
	db database.Queryer
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db database.Queryer) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save inserts or replaces the secret stored under name.
func (r *CredentialRepository) Save(ctx context.Context, name string, ciphertext, nonce []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (name, ciphertext, nonce, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at
	`, name, ciphertext, nonce, time.Now().UTC())
	return err
}

// Get returns the secret stored under name, or nil if there is none.
func (r *CredentialRepository) Get(ctx context.Context, name string) (*models.Credential, error) {
	cred := &models.Credential{}
	err := sqlx.GetContext(ctx, r.db, cred, `
		SELECT name, ciphertext, nonce, updated_at FROM credentials WHERE name = ?
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Delete removes the secret stored under name.
func (r *CredentialRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name)
	return err
}
