// Package credentials keeps the backend bearer token encrypted at rest.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
	// MinSecretLength is the shortest accepted master secret.
	MinSecretLength = 32
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be at least 32 characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals secrets with AES-256-GCM. Each secret name gets its own PBKDF2-derived key.
type Encryptor struct {
	masterKey []byte
}

// NewEncryptor creates a new Encryptor with the given master secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256([]byte(secret))
	return &Encryptor{masterKey: hash[:]}, nil
}

// DeriveKey derives the key used for the secret stored under name.
func (e *Encryptor) DeriveKey(name string) []byte {
	salt := "credential:" + name
	return pbkdf2.Key(e.masterKey, []byte(salt), PBKDF2Iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext and returns the ciphertext and the nonce used.
func (e *Encryptor) Encrypt(plaintext, name string) (ciphertext, nonce []byte, err error) {
	gcm, err := e.gcm(name)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	// The name is bound as additional data so a row copied under another name fails to open.
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), []byte(name))
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext produced by Encrypt for the same name.
func (e *Encryptor) Decrypt(ciphertext, nonce []byte, name string) (string, error) {
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return "", ErrInvalidCiphertext
	}

	gcm, err := e.gcm(name)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (e *Encryptor) gcm(name string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.DeriveKey(name))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
