// Package crypto seals archived billing exports at rest and hashes account
// API keys for lookup.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must not be empty")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const (
	formatV1   byte = 1
	archiveKDF      = "llm-cost-audit/archive/v1"
)

// Encryptor seals blobs with AES-256-GCM under a key derived from the
// configured secret. Sealed output is version || nonce || ciphertext, and the
// caller's context (the object key) is bound as associated data, so a blob
// copied to another key no longer opens.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the AES-256 key from secret. An empty secret is
// rejected with ErrInvalidKey.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Encryptor{aead: gcm}, nil
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(archiveKDF)), key); err != nil {
		return nil, fmt.Errorf("derive archive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext and binds context as additional data; the same
// context must be passed to Open.
func (e *Encryptor) Seal(plaintext, context []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+e.aead.Overhead())
	out[0] = formatV1
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, err
	}

	return e.aead.Seal(out, out[1:], plaintext, context), nil
}

// Open decrypts a sealed blob. A wrong key, context or a tampered blob
// returns ErrInvalidCiphertext.
func (e *Encryptor) Open(sealed, context []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(sealed) < 1+nonceSize+e.aead.Overhead() || sealed[0] != formatV1 {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := sealed[1:1+nonceSize], sealed[1+nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, context)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// HashAPIKey is the lookup form of an account API key; raw keys are never
// stored.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
