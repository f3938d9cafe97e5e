// Package secretbox encrypts integration credentials at rest.
//
// Ciphertext is base64(nonce || sealed) using XChaCha20-Poly1305 with a
// 32-byte key. The integration id is bound as additional data so a
// ciphertext copied onto another row fails to open.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"integration-hub/internal/domain/entity"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKey is returned when the key is not 32 bytes.
	ErrInvalidKey = errors.New("secretbox: key must be 32 bytes")
	// ErrMalformed is returned when the ciphertext cannot be decoded.
	ErrMalformed = errors.New("secretbox: malformed ciphertext")
	// ErrDecrypt is returned when authentication fails.
	ErrDecrypt = errors.New("secretbox: decryption failed")
)

// Cipher seals and opens credential bundles.
type Cipher struct {
	key []byte
}

// New returns a Cipher for a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Cipher{key: k}, nil
}

// NewFromHex returns a Cipher for a hex-encoded key, as stored in CREDENTIALS_KEY.
func NewFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", ErrInvalidKey)
	}
	return New(key)
}

// Encrypt serializes creds and seals them for integrationID.
func (c *Cipher) Encrypt(integrationID string, creds entity.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, []byte(integrationID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext sealed for integrationID.
func (c *Cipher) Decrypt(integrationID, ciphertext string) (entity.Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return entity.Credentials{}, ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return entity.Credentials{}, fmt.Errorf("init aead: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return entity.Credentials{}, ErrMalformed
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(integrationID))
	if err != nil {
		return entity.Credentials{}, ErrDecrypt
	}

	var creds entity.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return entity.Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}
