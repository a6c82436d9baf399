// Package crypto encrypts account credentials at rest with
// AES-256-GCM. Payload layout is nonce || ciphertext+tag, base64
// encoded, so a single text column can hold the whole value.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryption is wrapped by every decryption failure: malformed
// payload, truncated nonce, or GCM tag verification failure.
var ErrDecryption = errors.New("credential decryption failed")

const nonceSize = 12

// Cipher performs authenticated encryption of credential strings.
type Cipher struct {
	aead cipher.AEAD

	// strict disables the legacy plaintext fallback in
	// DecryptOrLegacy.
	strict bool
}

// New derives a 256-bit key from the provisioned secret and returns a
// ready Cipher. The secret must be non-empty.
func New(secret string, strict bool) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("credential secret is empty")
	}

	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{aead: aead, strict: strict}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce and
// returns the base64-encoded payload.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. Any malformed or
// tampered input yields an error wrapping ErrDecryption, never a
// wrong plaintext.
func (c *Cipher) Decrypt(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding: %v", ErrDecryption, err)
	}

	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrDecryption)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}

// DecryptOrLegacy decrypts a stored credential. Values written before
// encryption was introduced are stored as plaintext; when decryption
// fails and strict mode is off, the input is returned unchanged and
// treated as such a legacy value.
func (c *Cipher) DecryptOrLegacy(payload string) (string, error) {
	if payload == "" {
		return "", nil
	}

	plaintext, err := c.Decrypt(payload)
	if err != nil {
		if c.strict {
			return "", err
		}
		return payload, nil
	}
	return plaintext, nil
}
