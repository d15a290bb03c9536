package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// encPrefix marks an encrypted value. Values without the prefix are
// returned as-is by Decrypt, so databases written before encryption was
// enabled keep working.
const encPrefix = "enc:v1:"

// Cipher encrypts access-token values at rest with AES-256-GCM. Dedup
// keys (email, refresh token) are deliberately left plaintext so the
// store's uniqueness lookups keep working; only the bearer credential
// itself is sealed.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: cipher key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext value. Empty values pass through unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Values that do not carry the encryption
// prefix are returned unchanged.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("vault: decoding sealed value: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("vault: sealed value too short")
	}
	nonce, ct := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("vault: opening sealed value: %w", err)
	}
	return string(plain), nil
}
