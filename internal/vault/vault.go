// Package vault manages the at-rest encryption key for stored credential
// material. The key lives in the OS keychain with an environment-variable
// fallback, so a headless deployment can inject it without a keychain.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "credbroker"
	keyAccount  = "encryption-key"

	// EnvKey is the fallback environment variable checked when the OS
	// keychain has no key stored.
	EnvKey = "CREDBROKER_ENCRYPTION_KEY"
)

// Vault provides storage for the credential-encryption key using the OS
// keychain, with fallback to the CREDBROKER_ENCRYPTION_KEY environment
// variable.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// GenerateKey creates a fresh random 256-bit key, stores it in the OS
// keychain, and returns its base64 encoding. An existing key is
// overwritten; data encrypted under the old key becomes unreadable, so
// rotation is an explicit operator action.
func (v *Vault) GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("vault: generating key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := keyring.Set(serviceName, keyAccount, encoded); err != nil {
		return "", fmt.Errorf("vault: storing key: %w", err)
	}
	return encoded, nil
}

// Key retrieves the encryption key. It first checks the OS keychain,
// then falls back to the environment variable.
func (v *Vault) Key() ([]byte, error) {
	encoded, err := keyring.Get(serviceName, keyAccount)
	if err != nil || encoded == "" {
		encoded = os.Getenv(EnvKey)
	}
	if encoded == "" {
		return nil, fmt.Errorf("vault: no encryption key: not in keychain and %s not set", EnvKey)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// DeleteKey removes the key from the OS keychain.
func (v *Vault) DeleteKey() error {
	return keyring.Delete(serviceName, keyAccount)
}

// OpenCipher loads the stored key and builds a Cipher from it.
func (v *Vault) OpenCipher() (*Cipher, error) {
	key, err := v.Key()
	if err != nil {
		return nil, err
	}
	return NewCipher(key)
}
