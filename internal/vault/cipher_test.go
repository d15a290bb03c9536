package vault

import (
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewCipher_KeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err == nil {
		t.Error("expected error for 16-byte key")
	}
	if _, err := NewCipher(testKey()); err != nil {
		t.Errorf("32-byte key: %v", err)
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	sealed, err := c.Encrypt("access-token-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:v1:") {
		t.Errorf("sealed value missing prefix: %q", sealed)
	}
	if strings.Contains(sealed, "access-token-secret") {
		t.Error("sealed value contains plaintext")
	}

	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "access-token-secret" {
		t.Errorf("round trip: got %q", plain)
	}
}

func TestCipher_EmptyPassthrough(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := c.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed != "" {
		t.Errorf("empty plaintext should stay empty, got %q", sealed)
	}
}

func TestCipher_PlaintextPassthrough(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	// Rows written before encryption was enabled carry raw tokens.
	plain, err := c.Decrypt("legacy-raw-token")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "legacy-raw-token" {
		t.Errorf("passthrough: got %q", plain)
	}
}

func TestCipher_NonceVaries(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	a, _ := c.Encrypt("same-value")
	b, _ := c.Encrypt("same-value")
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestCipher_TamperDetected(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := c.Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := sealed[:len(sealed)-2] + "AA"
	if _, err := c.Decrypt(tampered); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}
