package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T, strict bool) *Cipher {
	t.Helper()
	c, err := New("test-master-secret", strict)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t, false)

	for _, plaintext := range []string{
		"p",
		"hunter2",
		"ya29.a0AfB_byC-long-oauth-token",
		strings.Repeat("x", 4096),
		"unicode: héllo wörld ✉",
	} {
		ciphertext, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		if ciphertext == plaintext {
			t.Errorf("ciphertext equals plaintext for %q", plaintext)
		}

		got, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	c := newTestCipher(t, false)

	a, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if a == b {
		t.Error("two encryptions of the same plaintext produced identical payloads")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	c := newTestCipher(t, false)

	ciphertext, err := c.Encrypt("secret value")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}

	// Flip a single bit at every byte position; the tag must catch
	// all of them.
	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("bit flip at byte %d: got %v, want ErrDecryption", i, err)
		}
	}
}

func TestDecryptMalformedPayload(t *testing.T) {
	c := newTestCipher(t, false)

	for _, payload := range []string{
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		"",
	} {
		if _, err := c.Decrypt(payload); !errors.Is(err, ErrDecryption) {
			t.Errorf("Decrypt(%q): got %v, want ErrDecryption", payload, err)
		}
	}
}

func TestDecryptOrLegacyFallback(t *testing.T) {
	c := newTestCipher(t, false)

	// A stored plaintext password from before encryption was
	// introduced must come back unchanged.
	got, err := c.DecryptOrLegacy("legacy-password")
	if err != nil {
		t.Fatalf("DecryptOrLegacy failed: %v", err)
	}
	if got != "legacy-password" {
		t.Errorf("got %q, want legacy value unchanged", got)
	}

	// Valid ciphertext still decrypts.
	ciphertext, err := c.Encrypt("real-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err = c.DecryptOrLegacy(ciphertext)
	if err != nil {
		t.Fatalf("DecryptOrLegacy failed: %v", err)
	}
	if got != "real-secret" {
		t.Errorf("got %q, want %q", got, "real-secret")
	}

	// Empty column means no credential.
	got, err = c.DecryptOrLegacy("")
	if err != nil || got != "" {
		t.Errorf("empty payload: got (%q, %v), want empty", got, err)
	}
}

func TestDecryptOrLegacyStrict(t *testing.T) {
	c := newTestCipher(t, true)

	if _, err := c.DecryptOrLegacy("legacy-password"); !errors.Is(err, ErrDecryption) {
		t.Errorf("strict mode: got %v, want ErrDecryption", err)
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New("", false); err == nil {
		t.Error("New with empty secret should fail")
	}
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	a, err := New("secret-a", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New("secret-b", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ciphertext, err := a.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := b.Decrypt(ciphertext); !errors.Is(err, ErrDecryption) {
		t.Errorf("cross-key decrypt: got %v, want ErrDecryption", err)
	}
}
