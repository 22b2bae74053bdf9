package vault

import (
	"errors"
	"strings"
	"testing"
)

func TestNew_RejectsEmptyMasterSecret(t *testing.T) {
	for _, secret := range []string{"", "   ", "\t\n"} {
		if _, err := New(secret); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("New(%q): got %v want ErrInvalidConfig", secret, err)
		}
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New("master-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []string{
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"legal winner thank year wave sausage worth useful legal winner thank yellow",
		"",
		strings.Repeat("x", 4096),
	}
	for _, plaintext := range cases {
		ct, err := v.Encrypt(plaintext, "u1", "p1")
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := v.Decrypt(ct, "u1", "p1")
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip: got %q want %q", got, plaintext)
		}
	}
}

func TestDecrypt_WrongPassphraseFailsHard(t *testing.T) {
	v, _ := New("master-secret")

	ct, err := v.Encrypt("secret-key-material", "u1", "p1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := v.Decrypt(ct, "u1", "p2"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong passphrase: got %v want ErrDecrypt", err)
	}
	if _, err := v.Decrypt(ct, "u2", "p1"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong subject: got %v want ErrDecrypt", err)
	}

	got, err := v.Decrypt(ct, "u1", "p1")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "secret-key-material" {
		t.Fatalf("Decrypt: got %q", got)
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	v, _ := New("master-secret")

	ct, err := v.Encrypt("payload", "u1", "p1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for _, corrupted := range []string{
		"not base64 at all %%%",
		"",
		"AAAA",
		ct[:len(ct)-2] + "zz",
	} {
		if _, err := v.Decrypt(corrupted, "u1", "p1"); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("Decrypt(%q): got %v want ErrDecrypt", corrupted, err)
		}
	}
}

func TestEncrypt_DeterministicKeyDistinctCiphertext(t *testing.T) {
	// The derived key is deterministic, but the nonce is random: two
	// encryptions of the same plaintext must not be byte-identical while
	// both remain decryptable.
	v, _ := New("master-secret")

	a, err := v.Encrypt("same", "u1", "p1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := v.Encrypt("same", "u1", "p1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatalf("ciphertexts must differ (random nonce)")
	}
	for _, ct := range []string{a, b} {
		got, err := v.Decrypt(ct, "u1", "p1")
		if err != nil || got != "same" {
			t.Fatalf("Decrypt: got %q, %v", got, err)
		}
	}
}

func TestMasterSecretIsolation(t *testing.T) {
	v1, _ := New("master-one")
	v2, _ := New("master-two")

	ct, err := v1.Encrypt("payload", "u1", "p1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := v2.Decrypt(ct, "u1", "p1"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("foreign master secret: got %v want ErrDecrypt", err)
	}
}
