// Package vault provides deterministic passphrase-derived encryption for
// custodial key material.
//
// The encryption key is never stored. It is re-derived on every call as a
// one-way hash of master secret, subject id and passphrase, so the same three
// inputs always open ciphertext produced under them and a wrong passphrase is
// a hard failure, never garbage plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidConfig = errors.New("vault: invalid config")
	ErrInvalidInput  = errors.New("vault: invalid input")

	// ErrDecrypt is returned for a wrong passphrase, a wrong subject id and
	// corrupted ciphertext alike. Callers must not distinguish the cases.
	ErrDecrypt = errors.New("vault: decryption failed")
)

const nonceSize = 12

// Vault encrypts and decrypts secret strings under a per-deployment master
// secret. It is stateless and safe for concurrent use.
type Vault struct {
	master []byte
}

func New(masterSecret string) (*Vault, error) {
	masterSecret = strings.TrimSpace(masterSecret)
	if masterSecret == "" {
		return nil, fmt.Errorf("%w: empty master secret", ErrInvalidConfig)
	}
	return &Vault{master: []byte(masterSecret)}, nil
}

// key derives the AES-256 key for one (subject, passphrase) pair.
//
// Passphrases must arrive already normalized; the caller owns trimming so
// that encrypt and decrypt agree on the exact bytes.
func (v *Vault) key(subjectID, passphrase string) [32]byte {
	var buf []byte
	buf = append(buf, v.master...)
	buf = append(buf, '|')
	buf = append(buf, subjectID...)
	buf = append(buf, '|')
	buf = append(buf, passphrase...)
	return sha3.Sum256(buf)
}

// Encrypt seals plaintext under the derived key. Output is base64 (raw URL
// alphabet) of nonce || AES-256-GCM ciphertext.
func (v *Vault) Encrypt(plaintext, subjectID, passphrase string) (string, error) {
	if subjectID == "" || passphrase == "" {
		return "", fmt.Errorf("%w: subject id and passphrase are required", ErrInvalidInput)
	}

	key := v.key(subjectID, passphrase)
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens ciphertext produced by Encrypt. Any authentication failure
// is reported as ErrDecrypt.
func (v *Vault) Decrypt(ciphertext, subjectID, passphrase string) (string, error) {
	if subjectID == "" || passphrase == "" {
		return "", fmt.Errorf("%w: subject id and passphrase are required", ErrInvalidInput)
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) <= nonceSize {
		return "", ErrDecrypt
	}

	key := v.key(subjectID, passphrase)
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func newAEAD(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return aead, nil
}
