// Package keys generates recovery phrases and derives EVM signing keys.
//
// Derivation is deterministic: the same phrase and account index always yield
// the same address/key pair. That property is what makes recovery possible,
// so it is pinned by tests against fixed vectors.
package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidStrength = errors.New("keys: invalid phrase strength")
	ErrInvalidPhrase   = errors.New("keys: invalid recovery phrase")
)

// Phrase strengths in entropy bits.
const (
	Strength12Words = 128
	Strength24Words = 256
)

// Account derivation follows m/44'/60'/0'/0/{index}, the conventional EVM
// account path. Only the final index is parameterized.
var derivationPrefix = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
}

// GeneratePhrase returns a new recovery phrase from cryptographically secure
// entropy. Strength selects the word count: 128 bits for 12 words, 256 bits
// for 24 words.
func GeneratePhrase(strength int) (string, error) {
	if strength != Strength12Words && strength != Strength24Words {
		return "", fmt.Errorf("%w: %d bits", ErrInvalidStrength, strength)
	}
	entropy, err := bip39.NewEntropy(strength)
	if err != nil {
		return "", fmt.Errorf("keys: generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("keys: encode phrase: %w", err)
	}
	return phrase, nil
}

// ValidatePhrase reports whether phrase is a well-formed recovery phrase with
// a valid checksum.
func ValidatePhrase(phrase string) bool {
	return bip39.IsMnemonicValid(normalizePhrase(phrase))
}

// DeriveAccount derives the address and signing key at the given account
// index. The optional passphrase is the phrase-level secret (BIP39 "25th
// word"), not the wallet passphrase.
func DeriveAccount(phrase string, accountIndex uint32, passphrase string) (common.Address, *ecdsa.PrivateKey, error) {
	phrase = normalizePhrase(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return common.Address{}, nil, ErrInvalidPhrase
	}

	seed := bip39.NewSeed(phrase, passphrase)
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("keys: derive master node: %w", err)
	}
	for _, step := range derivationPrefix {
		node, err = node.Derive(step)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("keys: derive path step %d: %w", step, err)
		}
	}
	node, err = node.Derive(accountIndex)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("keys: derive account %d: %w", accountIndex, err)
	}

	ec, err := node.ECPrivKey()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("keys: extract private key: %w", err)
	}
	key := ec.ToECDSA()
	return crypto.PubkeyToAddress(key.PublicKey), key, nil
}

// ImportSigningKey validates a raw hex signing key (optional 0x prefix,
// 32 bytes) and returns its address and parsed key. Invalid input yields
// ok == false; it never returns an error.
//
// Format validation only: the key is not checked against any funded or
// registered on-chain account.
func ImportSigningKey(rawKey string) (common.Address, *ecdsa.PrivateKey, bool) {
	rawKey = strings.TrimSpace(rawKey)
	rawKey = strings.TrimPrefix(rawKey, "0x")
	if len(rawKey) != 64 {
		return common.Address{}, nil, false
	}
	key, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		return common.Address{}, nil, false
	}
	return crypto.PubkeyToAddress(key.PublicKey), key, true
}

func normalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
