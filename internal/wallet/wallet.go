// Package wallet manages custodial signing keys for marketplace users. Key
// material is held only in encrypted form; revealing a signing key requires
// the user's platform password, which both authenticates the caller and
// unlocks the ciphertext.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/bcrypt"

	"github.com/gigmarket/escrow-engine/internal/keys"
	"github.com/gigmarket/escrow-engine/internal/vault"
)

// Wallet types record provenance. Phrase-imported wallets keep a recovery
// phrase alongside the key; key-imported wallets have none to keep.
const (
	TypeGenerated      = "generated"
	TypeImportedKey    = "imported_key"
	TypeImportedPhrase = "imported_phrase"

	StatusActive = "active"
)

var (
	ErrInvalidConfig = errors.New("wallet: invalid config")
	ErrInvalidInput  = errors.New("wallet: invalid input")
	ErrNotFound      = errors.New("wallet: not found")

	// ErrAuthentication covers every credential failure uniformly: wrong
	// password, unknown user, and missing wallet all look the same to the
	// caller so the API cannot be used as an existence oracle.
	ErrAuthentication = errors.New("wallet: authentication failed")

	// ErrConfirmationRequired is returned when an operation would replace
	// an existing wallet and the caller has not confirmed the replacement.
	ErrConfirmationRequired = errors.New("wallet: confirmation required")

	// ErrNoRecoveryPhrase is returned when a recovery phrase is requested
	// for a wallet imported from a raw key.
	ErrNoRecoveryPhrase = errors.New("wallet: no recovery phrase")
)

// ConfirmationRequiredError reports the address of the wallet that would be
// destroyed by a create or import without the replace flag.
type ConfirmationRequiredError struct {
	Address common.Address
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("wallet: confirmation required: user already has wallet %s", e.Address)
}

func (e *ConfirmationRequiredError) Is(target error) bool {
	return target == ErrConfirmationRequired
}

// Record is the persisted wallet row. Key material is vault ciphertext.
type Record struct {
	UserID                  string
	Type                    string
	Address                 common.Address
	EncryptedSigningKey     string
	EncryptedRecoveryPhrase string
	Status                  string
	CreatedAt               time.Time
}

// Store persists wallet records keyed by user id.
type Store interface {
	Get(ctx context.Context, userID string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, userID string) error
}

// Credentials resolves a user's platform password hash. The hash is a
// bcrypt digest maintained by the account system.
type Credentials interface {
	PasswordHash(ctx context.Context, userID string) (string, error)
}

// View is the wallet as exposed to callers. It never carries key material;
// HasRecoveryPhrase reports only whether a phrase ciphertext exists.
type View struct {
	UserID            string
	Type              string
	Address           common.Address
	Status            string
	HasRecoveryPhrase bool
	CreatedAt         time.Time
}

// CreateResult is returned by operations that mint a new wallet. Phrase is
// set only for generated wallets and is the one time the phrase leaves the
// directory in the clear.
type CreateResult struct {
	View
	Phrase string
}

type Config struct {
	Store       Store
	Credentials Credentials
	Vault       *vault.Vault

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Directory implements the custodial wallet operations over a Store.
type Directory struct {
	store Store
	creds Credentials
	vault *vault.Vault
	now   func() time.Time
}

func NewDirectory(cfg Config) (*Directory, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: credentials are required", ErrInvalidConfig)
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("%w: vault is required", ErrInvalidConfig)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Directory{store: cfg.Store, creds: cfg.Credentials, vault: cfg.Vault, now: now}, nil
}

// authenticate verifies the user's platform password. Every failure path
// collapses into ErrAuthentication. The returned password is the normalized
// form that also keys the vault, so encrypt and decrypt agree on the bytes.
func (d *Directory) authenticate(ctx context.Context, userID, password string) (string, error) {
	password = strings.TrimSpace(password)
	hash, err := d.creds.PasswordHash(ctx, userID)
	if err != nil {
		return "", ErrAuthentication
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrAuthentication
	}
	return password, nil
}

// guardReplace rejects creation over an existing wallet unless the caller
// set the replace flag.
func (d *Directory) guardReplace(ctx context.Context, userID string, replace bool) error {
	existing, err := d.store.Get(ctx, userID)
	switch {
	case err == nil:
		if !replace {
			return &ConfirmationRequiredError{Address: existing.Address}
		}
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("wallet: lookup %q: %w", userID, err)
	}
}

func (d *Directory) sealAndStore(ctx context.Context, userID, password, walletType, phrase string, key *ecdsa.PrivateKey) (Record, error) {
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))
	encKey, err := d.vault.Encrypt(keyHex, userID, password)
	if err != nil {
		return Record{}, fmt.Errorf("wallet: seal signing key: %w", err)
	}
	rec := Record{
		UserID:              userID,
		Type:                walletType,
		Address:             crypto.PubkeyToAddress(key.PublicKey),
		EncryptedSigningKey: encKey,
		Status:              StatusActive,
		CreatedAt:           d.now().UTC(),
	}
	if phrase != "" {
		encPhrase, err := d.vault.Encrypt(phrase, userID, password)
		if err != nil {
			return Record{}, fmt.Errorf("wallet: seal recovery phrase: %w", err)
		}
		rec.EncryptedRecoveryPhrase = encPhrase
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("wallet: store %q: %w", userID, err)
	}
	return rec, nil
}

// Create mints a fresh wallet for the user from a new recovery phrase. The
// phrase is returned exactly once; only its ciphertext is retained.
func (d *Directory) Create(ctx context.Context, userID, password string, replace bool) (CreateResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CreateResult{}, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	password, err := d.authenticate(ctx, userID, password)
	if err != nil {
		return CreateResult{}, err
	}
	if err := d.guardReplace(ctx, userID, replace); err != nil {
		return CreateResult{}, err
	}

	phrase, err := keys.GeneratePhrase(keys.Strength12Words)
	if err != nil {
		return CreateResult{}, fmt.Errorf("wallet: generate phrase: %w", err)
	}
	_, key, err := keys.DeriveAccount(phrase, 0, "")
	if err != nil {
		return CreateResult{}, fmt.Errorf("wallet: derive account: %w", err)
	}
	rec, err := d.sealAndStore(ctx, userID, password, TypeGenerated, phrase, key)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{View: rec.view(), Phrase: phrase}, nil
}

// ImportFromPhrase recreates a wallet from a BIP-39 recovery phrase.
func (d *Directory) ImportFromPhrase(ctx context.Context, userID, password, phrase string, replace bool) (View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return View{}, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	password, err := d.authenticate(ctx, userID, password)
	if err != nil {
		return View{}, err
	}
	if !keys.ValidatePhrase(phrase) {
		return View{}, fmt.Errorf("%w: malformed recovery phrase", ErrInvalidInput)
	}
	if err := d.guardReplace(ctx, userID, replace); err != nil {
		return View{}, err
	}
	_, key, err := keys.DeriveAccount(phrase, 0, "")
	if err != nil {
		return View{}, fmt.Errorf("wallet: derive account: %w", err)
	}
	rec, err := d.sealAndStore(ctx, userID, password, TypeImportedPhrase, phrase, key)
	if err != nil {
		return View{}, err
	}
	return rec.view(), nil
}

// ImportFromKey adopts a raw hex signing key. No recovery phrase is stored.
func (d *Directory) ImportFromKey(ctx context.Context, userID, password, rawKey string, replace bool) (View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return View{}, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	password, err := d.authenticate(ctx, userID, password)
	if err != nil {
		return View{}, err
	}
	_, key, ok := keys.ImportSigningKey(rawKey)
	if !ok {
		return View{}, fmt.Errorf("%w: malformed signing key", ErrInvalidInput)
	}
	if err := d.guardReplace(ctx, userID, replace); err != nil {
		return View{}, err
	}
	rec, err := d.sealAndStore(ctx, userID, password, TypeImportedKey, "", key)
	if err != nil {
		return View{}, err
	}
	return rec.view(), nil
}

// RevealSigningKey authenticates the user and decrypts their signing key.
func (d *Directory) RevealSigningKey(ctx context.Context, userID, password string) (*ecdsa.PrivateKey, error) {
	password, err := d.authenticate(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		return nil, ErrAuthentication
	}
	keyHex, err := d.vault.Decrypt(rec.EncryptedSigningKey, userID, password)
	if err != nil {
		return nil, ErrAuthentication
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: stored key for %q is corrupt: %w", userID, err)
	}
	return key, nil
}

// RevealRecoveryPhrase authenticates the user and decrypts their phrase.
func (d *Directory) RevealRecoveryPhrase(ctx context.Context, userID, password string) (string, error) {
	password, err := d.authenticate(ctx, userID, password)
	if err != nil {
		return "", err
	}
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		return "", ErrAuthentication
	}
	if rec.EncryptedRecoveryPhrase == "" {
		return "", ErrNoRecoveryPhrase
	}
	phrase, err := d.vault.Decrypt(rec.EncryptedRecoveryPhrase, userID, password)
	if err != nil {
		return "", ErrAuthentication
	}
	return phrase, nil
}

// Get returns the wallet view for a user. Unlike the reveal operations this
// is not password-gated and reports ErrNotFound plainly.
func (d *Directory) Get(ctx context.Context, userID string) (View, error) {
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return rec.view(), nil
}

// Address resolves a user's on-chain address.
func (d *Directory) Address(ctx context.Context, userID string) (common.Address, error) {
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Address, nil
}

// Delete removes the user's wallet after password verification.
func (d *Directory) Delete(ctx context.Context, userID, password string) error {
	if _, err := d.authenticate(ctx, userID, password); err != nil {
		return err
	}
	if _, err := d.store.Get(ctx, userID); err != nil {
		return ErrAuthentication
	}
	return d.store.Delete(ctx, userID)
}

func (r Record) view() View {
	return View{
		UserID:            r.UserID,
		Type:              r.Type,
		Address:           r.Address,
		Status:            r.Status,
		HasRecoveryPhrase: r.EncryptedRecoveryPhrase != "",
		CreatedAt:         r.CreatedAt,
	}
}
