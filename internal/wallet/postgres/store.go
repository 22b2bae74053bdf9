// Package postgres persists wallet records in PostgreSQL. Only vault
// ciphertext touches the database; plaintext key material never does.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/escrow-engine/internal/wallet"
)

var ErrInvalidConfig = errors.New("wallet/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("wallet/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (wallet.Record, error) {
	if s == nil || s.pool == nil {
		return wallet.Record{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if userID == "" {
		return wallet.Record{}, fmt.Errorf("%w: empty user id", wallet.ErrInvalidInput)
	}

	var (
		rec       wallet.Record
		addr      []byte
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, wallet_type, address, encrypted_signing_key,
			encrypted_recovery_phrase, status, created_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&rec.UserID, &rec.Type, &addr, &rec.EncryptedSigningKey,
		&rec.EncryptedRecoveryPhrase, &rec.Status, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Record{}, fmt.Errorf("%w: %s", wallet.ErrNotFound, userID)
		}
		return wallet.Record{}, fmt.Errorf("wallet/postgres: get: %w", err)
	}
	rec.Address = common.BytesToAddress(addr)
	rec.CreatedAt = createdAt
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec wallet.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if rec.UserID == "" {
		return fmt.Errorf("%w: empty user id", wallet.ErrInvalidInput)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (user_id, wallet_type, address, encrypted_signing_key,
			encrypted_recovery_phrase, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE
		SET wallet_type = EXCLUDED.wallet_type,
			address = EXCLUDED.address,
			encrypted_signing_key = EXCLUDED.encrypted_signing_key,
			encrypted_recovery_phrase = EXCLUDED.encrypted_recovery_phrase,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			updated_at = now()
	`, rec.UserID, rec.Type, rec.Address.Bytes(), rec.EncryptedSigningKey,
		rec.EncryptedRecoveryPhrase, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("wallet/postgres: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", wallet.ErrInvalidInput)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("wallet/postgres: delete: %w", err)
	}
	return nil
}
