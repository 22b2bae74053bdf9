package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoCredentials = errors.New("wallet/postgres: no credentials")

// Credentials resolves bcrypt password hashes from the account table
// maintained by the platform. It satisfies wallet.Credentials.
type Credentials struct {
	pool *pgxpool.Pool
}

func NewCredentials(pool *pgxpool.Pool) (*Credentials, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Credentials{pool: pool}, nil
}

func (c *Credentials) PasswordHash(ctx context.Context, userID string) (string, error) {
	if c == nil || c.pool == nil {
		return "", fmt.Errorf("%w: nil credentials", ErrInvalidConfig)
	}
	var hash string
	err := c.pool.QueryRow(ctx, `
		SELECT password_hash FROM user_credentials WHERE user_id = $1
	`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNoCredentials, userID)
		}
		return "", fmt.Errorf("wallet/postgres: password hash: %w", err)
	}
	return hash, nil
}
