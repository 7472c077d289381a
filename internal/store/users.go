package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SaveAPIKey stores or replaces the owner's model API key.
func (s *Store) SaveAPIKey(ctx context.Context, owner, apiKey string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_keys (owner_id, api_key)
		VALUES ($1, $2)
		ON CONFLICT (owner_id)
		DO UPDATE SET api_key = EXCLUDED.api_key, updated_at = now()`,
		owner, apiKey,
	)
	if err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

// GetAPIKey returns the owner's stored key, or "" when none is set.
func (s *Store) GetAPIKey(ctx context.Context, owner string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx, `SELECT api_key FROM user_keys WHERE owner_id = $1`, owner).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// DeleteAPIKey removes the owner's stored key. Deleting a key that was never
// set is not an error.
func (s *Store) DeleteAPIKey(ctx context.Context, owner string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM user_keys WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// AccountDeletion reports how many rows each table dropped.
type AccountDeletion struct {
	Readmes int64 `json:"readmes"`
	Usage   int64 `json:"usage_entries"`
	Keys    int64 `json:"api_keys"`
	Ledger  int64 `json:"ledger_days"`
}

// DeleteAccount removes everything the owner has stored, in one transaction.
func (s *Store) DeleteAccount(ctx context.Context, owner string) (AccountDeletion, error) {
	var del AccountDeletion

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return del, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM readmes WHERE owner_id = $1`, owner)
	if err != nil {
		return del, fmt.Errorf("delete readmes: %w", err)
	}
	del.Readmes = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM usage_log WHERE owner_id = $1`, owner)
	if err != nil {
		return del, fmt.Errorf("delete usage log: %w", err)
	}
	del.Usage = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM usage_ledger WHERE owner_id = $1`, owner)
	if err != nil {
		return del, fmt.Errorf("delete ledger: %w", err)
	}
	del.Ledger = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM user_keys WHERE owner_id = $1`, owner)
	if err != nil {
		return del, fmt.Errorf("delete api keys: %w", err)
	}
	del.Keys = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return del, fmt.Errorf("commit: %w", err)
	}
	return del, nil
}
