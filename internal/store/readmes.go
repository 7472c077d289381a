package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReadmeRecord is one generated document. Records are append-only; a
// regeneration produces a new record rather than rewriting an old one.
type ReadmeRecord struct {
	ID          uuid.UUID
	Owner       string
	Filename    string
	Requirement string
	Model       string
	TotalTokens int64
	Partial     bool
	Content     string
	CreatedAt   time.Time
}

// SaveReadme inserts a new record and returns its id.
func (s *Store) SaveReadme(ctx context.Context, rec ReadmeRecord) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO readmes (id, owner_id, filename, requirement, model, total_tokens, partial, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.Owner, rec.Filename, rec.Requirement, rec.Model, rec.TotalTokens, rec.Partial, rec.Content,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert readme: %w", err)
	}
	return id, nil
}

// GetReadme fetches one record by id. ErrNotFound when no such record exists,
// ErrForbidden when it belongs to someone else.
func (s *Store) GetReadme(ctx context.Context, id uuid.UUID, owner string) (*ReadmeRecord, error) {
	var rec ReadmeRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, filename, requirement, model, total_tokens, partial, content, created_at
		FROM readmes
		WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Owner, &rec.Filename, &rec.Requirement, &rec.Model, &rec.TotalTokens, &rec.Partial, &rec.Content, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select readme: %w", err)
	}
	if rec.Owner != owner {
		return nil, ErrForbidden
	}
	return &rec, nil
}

// ListReadmes returns the owner's records newest first, without content.
func (s *Store) ListReadmes(ctx context.Context, owner string) ([]ReadmeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, filename, requirement, model, total_tokens, partial, created_at
		FROM readmes
		WHERE owner_id = $1
		ORDER BY created_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list readmes: %w", err)
	}
	defer rows.Close()

	var recs []ReadmeRecord
	for rows.Next() {
		var rec ReadmeRecord
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Filename, &rec.Requirement, &rec.Model, &rec.TotalTokens, &rec.Partial, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan readme: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteReadme removes one record, with the same ownership semantics as
// GetReadme.
func (s *Store) DeleteReadme(ctx context.Context, id uuid.UUID, owner string) error {
	var recOwner string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM readmes WHERE id = $1`, id).Scan(&recOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select readme owner: %w", err)
	}
	if recOwner != owner {
		return ErrForbidden
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM readmes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete readme: %w", err)
	}
	return nil
}
