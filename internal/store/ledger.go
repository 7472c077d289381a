package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Reserve atomically charges projected tokens against the owner's daily row,
// refusing when the charge would push the day past ceiling. The guard and the
// increment are one statement, so concurrent runs cannot both slip under the
// limit.
func (s *Store) Reserve(ctx context.Context, owner, day string, projected, ceiling int64) (bool, error) {
	if projected > ceiling {
		return false, nil
	}
	var tokens int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO usage_ledger (owner_id, day, tokens)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, day)
		DO UPDATE SET tokens = usage_ledger.tokens + EXCLUDED.tokens, updated_at = now()
		WHERE usage_ledger.tokens + EXCLUDED.tokens <= $4
		RETURNING tokens`,
		owner, day, projected, ceiling,
	).Scan(&tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflict update's WHERE rejected the charge.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve tokens: %w", err)
	}
	return true, nil
}

// Adjust moves the owner's daily total by delta, clamping at zero. Used to
// settle a reservation to the model-reported count or to return it in full.
func (s *Store) Adjust(ctx context.Context, owner, day string, delta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_ledger (owner_id, day, tokens)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (owner_id, day)
		DO UPDATE SET tokens = GREATEST(usage_ledger.tokens + $3, 0), updated_at = now()`,
		owner, day, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust tokens: %w", err)
	}
	return nil
}

// UsageEntry is one completed generation in the usage log.
type UsageEntry struct {
	ReadmeID  uuid.NullUUID
	Filename  string
	Model     string
	Tokens    int64
	Partial   bool
	CreatedAt time.Time
}

// AppendUsage records one completed generation. ReadmeID is unset when the
// run produced nothing persistable.
func (s *Store) AppendUsage(ctx context.Context, owner string, e UsageEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_log (id, owner_id, readme_id, filename, model, tokens, partial)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), owner, e.ReadmeID, e.Filename, e.Model, e.Tokens, e.Partial,
	)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// UsageStats summarizes an owner's consumption: lifetime and current-day
// totals plus the recent log, newest first.
type UsageStats struct {
	TotalTokens      int64
	TotalGenerations int
	DailyTokens      int64
	DailyGenerations int
	Entries          []UsageEntry
}

const usageLogLimit = 100

// GetUsage computes the owner's stats. The daily split uses UTC days to match
// the ledger.
func (s *Store) GetUsage(ctx context.Context, owner string) (*UsageStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT readme_id, filename, model, tokens, partial, created_at
		FROM usage_log
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		owner, usageLogLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage log: %w", err)
	}
	defer rows.Close()

	stats := &UsageStats{}
	today := time.Now().UTC().Format("2006-01-02")
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.ReadmeID, &e.Filename, &e.Model, &e.Tokens, &e.Partial, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		stats.Entries = append(stats.Entries, e)
		stats.TotalTokens += e.Tokens
		stats.TotalGenerations++
		if e.CreatedAt.UTC().Format("2006-01-02") == today {
			stats.DailyTokens += e.Tokens
			stats.DailyGenerations++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Totals beyond the log window come from aggregate queries so an active
	// user's lifetime numbers stay accurate.
	if len(stats.Entries) == usageLogLimit {
		err := s.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(tokens), 0), COUNT(*)
			FROM usage_log
			WHERE owner_id = $1`,
			owner,
		).Scan(&stats.TotalTokens, &stats.TotalGenerations)
		if err != nil {
			return nil, fmt.Errorf("usage totals: %w", err)
		}
	}
	return stats, nil
}
