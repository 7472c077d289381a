//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_ReadmeLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := "integration-test-" + uuid.New().String()[:8]

	id, err := s.SaveReadme(ctx, ReadmeRecord{
		Owner:       owner,
		Filename:    "project.zip",
		Requirement: "Focus on setup instructions",
		Model:       "gemini-2.0-flash",
		TotalTokens: 1234,
		Partial:     false,
		Content:     "# Project\n\nGenerated for the integration test.",
	})
	if err != nil {
		t.Fatalf("SaveReadme failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil readme ID")
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM readmes WHERE owner_id = $1", owner)
	})

	// Fetch it back as the owner
	rec, err := s.GetReadme(ctx, id, owner)
	if err != nil {
		t.Fatalf("GetReadme failed: %v", err)
	}
	if rec.Filename != "project.zip" {
		t.Errorf("expected filename project.zip, got %q", rec.Filename)
	}
	if rec.TotalTokens != 1234 {
		t.Errorf("expected 1234 tokens, got %d", rec.TotalTokens)
	}

	// Another identity is rejected
	if _, err := s.GetReadme(ctx, id, "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other owner, got %v", err)
	}

	// List returns it, newest first, without content
	recs, err := s.ListReadmes(ctx, owner)
	if err != nil {
		t.Fatalf("ListReadmes failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Content != "" {
		t.Error("list should not carry content")
	}

	// Delete honors ownership
	if err := s.DeleteReadme(ctx, id, "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden on delete, got %v", err)
	}
	if err := s.DeleteReadme(ctx, id, owner); err != nil {
		t.Fatalf("DeleteReadme failed: %v", err)
	}
	if _, err := s.GetReadme(ctx, id, owner); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIntegration_LedgerReserveAndSettle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := "integration-test-" + uuid.New().String()[:8]
	day := time.Now().UTC().Format("2006-01-02")

	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM usage_ledger WHERE owner_id = $1", owner)
	})

	ok, err := s.Reserve(ctx, owner, day, 400, 1000)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !ok {
		t.Fatal("first reservation should pass")
	}

	// A second charge that would breach the ceiling is refused and leaves the
	// row untouched.
	ok, err = s.Reserve(ctx, owner, day, 700, 1000)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if ok {
		t.Error("over-ceiling reservation should be refused")
	}

	var tokens int64
	err = s.pool.QueryRow(ctx, "SELECT tokens FROM usage_ledger WHERE owner_id = $1 AND day = $2", owner, day).Scan(&tokens)
	if err != nil {
		t.Fatalf("query ledger failed: %v", err)
	}
	if tokens != 400 {
		t.Errorf("refused charge must not land, got %d tokens", tokens)
	}

	// Settle the reservation down to the actual count.
	if err := s.Adjust(ctx, owner, day, -150); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	err = s.pool.QueryRow(ctx, "SELECT tokens FROM usage_ledger WHERE owner_id = $1 AND day = $2", owner, day).Scan(&tokens)
	if err != nil {
		t.Fatalf("query ledger failed: %v", err)
	}
	if tokens != 250 {
		t.Errorf("expected 250 tokens after settle, got %d", tokens)
	}

	// Adjust never drives the row negative.
	if err := s.Adjust(ctx, owner, day, -10000); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	err = s.pool.QueryRow(ctx, "SELECT tokens FROM usage_ledger WHERE owner_id = $1 AND day = $2", owner, day).Scan(&tokens)
	if err != nil {
		t.Fatalf("query ledger failed: %v", err)
	}
	if tokens != 0 {
		t.Errorf("expected floor at 0, got %d", tokens)
	}
}

func TestIntegration_UsageLogAndStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := "integration-test-" + uuid.New().String()[:8]

	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM usage_log WHERE owner_id = $1", owner)
	})

	err := s.AppendUsage(ctx, owner, UsageEntry{
		Filename: "a.zip",
		Model:    "gemini-2.0-flash",
		Tokens:   500,
	})
	if err != nil {
		t.Fatalf("AppendUsage failed: %v", err)
	}
	err = s.AppendUsage(ctx, owner, UsageEntry{
		Filename: "b.zip",
		Model:    "gemini-2.0-flash",
		Tokens:   300,
		Partial:  true,
	})
	if err != nil {
		t.Fatalf("AppendUsage failed: %v", err)
	}

	stats, err := s.GetUsage(ctx, owner)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if stats.TotalTokens != 800 {
		t.Errorf("expected 800 total tokens, got %d", stats.TotalTokens)
	}
	if stats.TotalGenerations != 2 {
		t.Errorf("expected 2 generations, got %d", stats.TotalGenerations)
	}
	if stats.DailyTokens != 800 {
		t.Errorf("fresh rows are today's, expected 800 daily, got %d", stats.DailyTokens)
	}
	if len(stats.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats.Entries))
	}
	// Newest first
	if stats.Entries[0].Filename != "b.zip" {
		t.Errorf("expected newest entry first, got %q", stats.Entries[0].Filename)
	}
}

func TestIntegration_APIKeysAndAccountDeletion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := "integration-test-" + uuid.New().String()[:8]

	// No key stored yet
	key, err := s.GetAPIKey(ctx, owner)
	if err != nil {
		t.Fatalf("GetAPIKey failed: %v", err)
	}
	if key != "" {
		t.Errorf("expected empty key, got %q", key)
	}

	if err := s.SaveAPIKey(ctx, owner, "key-one"); err != nil {
		t.Fatalf("SaveAPIKey failed: %v", err)
	}
	if err := s.SaveAPIKey(ctx, owner, "key-two"); err != nil {
		t.Fatalf("SaveAPIKey (replace) failed: %v", err)
	}
	key, err = s.GetAPIKey(ctx, owner)
	if err != nil {
		t.Fatalf("GetAPIKey failed: %v", err)
	}
	if key != "key-two" {
		t.Errorf("expected replaced key, got %q", key)
	}

	// Seed one row per table, then wipe the account.
	if _, err := s.SaveReadme(ctx, ReadmeRecord{Owner: owner, Filename: "x.zip", Model: "m", Content: "# X"}); err != nil {
		t.Fatalf("SaveReadme failed: %v", err)
	}
	if err := s.AppendUsage(ctx, owner, UsageEntry{Filename: "x.zip", Model: "m", Tokens: 10}); err != nil {
		t.Fatalf("AppendUsage failed: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	if _, err := s.Reserve(ctx, owner, day, 10, 1000); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	del, err := s.DeleteAccount(ctx, owner)
	if err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if del.Readmes != 1 || del.Usage != 1 || del.Keys != 1 || del.Ledger != 1 {
		t.Errorf("unexpected deletion counts: %+v", del)
	}

	recs, err := s.ListReadmes(ctx, owner)
	if err != nil {
		t.Fatalf("ListReadmes failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records after account deletion, got %d", len(recs))
	}
}
