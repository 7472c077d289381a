package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/scribeworks/scribe/internal/archive"
	"github.com/scribeworks/scribe/internal/selector"
)

func entry(path, content string) selector.Entry {
	return selector.Entry{
		FileEntry: archive.FileEntry{Path: path, Size: int64(len(content)), Content: []byte(content)},
		Language:  selector.LangSource,
	}
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(nil, 1000)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestBuild_SingleChunk(t *testing.T) {
	chunks, err := Build([]selector.Entry{
		entry("a.go", "package a\n"),
		entry("b.go", "package b\n"),
	}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if len(chunks[0].Entries) != 2 {
		t.Errorf("expected 2 entries in chunk, got %d", len(chunks[0].Entries))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Index = %d, want 0", chunks[0].Index)
	}
}

func TestBuild_SplitsAtCeiling(t *testing.T) {
	// Each entry is well under the ceiling, together they are over it.
	content := strings.Repeat("word ", 200)
	perEntry := EstimateTokens(content)
	ceiling := perEntry + perEntry/2

	chunks, err := Build([]selector.Entry{
		entry("a.go", content),
		entry("b.go", content),
		entry("c.go", content),
	}, ceiling)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: Index = %d", i, c.Index)
		}
		if c.Tokens > ceiling {
			t.Errorf("chunk %d: %d tokens exceeds ceiling %d", i, c.Tokens, ceiling)
		}
	}
}

func TestBuild_PreservesOrder(t *testing.T) {
	chunks, err := Build([]selector.Entry{
		entry("first.go", "package first\n"),
		entry("second.go", "package second\n"),
		entry("third.go", "package third\n"),
	}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var paths []string
	for _, c := range chunks {
		for _, e := range c.Entries {
			paths = append(paths, e.Path)
		}
	}
	want := "first.go,second.go,third.go"
	if strings.Join(paths, ",") != want {
		t.Errorf("order = %v, want %s", paths, want)
	}
}

func TestBuild_OversizedEntryAloneAndTruncated(t *testing.T) {
	big := strings.Repeat("token words here ", 500)
	ceiling := EstimateTokens(big) / 4

	chunks, err := Build([]selector.Entry{
		entry("small.go", "package small\n"),
		entry("huge.go", big),
		entry("after.go", "package after\n"),
	}, ceiling)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var huge *Chunk
	for i := range chunks {
		for _, e := range chunks[i].Entries {
			if e.Path == "huge.go" {
				huge = &chunks[i]
			}
		}
	}
	if huge == nil {
		t.Fatal("oversized entry was dropped")
	}
	if len(huge.Entries) != 1 {
		t.Errorf("oversized entry should be chunked alone, chunk has %d entries", len(huge.Entries))
	}
	if !huge.Entries[0].Truncated {
		t.Error("oversized entry should be flagged truncated")
	}
	if huge.Tokens > ceiling {
		t.Errorf("truncated chunk still %d tokens, ceiling %d", huge.Tokens, ceiling)
	}
}

func TestBuild_AllChunksWithinCeiling(t *testing.T) {
	var entries []selector.Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, entry("f.go", strings.Repeat("some code line\n", i+1)))
	}
	ceiling := 60

	chunks, err := Build(entries, ceiling)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if c.Tokens > ceiling {
			t.Errorf("chunk %d: %d tokens exceeds ceiling %d", i, c.Tokens, ceiling)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Errorf("empty string should estimate 0 tokens")
	}
	short := EstimateTokens("hello")
	long := EstimateTokens(strings.Repeat("hello world ", 100))
	if short < 1 {
		t.Errorf("non-empty text should estimate at least 1 token, got %d", short)
	}
	if long <= short {
		t.Errorf("longer text should estimate more tokens: %d <= %d", long, short)
	}
}
