package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func testLimits() Limits {
	return Limits{MaxArchiveBytes: 1 << 20, MaxFileBytes: 1 << 16}
}

func TestExtract_Simple(t *testing.T) {
	data := buildZip(t, map[string]string{
		"main.go":       "package main\n",
		"pkg/helper.go": "package pkg\n",
	})

	entries, err := Extract(data, testLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Truncated {
			t.Errorf("%s unexpectedly truncated", e.Path)
		}
		if e.Size != int64(len(e.Content)) {
			t.Errorf("%s: size %d != len(content) %d", e.Path, e.Size, len(e.Content))
		}
	}
}

func TestExtract_TooLarge(t *testing.T) {
	data := buildZip(t, map[string]string{"a.go": "package a\n"})

	_, err := Extract(data, Limits{MaxArchiveBytes: 10, MaxFileBytes: 1 << 16})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestExtract_Corrupt(t *testing.T) {
	_, err := Extract([]byte("this is not a zip file at all"), testLimits())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestExtract_PathTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{"../../etc/passwd": "root"})

	_, err := Extract(data, testLimits())
	if !errors.Is(err, ErrUnsafe) {
		t.Fatalf("expected ErrUnsafe, got %v", err)
	}
}

func TestExtract_AbsolutePath(t *testing.T) {
	data := buildZip(t, map[string]string{"/etc/passwd": "root"})

	_, err := Extract(data, testLimits())
	if !errors.Is(err, ErrUnsafe) {
		t.Fatalf("expected ErrUnsafe, got %v", err)
	}
}

func TestExtract_RejectsExpansionBomb(t *testing.T) {
	// A few MiB of one repeated byte deflates to a handful of KiB, putting
	// the declared/compressed ratio far past expansionLimit.
	data := buildZip(t, map[string]string{
		"bomb.txt": strings.Repeat("a", 4<<20),
	})

	_, err := Extract(data, Limits{MaxArchiveBytes: 1 << 30, MaxFileBytes: 1 << 30})
	if !errors.Is(err, ErrUnsafe) {
		t.Fatalf("expected ErrUnsafe for expansion bomb, got %v", err)
	}
}

func TestExtract_RejectsEntryCountBomb(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i <= maxEntries; i++ {
		if _, err := zw.Create(fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("create entry %d: %v", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err := Extract(buf.Bytes(), Limits{MaxArchiveBytes: 1 << 30, MaxFileBytes: 1 << 16})
	if !errors.Is(err, ErrUnsafe) {
		t.Fatalf("expected ErrUnsafe for entry-count bomb, got %v", err)
	}
}

func TestExtract_TruncatesOversizedFile(t *testing.T) {
	big := strings.Repeat("x", 200)
	data := buildZip(t, map[string]string{"big.go": big, "small.go": "ok"})

	entries, err := Extract(data, Limits{MaxArchiveBytes: 1 << 20, MaxFileBytes: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (oversized file truncated, not dropped), got %d", len(entries))
	}

	for _, e := range entries {
		switch e.Path {
		case "big.go":
			if !e.Truncated {
				t.Error("big.go should be flagged truncated")
			}
			if e.Size != 100 {
				t.Errorf("big.go truncated to %d bytes, want exactly 100", e.Size)
			}
		case "small.go":
			if e.Truncated {
				t.Error("small.go should not be truncated")
			}
		}
	}
}

func TestExtract_SkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("src/"); err != nil {
		t.Fatalf("create dir entry: %v", err)
	}
	w, _ := zw.Create("src/main.go")
	w.Write([]byte("package main\n"))
	zw.Close()

	entries, err := Extract(buf.Bytes(), testLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "src/main.go" {
		t.Fatalf("expected only src/main.go, got %+v", entries)
	}
}

func TestExtract_NormalizesBackslashes(t *testing.T) {
	data := buildZip(t, map[string]string{`src\win.go`: "package src\n"})

	entries, err := Extract(data, testLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries[0].Path != "src/win.go" {
		t.Errorf("path = %q, want src/win.go", entries[0].Path)
	}
}

func TestExtract_EmptyArchive(t *testing.T) {
	data := buildZip(t, nil)

	entries, err := Extract(data, testLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
