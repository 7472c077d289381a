// Package archive validates and unpacks uploaded zip bundles into in-memory
// file entries, guarding against oversized, corrupt and hostile archives
// before any downstream work starts.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrTooLarge means the compressed archive exceeds the configured ceiling.
	ErrTooLarge = errors.New("archive exceeds size limit")
	// ErrCorrupt means the container could not be parsed or read.
	ErrCorrupt = errors.New("archive is corrupt")
	// ErrUnsafe means extraction would escape the target, or the archive
	// declares a hostile expansion ratio or entry count.
	ErrUnsafe = errors.New("archive is unsafe")
)

const (
	// maxEntries caps the number of entries a single archive may declare.
	maxEntries = 100000
	// expansionLimit caps declared-uncompressed / compressed size. Source
	// archives compress well below this; bombs do not.
	expansionLimit = 100
)

// FileEntry is one extracted file, already truncated to the per-file ceiling.
type FileEntry struct {
	Path      string
	Size      int64 // bytes kept, equals len(Content)
	Content   []byte
	Truncated bool
}

// Limits bounds a single extraction.
type Limits struct {
	MaxArchiveBytes int64 // compressed ceiling, checked before parsing
	MaxFileBytes    int64 // per-file ceiling, larger entries are truncated
}

// Extract validates data as a zip archive and returns its file entries in
// archive order. The size gate runs before any archive content is read.
func Extract(data []byte, limits Limits) ([]FileEntry, error) {
	if int64(len(data)) > limits.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), limits.MaxArchiveBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if len(zr.File) > maxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrUnsafe, len(zr.File), maxEntries)
	}

	// Zip-bomb guard on declared sizes, before decompressing anything.
	var declared uint64
	for _, f := range zr.File {
		declared += f.UncompressedSize64
	}
	if len(data) > 0 && declared > uint64(len(data))*expansionLimit {
		return nil, fmt.Errorf("%w: declares %d bytes from %d compressed", ErrUnsafe, declared, len(data))
	}

	var entries []FileEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		clean, err := safePath(f.Name)
		if err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, f.Name, err)
		}
		// Read one byte past the ceiling so truncation is detectable even
		// when the declared size lies.
		content, err := io.ReadAll(io.LimitReader(rc, limits.MaxFileBytes+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, f.Name, err)
		}

		truncated := false
		if int64(len(content)) > limits.MaxFileBytes {
			content = content[:limits.MaxFileBytes]
			truncated = true
		}

		entries = append(entries, FileEntry{
			Path:      clean,
			Size:      int64(len(content)),
			Content:   content,
			Truncated: truncated,
		})
	}

	return entries, nil
}

// safePath normalizes a zip entry name and rejects anything that would land
// outside the extraction root.
func safePath(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path %s", ErrUnsafe, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path traversal in %s", ErrUnsafe, name)
	}
	return clean, nil
}
