package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	rpdf "rsc.io/pdf"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FSDocumentStore writes attachments under Dir.
type FSDocumentStore struct {
	Dir string
}

func NewFSDocumentStore(dir string) (*FSDocumentStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("document dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	return &FSDocumentStore{Dir: dir}, nil
}

// Save writes data to a sanitized file name and returns its path. An
// existing file with the same name is replaced.
func (s *FSDocumentStore) Save(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := SanitizeFilename(name)
	target := filepath.Join(s.Dir, clean)

	tmp, err := os.CreateTemp(s.Dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", clean, err)
	}
	return target, nil
}

// SanitizeFilename keeps a single path segment of safe characters.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "document"
	}
	if len(base) > 200 {
		base = base[len(base)-200:]
	}
	return base
}

// PDFPageCount parses content far enough to count pages. The parser panics
// on some malformed files, which is reported as an error.
func PDFPageCount(content []byte) (pages int, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			pages = 0
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}
