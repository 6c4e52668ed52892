package staging

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store places downloaded files on local disk between pipeline stages.
// File names are derived from the document id so a resumed run finds the
// same path without extra bookkeeping.
type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = "./data/staging"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Path returns the staging location for a document, keeping the source
// extension so extractors can sniff the format.
func (s *Store) Path(documentID, sourceURL string) string {
	return filepath.Join(s.basePath, documentID+sourceExt(sourceURL))
}

// Remove deletes the staged file and any leftover partials for a document.
func (s *Store) Remove(documentID string) error {
	matches, err := filepath.Glob(filepath.Join(s.basePath, documentID+"*"))
	if err != nil {
		return fmt.Errorf("glob staging files: %w", err)
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove staging file %s: %w", match, err)
		}
	}
	return nil
}

func sourceExt(sourceURL string) string {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(parsed.Path)
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return strings.ToLower(ext)
}
