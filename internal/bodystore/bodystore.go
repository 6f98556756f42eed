// Package bodystore persists raw message bodies on disk. The database keeps
// only a reference (a path relative to the store root); the bytes live here.
package bodystore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is a file-backed raw body store rooted at one directory.
// References are slash-separated paths relative to the root, laid out as
// <accountID>/<folderID>/<uuid>.eml.
type Store struct {
	root string
}

// New creates (if needed) and opens a body store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating body store root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Save writes a raw message body and returns its reference.
func (s *Store) Save(accountID, folderID string, raw []byte) (string, error) {
	rel := filepath.Join(accountID, folderID, uuid.New().String()+".eml")
	abs := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("creating body directory: %w", err)
	}
	if err := os.WriteFile(abs, raw, 0o600); err != nil {
		return "", fmt.Errorf("writing body %s: %w", rel, err)
	}
	return filepath.ToSlash(rel), nil
}

// Read returns the raw body for a reference.
func (s *Store) Read(ref string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		return nil, fmt.Errorf("reading body %s: %w", ref, err)
	}
	return raw, nil
}

// Remove deletes the body for a reference. Missing files are not an error;
// cleanup must be idempotent.
func (s *Store) Remove(ref string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing body %s: %w", ref, err)
	}
	return nil
}

// RemoveAll deletes every body for the given references, continuing past
// individual failures and returning the first error seen.
func (s *Store) RemoveAll(refs []string) error {
	var firstErr error
	for _, ref := range refs {
		if err := s.Remove(ref); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveFolder deletes every cached body under one folder of one account,
// used when a UID-validity change invalidates the whole folder.
func (s *Store) RemoveFolder(accountID, folderID string) error {
	dir := filepath.Join(s.root, accountID, folderID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing body folder %s/%s: %w", accountID, folderID, err)
	}
	return nil
}

// Sweep walks the store and deletes any body file whose reference is not in
// valid, returning the number removed. Empty directories are left in place.
func (s *Store) Sweep(valid map[string]bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if valid[filepath.ToSlash(rel)] {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sweeping %s: %w", rel, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping body store: %w", err)
	}
	return removed, nil
}
