// Package artifact implements the content-addressed blob store. Blobs are
// keyed by SHA-256 and laid out two levels deep under the base directory:
// <base>/<aa>/<hash>, where aa is the first two hex characters.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrNotFound is returned by Get for hashes with no stored content.
var ErrNotFound = errors.New("artifact not found")

// hashPattern guards every path computation. Anything that is not exactly 64
// lowercase hex characters is rejected before it can touch the filesystem,
// which closes the path-traversal door.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// Store is a write-once blob store. Content is stored at most once; Put is
// idempotent for identical bytes.
type Store struct {
	base string
}

// NewStore creates the base directory with owner-only permissions.
func NewStore(base string) (*Store, error) {
	if base == "" {
		return nil, errors.New("artifact store base directory is required")
	}
	if err := os.MkdirAll(base, dirMode); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{base: base}, nil
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// Put stores data and returns its SHA-256. A blob that already exists is not
// rewritten. New blobs are written to a temp file in the target directory and
// renamed into place so readers never observe partial content.
func (s *Store) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	path, err := s.path(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("create artifact subdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return hash, nil
}

// Get returns the stored bytes for a hash, or ErrNotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether a blob is stored.
func (s *Store) Exists(hash string) bool {
	path, err := s.path(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes a blob and prunes its subdirectory when empty. Deleting a
// missing blob is not an error.
func (s *Store) Delete(hash string) error {
	path, err := s.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete artifact: %w", err)
	}
	// Best effort: an empty shard directory is noise.
	dir := filepath.Dir(path)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
	return nil
}

func (s *Store) path(hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", fmt.Errorf("invalid artifact hash %q", hash)
	}
	return filepath.Join(s.base, hash[:2], hash), nil
}
