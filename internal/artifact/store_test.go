package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("diagnostic output: all clear\n")

	hash, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := sha256.Sum256(data)
	if hash != hex.EncodeToString(want[:]) {
		t.Errorf("hash = %s", hash)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("content mismatch")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("same bytes")

	h1, err := s.Put(data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	h2, err := s.Put(data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %s vs %s", h1, h2)
	}

	// Exactly one file on disk for the content.
	shard := filepath.Join(s.Base(), h1[:2])
	entries, err := os.ReadDir(shard)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("shard has %d entries, want 1", len(entries))
	}
}

func TestGetUnknownHash(t *testing.T) {
	s := newTestStore(t)
	missing := strings.Repeat("ab", 32)
	if _, err := s.Get(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRejectsMalformedHashes(t *testing.T) {
	s := newTestStore(t)
	// Not hex, uppercase hex, traversal attempts: all refused up front.
	bad := []string{
		"",
		"short",
		strings.Repeat("g", 64),
		strings.Repeat("AB", 32),
		"../../../../etc/passwd",
		strings.Repeat("ab", 32) + "/extra",
	}
	for _, h := range bad {
		if _, err := s.Get(h); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) should reject the hash outright", h)
		}
		if s.Exists(h) {
			t.Errorf("Exists(%q) = true", h)
		}
	}
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	s := newTestStore(t)
	hash, err := s.Put([]byte("secret output"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := os.Stat(filepath.Join(s.Base(), hash[:2], hash))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	dirInfo, err := os.Stat(filepath.Join(s.Base(), hash[:2]))
	if err != nil {
		t.Fatalf("Stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir mode = %o, want 700", perm)
	}
}

func TestDeletePrunesEmptyShard(t *testing.T) {
	s := newTestStore(t)
	hash, err := s.Put([]byte("ephemeral"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Delete(hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(hash) {
		t.Fatal("blob still present")
	}
	if _, err := os.Stat(filepath.Join(s.Base(), hash[:2])); !os.IsNotExist(err) {
		t.Error("empty shard directory not pruned")
	}

	// Deleting again is a no-op.
	if err := s.Delete(hash); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
