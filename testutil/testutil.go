// Package testutil provides shared fixtures for pakfs tests.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sunumi/pakfs/internal/fserr"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "pakfs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile writes content to dir/name, creating parent directories, and
// returns the full path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// ZipEntry is one file stored in a test archive.
type ZipEntry struct {
	Name string
	Data string
}

// Entries builds ZipEntry values from alternating name/data pairs.
func Entries(pairs ...string) []ZipEntry {
	if len(pairs)%2 != 0 {
		panic("testutil.Entries: odd number of arguments")
	}
	out := make([]ZipEntry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, ZipEntry{Name: pairs[i], Data: pairs[i+1]})
	}
	return out
}

// WriteZip writes a zip archive at dir/name holding entries in order and
// returns its full path. Entries are deflated.
func WriteZip(t *testing.T, dir, name string, entries []ZipEntry) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Data)); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	return path
}

// RequireFatal runs fn and fails the test unless it raises a fatal
// filesystem error wrapping target.
func RequireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	if recovered == nil {
		t.Fatalf("expected fatal error %v, got none", target)
	}
	fe, ok := fserr.AsFatal(recovered)
	if !ok {
		t.Fatalf("expected *fserr.FatalError, got %T: %v", recovered, recovered)
	}
	if !errors.Is(fe, target) {
		t.Fatalf("expected fatal error wrapping %v, got %v", target, fe)
	}
}
