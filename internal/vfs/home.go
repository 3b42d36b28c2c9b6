package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/qpath"
)

// IsMutable reports whether name may be written, renamed or removed.
func (fs *FS) IsMutable(name string) bool {
	for _, ext := range fs.opts.ProtectedExts {
		if ext != "" && qpath.HasExt(name, ext) {
			return false
		}
	}
	return true
}

// checkMutable halts on any attempt to modify a protected file.
func (fs *FS) checkMutable(op, name string) {
	if !fs.IsMutable(name) {
		fs.logger.Error().Str("op", op).Str("name", name).Msg("refusing to modify protected file")
		fserr.Fatalf(op, fserr.ErrImmutable, "%s", name)
	}
}

func (fs *FS) rawPath(name string) (string, error) {
	return fs.homePath(filepath.FromSlash(qpath.Clean(name)), name)
}

// FileExists reports whether name exists in the writable game directory,
// ignoring archives and the rest of the search path.
func (fs *FS) FileExists(name string) bool {
	fs.mustInit("file exists")
	p, err := fs.homeGamePath(name)
	if err != nil {
		return false
	}
	return regularFile(p)
}

// RawFileExists reports whether name exists relative to the home path.
func (fs *FS) RawFileExists(name string) bool {
	fs.mustInit("raw file exists")
	p, err := fs.rawPath(name)
	if err != nil {
		return false
	}
	return regularFile(p)
}

func regularFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// RawOpenRead opens name relative to the home path, falling back to the
// base path. No archive is consulted.
func (fs *FS) RawOpenRead(name string) (Handle, int64, error) {
	fs.mustInit("raw open " + name)
	if _, err := fs.rawPath(name); err != nil {
		return 0, 0, err
	}
	rel := filepath.FromSlash(qpath.Clean(name))
	roots := []string{fs.opts.HomePath}
	if !qpath.Equal(fs.opts.BasePath, fs.opts.HomePath) {
		roots = append(roots, fs.opts.BasePath)
	}
	for _, root := range roots {
		p := filepath.Join(root, rel)
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		fi, err := f.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			_ = f.Close()
			continue
		}
		h := fs.handles.OpenDirect(name, f, false, false)
		fs.metrics.OpenHandles.Set(float64(fs.handles.Active()))
		return h, fi.Size(), nil
	}
	return 0, 0, fserr.ErrNotFound
}

// RawOpenWrite creates or truncates name relative to the home path.
func (fs *FS) RawOpenWrite(name string) (Handle, error) {
	fs.mustInit("raw write " + name)
	p, err := fs.rawPath(name)
	if err != nil {
		return 0, err
	}
	return fs.openOS("raw write", p, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, false)
}

// RawRename renames a file relative to the home path. With safe set the
// destination must be mutable.
func (fs *FS) RawRename(from, to string, safe bool) error {
	fs.mustInit("raw rename")
	src, err := fs.rawPath(from)
	if err != nil {
		return err
	}
	dst, err := fs.rawPath(to)
	if err != nil {
		return err
	}
	if safe {
		fs.checkMutable("raw rename", dst)
	}
	return os.Rename(src, dst)
}

// Rename renames a file inside the writable game directory.
func (fs *FS) Rename(from, to string) error {
	fs.mustInit("rename")
	src, err := fs.homeGamePath(from)
	if err != nil {
		return err
	}
	dst, err := fs.homeGamePath(to)
	if err != nil {
		return err
	}
	fs.checkMutable("rename", dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// Remove deletes the file at an OS path.
func (fs *FS) Remove(osPath string) error {
	fs.mustInit("remove")
	fs.checkMutable("remove", osPath)
	return os.Remove(osPath)
}

// HomeRemove deletes name from the writable game directory.
func (fs *FS) HomeRemove(name string) error {
	fs.mustInit("home remove")
	p, err := fs.homeGamePath(name)
	if err != nil {
		return err
	}
	fs.checkMutable("home remove", p)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fserr.ErrNotFound
		}
		return err
	}
	return nil
}

// CreatePath creates the directory name inside the writable game directory.
func (fs *FS) CreatePath(name string) error {
	fs.mustInit("create path")
	p, err := fs.homeGamePath(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0755)
}

// FileIsInPak returns the pure checksum of the first allowed archive holding
// name. Loose directories are ignored.
func (fs *FS) FileIsInPak(name string) (int32, bool) {
	fs.mustInit("file is in pak")
	if qpath.IsTraversal(name) {
		return 0, false
	}
	for _, a := range fs.chain.Archives() {
		if !fs.validator.IsPure(a) {
			continue
		}
		if _, ok := a.Lookup(name); ok {
			return a.PureChecksum, true
		}
	}
	return 0, false
}

// CompareZipChecksum parses the archive at osPath and reports whether its
// checksum is in the authority's referenced list.
func (fs *FS) CompareZipChecksum(osPath string) (bool, error) {
	a, err := archive.Load(osPath, "", fs.salt)
	if err != nil {
		return false, fmt.Errorf("compare checksum: %w", err)
	}
	sum := a.Checksum
	_ = a.Close()
	return fs.validator.InReferenced(sum), nil
}
