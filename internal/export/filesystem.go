// Package export serves the merged search path over NFS v3.
package export

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/listing"
	"github.com/sunumi/pakfs/internal/qpath"
	"github.com/sunumi/pakfs/internal/vfs"
)

var (
	errReadOnly = errors.New("read-only filesystem")
	// errSeekWrite is returned for writes into the middle of an existing
	// file. Only truncating and appending writes are supported.
	errSeekWrite = errors.New("write at offset not supported")
)

// Filesystem implements billy.Filesystem over a *vfs.FS. Every call takes
// the same lock because the vfs is single-threaded.
type Filesystem struct {
	mu       *sync.Mutex
	vfs      *vfs.FS
	root     string // virtual prefix, "" at the top
	writable bool
	started  time.Time
}

// NewFilesystem wraps v. Without writable every mutation fails.
func NewFilesystem(v *vfs.FS, writable bool) *Filesystem {
	return &Filesystem{
		mu:       &sync.Mutex{},
		vfs:      v,
		writable: writable,
		started:  time.Now(),
	}
}

// virtualName maps a billy path to a vfs name.
func (f *Filesystem) virtualName(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimPrefix(p, "/")
	if f.root == "" {
		return p
	}
	if p == "" {
		return f.root
	}
	return f.root + "/" + p
}

func notExist(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
}

func mapErr(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fserr.ErrNotFound):
		return notExist(op, name)
	case errors.Is(err, fserr.ErrNotWritable):
		return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	}
	return err
}

func (f *Filesystem) checkWrite(op, name string) error {
	if !f.writable {
		return &os.PathError{Op: op, Path: name, Err: errReadOnly}
	}
	// Pre-checked so a client request never trips the fatal guard.
	if !f.vfs.IsMutable(name) {
		return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	}
	return nil
}

// Create creates or truncates the named file in the writable game directory.
func (f *Filesystem) Create(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Open opens the named file for reading.
func (f *Filesystem) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens the named file. Reads resolve through the whole search
// path; writes land in the writable game directory.
func (f *Filesystem) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	name := f.virtualName(filename)
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	if !writing {
		return f.openRead(filename, name)
	}
	if err := f.checkWrite("open", filename); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	exists := f.vfs.FileExists(name)
	if !exists && flag&os.O_CREATE == 0 {
		return nil, notExist("open", filename)
	}

	var (
		h         vfs.Handle
		err       error
		appending bool
	)
	if flag&os.O_TRUNC != 0 || !exists {
		h, err = f.vfs.OpenWrite(name)
	} else {
		h, err = f.vfs.OpenAppend(name, false)
		appending = true
	}
	if err != nil {
		return nil, mapErr("open", filename, err)
	}
	size, _ := f.vfs.Length(h)
	return &file{fs: f, name: filename, h: h, size: size, writable: true, appending: appending}, nil
}

func (f *Filesystem) openRead(filename, name string) (billy.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, size, err := f.vfs.OpenRead(name, true)
	if err != nil {
		return nil, mapErr("open", filename, err)
	}
	return &file{fs: f, name: filename, h: h, size: size}, nil
}

// Stat returns file info. Directories exist when anything is listed below
// them or their parent lists them.
func (f *Filesystem) Stat(filename string) (os.FileInfo, error) {
	name := f.virtualName(filename)
	base := path.Base("/" + name)
	if name == "" {
		return f.dirInfo("/"), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if info, err := f.vfs.Lookup(name); err == nil {
		return &fileInfo{
			name:    base,
			size:    info.Size,
			mode:    f.fileMode(),
			modTime: f.modTime(info),
		}, nil
	}
	if f.isDir(name) {
		return f.dirInfo(base), nil
	}
	return nil, notExist("stat", filename)
}

func (f *Filesystem) isDir(name string) bool {
	if len(f.vfs.ListFiles(name, "")) > 0 || len(f.vfs.ListFiles(name, listing.DirsOnly)) > 0 {
		return true
	}
	parent, base := path.Split(name)
	for _, d := range f.vfs.ListFiles(parent, listing.DirsOnly) {
		if qpath.Equal(d, base) {
			return true
		}
	}
	return false
}

func (f *Filesystem) fileMode() os.FileMode {
	if f.writable {
		return 0644
	}
	return 0444
}

func (f *Filesystem) dirInfo(name string) *fileInfo {
	mode := os.FileMode(0555)
	if f.writable {
		mode = 0755
	}
	return &fileInfo{name: name, mode: mode | os.ModeDir, modTime: f.started, isDir: true}
}

// modTime is the loose file's time or, for archive entries, the archive's.
func (f *Filesystem) modTime(info vfs.Info) time.Time {
	p := info.OSPath
	if info.Archive != "" {
		p = info.Archive
	}
	if st, err := os.Stat(p); err == nil {
		return st.ModTime()
	}
	return f.started
}

// Rename renames a file inside the writable game directory.
func (f *Filesystem) Rename(oldpath, newpath string) error {
	if err := f.checkWrite("rename", newpath); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return mapErr("rename", oldpath, f.vfs.Rename(f.virtualName(oldpath), f.virtualName(newpath)))
}

// Remove removes a file from the writable game directory. Content served
// from archives or the base path cannot be removed.
func (f *Filesystem) Remove(filename string) error {
	if err := f.checkWrite("remove", filename); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return mapErr("remove", filename, f.vfs.HomeRemove(f.virtualName(filename)))
}

// Join joins path elements.
func (f *Filesystem) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a temporary file.
func (f *Filesystem) TempFile(dir, prefix string) (billy.File, error) {
	name := path.Join(dir, prefix+time.Now().Format("20060102150405.000000"))
	return f.Create(name)
}

// ReadDir lists the merged directory. Archive entries nested below path
// appear as synthetic directories.
func (f *Filesystem) ReadDir(p string) ([]os.FileInfo, error) {
	name := f.virtualName(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	files := f.vfs.ListFiles(name, "")
	dirs := f.vfs.ListFiles(name, listing.DirsOnly)
	if name != "" && len(files) == 0 && len(dirs) == 0 && !f.isDir(name) {
		return nil, notExist("readdir", p)
	}

	seen := make(map[string]bool)
	var infos []os.FileInfo
	addDir := func(n string) {
		key := qpath.Normalize(n)
		if seen[key] {
			return
		}
		seen[key] = true
		infos = append(infos, f.dirInfo(n))
	}

	for _, d := range dirs {
		first, _, _ := strings.Cut(d, "/")
		addDir(first)
	}
	for _, rel := range files {
		first, rest, nested := strings.Cut(rel, "/")
		if nested && rest != "" {
			addDir(first)
			continue
		}
		key := qpath.Normalize(first)
		if seen[key] {
			continue
		}
		full := first
		if name != "" {
			full = name + "/" + first
		}
		info, err := f.vfs.Lookup(full)
		if err != nil {
			continue
		}
		seen[key] = true
		infos = append(infos, &fileInfo{
			name:    first,
			size:    info.Size,
			mode:    f.fileMode(),
			modTime: f.modTime(info),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return qpath.Compare(infos[i].Name(), infos[j].Name()) < 0
	})
	return infos, nil
}

// MkdirAll creates a directory in the writable game directory.
func (f *Filesystem) MkdirAll(filename string, _ os.FileMode) error {
	if !f.writable {
		return &os.PathError{Op: "mkdir", Path: filename, Err: errReadOnly}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return mapErr("mkdir", filename, f.vfs.CreatePath(f.virtualName(filename)))
}

// Symlink is not supported.
func (f *Filesystem) Symlink(_, _ string) error {
	return billy.ErrNotSupported
}

// Readlink is not supported.
func (f *Filesystem) Readlink(_ string) (string, error) {
	return "", billy.ErrNotSupported
}

// Lstat returns file info (same as Stat, there are no links).
func (f *Filesystem) Lstat(filename string) (os.FileInfo, error) {
	return f.Stat(filename)
}

// Chroot returns a view rooted at p sharing the same lock.
func (f *Filesystem) Chroot(p string) (billy.Filesystem, error) {
	sub := *f
	sub.root = f.virtualName(p)
	return &sub, nil
}

// Root returns the root path.
func (f *Filesystem) Root() string {
	return "/" + f.root
}

// Capabilities reports what the export supports.
func (f *Filesystem) Capabilities() billy.Capability {
	c := billy.ReadCapability | billy.SeekCapability
	if f.writable {
		c |= billy.WriteCapability
	}
	return c
}

type file struct {
	fs        *Filesystem
	name      string
	h         vfs.Handle
	size      int64
	writable  bool
	appending bool // opened without truncation; writes must start at the end
	closed    bool
}

func (f *file) Name() string {
	return f.name
}

func (f *file) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.fs.vfs.Read(f.h, p)
}

// ReadAt seeks and reads. Archive entries seek by decoding from the start,
// so reading backwards is slow.
func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if off >= f.size {
		return 0, io.EOF
	}
	if _, err := f.fs.vfs.Seek(f.h, off, io.SeekStart); err != nil {
		return 0, err
	}
	n := 0
	for n < len(p) {
		m, err := f.fs.vfs.Read(f.h, p[n:])
		n += m
		if err != nil {
			if n == len(p) && errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if m == 0 {
			return n, io.EOF
		}
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.appending {
		pos, err := f.fs.vfs.Tell(f.h)
		if err != nil {
			return 0, err
		}
		if pos != f.size {
			return 0, errSeekWrite
		}
	}
	n, err := f.fs.vfs.Write(f.h, p)
	if size, lerr := f.fs.vfs.Length(f.h); lerr == nil {
		f.size = size
	}
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", f.name, whence)
	}
	return f.fs.vfs.Seek(f.h, offset, whence)
}

func (f *file) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.fs.vfs.Close(f.h)
}

func (f *file) Lock() error {
	return nil // No-op
}

func (f *file) Unlock() error {
	return nil // No-op
}

func (f *file) Truncate(size int64) error {
	if !f.writable {
		return &os.PathError{Op: "truncate", Path: f.name, Err: errReadOnly}
	}
	if size == f.size {
		return nil
	}
	return billy.ErrNotSupported
}

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

var _ billy.Filesystem = (*Filesystem)(nil)
var _ billy.File = (*file)(nil)
var _ iofs.FileInfo = (*fileInfo)(nil)
