package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/handle"
	"github.com/sunumi/pakfs/internal/metrics"
	"github.com/sunumi/pakfs/internal/qpath"
	"github.com/sunumi/pakfs/internal/searchpath"
)

// Mode selects how OpenByMode opens a file.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
	ModeAppendSync
)

// Handle is an open file. Zero is never valid.
type Handle = handle.Handle

// Info describes where a name resolves.
type Info struct {
	Name    string
	Size    int64
	Layer   string // archive path or directory of the resolving layer
	Archive string // archive path for archive hits
	OSPath  string // OS path for loose hits
}

// resolve looks name up through the chain and records the outcome.
func (fs *FS) resolve(name string) (searchpath.Hit, error) {
	hit, err := fs.chain.Resolve(name, lookupFilter{fs: fs})
	switch {
	case err == nil:
		fs.metrics.Lookup(metrics.LookupHit)
	case errors.Is(err, searchpath.ErrTraversal):
		fs.metrics.Lookup(metrics.LookupTraversal)
	case errors.Is(err, searchpath.ErrFiltered):
		fs.metrics.Lookup(metrics.LookupPureDenied)
	default:
		fs.metrics.Lookup(metrics.LookupMiss)
	}
	return hit, err
}

// Exists reports whether name resolves in the current search path.
func (fs *FS) Exists(name string) bool {
	fs.mustInit("exists")
	_, err := fs.resolve(name)
	return err == nil
}

// Lookup reports where name resolves without opening it.
func (fs *FS) Lookup(name string) (Info, error) {
	fs.mustInit("lookup")
	hit, err := fs.resolve(name)
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: qpath.Clean(name), Size: hit.Size, Layer: hit.Layer.String(), OSPath: hit.OSPath}
	if hit.Layer.Archive != nil {
		info.Archive = hit.Layer.Archive.Path
	}
	return info, nil
}

// OpenRead opens name from the highest-priority layer that holds it and
// passes the filters. Exclusive archive handles get a private decoder; shared
// ones must not be read concurrently with another shared handle. Missing
// names return fserr.ErrNotFound.
func (fs *FS) OpenRead(name string, exclusive bool) (Handle, int64, error) {
	fs.mustInit("open " + name)
	hit, err := fs.resolve(name)
	if err != nil {
		return 0, 0, err
	}

	var h Handle
	if a := hit.Layer.Archive; a != nil {
		fs.validator.MarkReferenced(a, hit.Record.Name)
		h, err = fs.handles.OpenInArchive(name, a, hit.Record, exclusive)
		if err != nil {
			return 0, 0, err
		}
		if fs.opts.Debug {
			fs.logger.Debug().Str("name", name).Str("archive", a.Path).Msg("open read")
		}
	} else {
		f, err := os.Open(hit.OSPath)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", fserr.ErrNotFound, err)
		}
		h = fs.handles.OpenDirect(name, f, false, false)
		if fs.opts.Debug {
			fs.logger.Debug().Str("name", name).Str("path", hit.OSPath).Msg("open read")
		}
	}
	fs.metrics.OpenHandles.Set(float64(fs.handles.Active()))
	return h, hit.Size, nil
}

// homeGamePath maps name below the writable game directory. Names that could
// escape it fail with searchpath.ErrTraversal.
func (fs *FS) homeGamePath(name string) (string, error) {
	return fs.homePath(filepath.Join(fs.gameDir, filepath.FromSlash(qpath.Clean(name))), name)
}

func (fs *FS) homePath(rel, name string) (string, error) {
	if qpath.IsTraversal(name) {
		fs.logger.Warn().Str("name", name).Msg("refusing directory traversal")
		return "", searchpath.ErrTraversal
	}
	if qpath.Clean(name) == "" {
		return "", fserr.ErrNotFound
	}
	return filepath.Join(fs.opts.HomePath, rel), nil
}

func (fs *FS) openOS(op, osPath, name string, flag int, sync bool) (Handle, error) {
	fs.checkMutable(op, osPath)
	if err := os.MkdirAll(filepath.Dir(osPath), 0755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(osPath, flag, 0644)
	if err != nil {
		return 0, err
	}
	h := fs.handles.OpenDirect(name, f, true, sync)
	fs.metrics.OpenHandles.Set(float64(fs.handles.Active()))
	if fs.opts.Debug {
		fs.logger.Debug().Str("name", name).Str("path", osPath).Str("op", op).Msg("open write")
	}
	return h, nil
}

// OpenWrite creates or truncates name in the writable game directory.
// Protected extensions are fatal.
func (fs *FS) OpenWrite(name string) (Handle, error) {
	fs.mustInit("write " + name)
	p, err := fs.homeGamePath(name)
	if err != nil {
		return 0, err
	}
	return fs.openOS("write", p, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, false)
}

// OpenAppend opens name for appending in the writable game directory. With
// sync set every write is flushed to stable storage.
func (fs *FS) OpenAppend(name string, sync bool) (Handle, error) {
	fs.mustInit("append " + name)
	p, err := fs.homeGamePath(name)
	if err != nil {
		return 0, err
	}
	return fs.openOS("append", p, name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, sync)
}

// OpenByMode opens name in mode. The returned length is the file size for
// ModeRead and zero otherwise. An unknown mode is fatal.
func (fs *FS) OpenByMode(name string, mode Mode) (Handle, int64, error) {
	switch mode {
	case ModeRead:
		return fs.OpenRead(name, false)
	case ModeWrite:
		h, err := fs.OpenWrite(name)
		return h, 0, err
	case ModeAppend, ModeAppendSync:
		h, err := fs.OpenAppend(name, mode == ModeAppendSync)
		return h, 0, err
	}
	fserr.Fatalf("open "+name, fserr.ErrBadMode, "mode %d", mode)
	return 0, 0, nil
}

// Read reads from h. It returns io.EOF at the end of the file.
func (fs *FS) Read(h Handle, p []byte) (int, error) {
	fs.mustInit("read")
	n, err := fs.handles.Read(h, p)
	fs.metrics.BytesRead.Add(float64(n))
	return n, err
}

// Write writes to h.
func (fs *FS) Write(h Handle, p []byte) (int, error) {
	fs.mustInit("write")
	n, err := fs.handles.Write(h, p)
	fs.metrics.BytesWritten.Add(float64(n))
	return n, err
}

// Printf writes formatted text to h.
func (fs *FS) Printf(h Handle, format string, args ...any) error {
	_, err := fs.Write(h, []byte(fmt.Sprintf(format, args...)))
	return err
}

// Seek moves h. origin is io.SeekStart, io.SeekCurrent or io.SeekEnd;
// anything else is fatal. Seeking inside an archive entry costs time
// proportional to the distance.
func (fs *FS) Seek(h Handle, offset int64, origin int) (int64, error) {
	fs.mustInit("seek")
	return fs.handles.Seek(h, offset, origin)
}

// Tell returns the position of h.
func (fs *FS) Tell(h Handle) (int64, error) {
	fs.mustInit("tell")
	return fs.handles.Tell(h)
}

// Length returns the size of the file behind h.
func (fs *FS) Length(h Handle) (int64, error) {
	fs.mustInit("length")
	return fs.handles.Length(h)
}

// Flush commits pending writes of h.
func (fs *FS) Flush(h Handle) error {
	fs.mustInit("flush")
	return fs.handles.Flush(h)
}

// Close closes h.
func (fs *FS) Close(h Handle) error {
	fs.mustInit("close")
	err := fs.handles.Close(h)
	fs.metrics.OpenHandles.Set(float64(fs.handles.Active()))
	return err
}

// ReadFile returns the whole content of name.
func (fs *FS) ReadFile(name string) ([]byte, error) {
	h, size, err := fs.OpenRead(name, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fs.Close(h) }()

	buf := make([]byte, size)
	n, err := io.ReadFull(handleReader{fs: fs, h: h}, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	fs.metrics.FilesLoaded.Inc()
	return buf[:n], nil
}

// WriteFile replaces name in the writable game directory with data.
func (fs *FS) WriteFile(name string, data []byte) error {
	h, err := fs.OpenWrite(name)
	if err != nil {
		return err
	}
	_, werr := fs.Write(h, data)
	cerr := fs.Close(h)
	if werr != nil {
		return werr
	}
	return cerr
}

type handleReader struct {
	fs *FS
	h  Handle
}

func (r handleReader) Read(p []byte) (int, error) {
	return r.fs.Read(r.h, p)
}

// OpenFiles lists the open handles.
func (fs *FS) OpenFiles() []handle.Info {
	fs.mustInit("handles")
	return fs.handles.Open()
}
