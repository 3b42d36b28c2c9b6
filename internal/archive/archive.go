// Package archive parses zip-format archive containers ("paks") into an
// in-memory directory with per-archive identity checksums.
package archive

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/sunumi/pakfs/internal/checksum"
	"github.com/sunumi/pakfs/internal/qpath"
)

// RefFlags records how an archive contributed content during a session.
type RefFlags uint8

const (
	// RefGeneral marks an archive that supplied non-boilerplate content.
	RefGeneral RefFlags = 1 << iota
	// RefUI marks an archive that supplied the UI module.
	RefUI
	// RefClientModule marks an archive that supplied the client module.
	RefClientModule
	// RefGame marks an archive that supplied the game module.
	RefGame
)

// RefAll covers every reference flag.
const RefAll = RefGeneral | RefUI | RefClientModule | RefGame

var (
	errCorrupt = errors.New("corrupt archive")
	errClosed  = errors.New("archive closed")
)

// Record describes one entry of an archive.
type Record struct {
	Name   string // normalized
	Offset int64  // start of the entry data inside the container
	Size   int64  // uncompressed length
	pos    int    // position in the container directory
}

// Archive is a parsed archive container. Everything except Referenced is
// immutable after Load.
type Archive struct {
	Path         string // OS path of the container
	BaseName     string // logical name, archive extension stripped
	Dir          string // OS directory holding the container
	GameDir      string // game directory the archive was found under
	Checksum     int32  // local identity checksum
	PureChecksum int32  // salted checksum for the current session
	Referenced   RefFlags

	records []Record
	index   *Index[int]
	reader  *zip.ReadCloser
}

// Load parses the container at path. salt is mixed into PureChecksum only.
// The archive keeps its canonical decoder open until Close.
func Load(path, baseName string, salt int32) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	a, err := build(zr, path, baseName, salt)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	return a, nil
}

func build(zr *zip.ReadCloser, path, baseName string, salt int32) (*Archive, error) {
	a := &Archive{
		Path:     path,
		BaseName: baseName,
		Dir:      filepath.Dir(path),
		records:  make([]Record, 0, len(zr.File)),
		index:    NewIndex[int](len(zr.File)),
		reader:   zr,
	}

	words := make([]int32, 1, len(zr.File)+1)
	words[0] = salt
	for i, f := range zr.File {
		offset, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %q: %v", errCorrupt, path, f.Name, err)
		}
		if f.UncompressedSize64 > 0 {
			words = append(words, int32(f.CRC32))
		}
		rec := Record{
			Name:   qpath.Normalize(f.Name),
			Offset: offset,
			Size:   int64(f.UncompressedSize64),
			pos:    i,
		}
		a.records = append(a.records, rec)
		a.index.Insert(rec.Name, len(a.records)-1)
	}

	a.Checksum = checksum.Block(words[1:])
	a.PureChecksum = checksum.Block(words)
	return a, nil
}

// NumFiles returns the number of entries in the archive.
func (a *Archive) NumFiles() int {
	return len(a.records)
}

// TableSize returns the bucket count of the archive index.
func (a *Archive) TableSize() int {
	return a.index.Size()
}

// Records returns the entries in container order. The slice must not be
// modified.
func (a *Archive) Records() []Record {
	return a.records
}

// Lookup finds name in the archive, ignoring case and separator style.
func (a *Archive) Lookup(name string) (*Record, bool) {
	i, ok := a.index.Lookup(qpath.Normalize(name))
	if !ok {
		return nil, false
	}
	return &a.records[i], true
}

// Open starts a forward-only read of rec on the archive's canonical decoder.
// Only one such cursor may be mid-read at a time.
func (a *Archive) Open(rec *Record) (io.ReadCloser, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("archive %s: %w", a.Path, errClosed)
	}
	return OpenEntry(&a.reader.Reader, rec)
}

// OpenDecoder opens a private decoder over the container, independent of the
// canonical one.
func (a *Archive) OpenDecoder() (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", a.Path, err)
	}
	if len(zr.File) != len(a.records) {
		_ = zr.Close()
		return nil, fmt.Errorf("%w: %s changed on disk", errCorrupt, a.Path)
	}
	return zr, nil
}

// OpenEntry starts a forward-only read of rec on the given decoder.
func OpenEntry(zr *zip.Reader, rec *Record) (io.ReadCloser, error) {
	if rec.pos < 0 || rec.pos >= len(zr.File) {
		return nil, fmt.Errorf("%w: entry %q out of range", errCorrupt, rec.Name)
	}
	return zr.File[rec.pos].Open()
}

// Close releases the canonical decoder.
func (a *Archive) Close() error {
	if a.reader == nil {
		return nil
	}
	err := a.reader.Close()
	a.reader = nil
	return err
}
