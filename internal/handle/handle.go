// Package handle implements the bounded table of open file streams. A handle
// is backed either by an OS file or by a forward-only cursor into an archive
// entry; the backing never changes after open.
package handle

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
)

// Handle identifies an open stream. Zero is never a valid handle.
type Handle int

// Kind is the backing variant of a handle.
type Kind int

const (
	// Direct handles wrap an OS file.
	Direct Kind = iota
	// InArchive handles read one archive entry.
	InArchive
)

func (k Kind) String() string {
	if k == InArchive {
		return "archive"
	}
	return "direct"
}

// DefaultCapacity matches the historical engine limit.
const DefaultCapacity = 64

// DefaultScratchSize bounds each discard read during seek emulation.
const DefaultScratchSize = 64 * 1024

// Info describes an open handle.
type Info struct {
	Handle    Handle
	Name      string
	Kind      Kind
	Archive   *archive.Archive // InArchive only
	Exclusive bool             // InArchive only
	Writable  bool
}

type archiveStream struct {
	archive   *archive.Archive
	record    *archive.Record
	exclusive bool
	decoder   *zip.ReadCloser // private decoder, exclusive only
	cursor    io.ReadCloser
	pos       int64
}

type slot struct {
	used        bool
	name        string
	kind        Kind
	file        *os.File
	writable    bool
	syncOnWrite bool
	arc         *archiveStream
}

// Table is a fixed-capacity slab of handles with a free list. It is not safe
// for concurrent use.
type Table struct {
	slots   []slot // slot 0 is the invalid sentinel
	free    []Handle
	scratch []byte
	active  int
}

// New returns a table with room for capacity handles. Seeks on archive
// handles discard at most scratchSize bytes per read.
func New(capacity, scratchSize int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if scratchSize <= 0 {
		scratchSize = DefaultScratchSize
	}
	t := &Table{
		slots:   make([]slot, capacity+1),
		free:    make([]Handle, 0, capacity),
		scratch: make([]byte, scratchSize),
	}
	for h := capacity; h >= 1; h-- {
		t.free = append(t.free, Handle(h))
	}
	return t
}

// Capacity returns the maximum number of simultaneously open handles.
func (t *Table) Capacity() int {
	return len(t.slots) - 1
}

// Active returns the number of open handles.
func (t *Table) Active() int {
	return t.active
}

func (t *Table) allocate(op string) Handle {
	if len(t.free) == 0 {
		fserr.Fatalf(op, fserr.ErrHandlesExhausted, "%d handles open", t.Capacity())
	}
	h := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.active++
	return h
}

func (t *Table) release(h Handle) {
	t.slots[h] = slot{}
	t.free = append(t.free, h)
	t.active--
}

func (t *Table) get(h Handle) (*slot, error) {
	if h <= 0 || int(h) >= len(t.slots) || !t.slots[h].used {
		return nil, fmt.Errorf("%w: %d", fserr.ErrInvalidHandle, h)
	}
	return &t.slots[h], nil
}

// OpenDirect takes ownership of f. Running out of handles is fatal.
func (t *Table) OpenDirect(name string, f *os.File, writable, syncOnWrite bool) Handle {
	h := t.allocate("open " + name)
	t.slots[h] = slot{
		used:        true,
		name:        name,
		kind:        Direct,
		file:        f,
		writable:    writable,
		syncOnWrite: syncOnWrite,
	}
	return h
}

// OpenInArchive opens rec for reading. Exclusive handles own a private
// decoder; shared handles use the archive's canonical decoder and must not
// be read concurrently with another shared handle. Running out of handles is
// fatal.
func (t *Table) OpenInArchive(name string, a *archive.Archive, rec *archive.Record, exclusive bool) (Handle, error) {
	h := t.allocate("open " + name)

	s := &archiveStream{archive: a, record: rec, exclusive: exclusive}
	if exclusive {
		zr, err := a.OpenDecoder()
		if err != nil {
			t.release(h)
			return 0, err
		}
		s.decoder = zr
	}
	if err := s.open(); err != nil {
		if s.decoder != nil {
			_ = s.decoder.Close()
		}
		t.release(h)
		return 0, err
	}

	t.slots[h] = slot{used: true, name: name, kind: InArchive, arc: s}
	return h, nil
}

func (s *archiveStream) open() error {
	var (
		rc  io.ReadCloser
		err error
	)
	if s.decoder != nil {
		rc, err = archive.OpenEntry(&s.decoder.Reader, s.record)
	} else {
		rc, err = s.archive.Open(s.record)
	}
	if err != nil {
		return fmt.Errorf("open %s in %s: %w", s.record.Name, s.archive.Path, err)
	}
	s.cursor = rc
	s.pos = 0
	return nil
}

// reopen rewinds to the start of the entry. The current cursor stays in
// place when the entry cannot be opened again.
func (s *archiveStream) reopen() error {
	old := s.cursor
	if err := s.open(); err != nil {
		return err
	}
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *archiveStream) read(p []byte) (int, error) {
	if s.cursor == nil {
		return 0, fmt.Errorf("read %s: %w", s.record.Name, fserr.ErrInvalidHandle)
	}
	n, err := s.cursor.Read(p)
	s.pos += int64(n)
	return n, err
}

// discard advances the cursor by n bytes in scratch-sized reads.
func (s *archiveStream) discard(n int64, scratch []byte) error {
	for n > 0 {
		chunk := scratch
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		read, err := s.read(chunk)
		n -= int64(read)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *archiveStream) close() error {
	var err error
	if s.cursor != nil {
		err = s.cursor.Close()
		s.cursor = nil
	}
	if s.decoder != nil {
		if derr := s.decoder.Close(); err == nil {
			err = derr
		}
		s.decoder = nil
	}
	return err
}

// Read reads from the handle. It returns io.EOF at the end of the stream.
func (t *Table) Read(h Handle, p []byte) (int, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if s.kind == InArchive {
		return s.arc.read(p)
	}
	return s.file.Read(p)
}

// Write writes to a writable direct handle, syncing afterwards when the
// handle was opened sync-on-write.
func (t *Table) Write(h Handle, p []byte) (int, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if s.kind != Direct || !s.writable {
		return 0, fmt.Errorf("%w: %s", fserr.ErrNotWritable, s.name)
	}
	n, err := s.file.Write(p)
	if err != nil {
		return n, err
	}
	if s.syncOnWrite {
		if err := s.file.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Seek moves the stream position. origin is io.SeekStart, io.SeekCurrent or
// io.SeekEnd; anything else is fatal.
//
// Archive handles cannot seek natively: a backward seek reopens the entry and
// every seek then discards bytes up to the target, so the cost is
// proportional to the distance travelled. Targets past the end stop at the
// end of the entry.
func (t *Table) Seek(h Handle, offset int64, origin int) (int64, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if origin != io.SeekStart && origin != io.SeekCurrent && origin != io.SeekEnd {
		fserr.Fatalf("seek "+s.name, fserr.ErrBadOrigin, "origin %d", origin)
	}
	if s.kind == Direct {
		return s.file.Seek(offset, origin)
	}

	a := s.arc
	var target int64
	switch origin {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = a.pos + offset
	case io.SeekEnd:
		target = a.record.Size + offset
	}
	if target < 0 {
		return a.pos, fmt.Errorf("seek %s: negative position %d", s.name, target)
	}
	if target > a.record.Size {
		target = a.record.Size
	}

	if target < a.pos {
		if err := a.reopen(); err != nil {
			return 0, err
		}
	}
	if err := a.discard(target-a.pos, t.scratch); err != nil {
		return a.pos, fmt.Errorf("seek %s: %w", s.name, err)
	}
	return a.pos, nil
}

// Tell returns the current stream position.
func (t *Table) Tell(h Handle) (int64, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if s.kind == InArchive {
		return s.arc.pos, nil
	}
	return s.file.Seek(0, io.SeekCurrent)
}

// Length returns the size of the underlying file or archive entry.
func (t *Table) Length(h Handle) (int64, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if s.kind == InArchive {
		return s.arc.record.Size, nil
	}
	fi, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Flush commits buffered writes of a direct handle to stable storage.
func (t *Table) Flush(h Handle) error {
	s, err := t.get(h)
	if err != nil {
		return err
	}
	if s.kind != Direct {
		return nil
	}
	return s.file.Sync()
}

// Info describes h.
func (t *Table) Info(h Handle) (Info, error) {
	s, err := t.get(h)
	if err != nil {
		return Info{}, err
	}
	info := Info{Handle: h, Name: s.name, Kind: s.kind, Writable: s.writable}
	if s.arc != nil {
		info.Archive = s.arc.archive
		info.Exclusive = s.arc.exclusive
	}
	return info, nil
}

// Open returns every open handle in slot order.
func (t *Table) Open() []Info {
	var out []Info
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].used {
			info, _ := t.Info(Handle(i))
			out = append(out, info)
		}
	}
	return out
}

// Close closes h and returns its slot to the free list. Shared archive
// handles close only their entry cursor; the archive's canonical decoder
// stays open.
func (t *Table) Close(h Handle) error {
	s, err := t.get(h)
	if err != nil {
		return err
	}
	if s.kind == InArchive {
		err = s.arc.close()
	} else {
		err = s.file.Close()
	}
	t.release(h)
	return err
}

// CloseAll closes every open handle.
func (t *Table) CloseAll() error {
	var errs []error
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].used {
			if err := t.Close(Handle(i)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
