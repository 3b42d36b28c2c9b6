package handle

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/testutil"
)

const payload = "0123456789abcdefghijklmnopqrstuvwxyz"

func loadArchive(t *testing.T) (*archive.Archive, *archive.Record) {
	t.Helper()
	dir := t.TempDir()
	big := strings.Repeat(payload, 100)
	path := testutil.WriteZip(t, dir, "pak.pk3", testutil.Entries("data.bin", big, "small.txt", payload))
	a, err := archive.Load(path, "pak", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	rec, ok := a.Lookup("small.txt")
	require.True(t, ok)
	return a, rec
}

func readN(t *testing.T, tbl *Table, h Handle, n int) string {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := tbl.Read(h, buf[got:])
		got += m
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return string(buf[:got])
}

func TestNew_Defaults(t *testing.T) {
	tbl := New(0, 0)
	assert.Equal(t, DefaultCapacity, tbl.Capacity())
	assert.Len(t, tbl.scratch, DefaultScratchSize)
	assert.Equal(t, 0, tbl.Active())
}

func TestAllocate_StartsAtOneAndReusesFreedSlots(t *testing.T) {
	a, rec := loadArchive(t)
	tbl := New(4, 16)

	h1, err := tbl.OpenInArchive("small.txt", a, rec, true)
	require.NoError(t, err)
	h2, err := tbl.OpenInArchive("small.txt", a, rec, true)
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h1)
	assert.Equal(t, Handle(2), h2)

	require.NoError(t, tbl.Close(h1))
	h3, err := tbl.OpenInArchive("small.txt", a, rec, true)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)
	assert.Equal(t, 2, tbl.Active())
	require.NoError(t, tbl.CloseAll())
	assert.Equal(t, 0, tbl.Active())
}

func TestExhaustionIsFatal(t *testing.T) {
	a, rec := loadArchive(t)
	tbl := New(2, 16)

	for i := 0; i < 2; i++ {
		_, err := tbl.OpenInArchive("small.txt", a, rec, true)
		require.NoError(t, err)
	}
	testutil.RequireFatal(t, fserr.ErrHandlesExhausted, func() {
		_, _ = tbl.OpenInArchive("small.txt", a, rec, true)
	})
	assert.Equal(t, 2, tbl.Active())
	require.NoError(t, tbl.CloseAll())
}

func TestInvalidHandles(t *testing.T) {
	tbl := New(2, 16)
	for _, h := range []Handle{0, -1, 1, 3} {
		_, err := tbl.Read(h, make([]byte, 1))
		assert.ErrorIs(t, err, fserr.ErrInvalidHandle, "handle %d", h)
		assert.ErrorIs(t, tbl.Close(h), fserr.ErrInvalidHandle)
	}
}

func TestArchiveSeekMatchesReopen(t *testing.T) {
	a, _ := loadArchive(t)
	rec, ok := a.Lookup("data.bin")
	require.True(t, ok)

	tbl := New(4, 7) // small scratch forces several discard reads
	h, err := tbl.OpenInArchive("data.bin", a, rec, true)
	require.NoError(t, err)

	first := readN(t, tbl, h, 50)
	_ = readN(t, tbl, h, 1000)

	pos, err := tbl.Seek(h, 0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, first, readN(t, tbl, h, 50))

	fresh, err := tbl.OpenInArchive("data.bin", a, rec, true)
	require.NoError(t, err)
	_, err = tbl.Seek(h, 0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, readN(t, tbl, fresh, 300), readN(t, tbl, h, 300))

	require.NoError(t, tbl.CloseAll())
}

func TestFailedRewindKeepsHandleUsable(t *testing.T) {
	a, _ := loadArchive(t)
	rec, ok := a.Lookup("data.bin")
	require.True(t, ok)

	tbl := New(4, 16)
	h, err := tbl.OpenInArchive("data.bin", a, rec, false)
	require.NoError(t, err)
	assert.Equal(t, payload[:10], readN(t, tbl, h, 10))

	require.NoError(t, a.Close())
	_, err = tbl.Seek(h, 0, io.SeekStart)
	require.Error(t, err)

	pos, err := tbl.Tell(h)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
	assert.NotPanics(t, func() {
		_, _ = tbl.Read(h, make([]byte, 8))
	})
	_ = tbl.Close(h)
	assert.Equal(t, 0, tbl.Active())
}

func TestArchiveSeekOrigins(t *testing.T) {
	a, rec := loadArchive(t)
	tbl := New(4, 4)
	h, err := tbl.OpenInArchive("small.txt", a, rec, false)
	require.NoError(t, err)
	defer func() { _ = tbl.Close(h) }()

	pos, err := tbl.Seek(h, 10, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
	assert.Equal(t, "ab", readN(t, tbl, h, 2))

	pos, err = tbl.Seek(h, 3, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pos)
	assert.Equal(t, "f", readN(t, tbl, h, 1))

	pos, err = tbl.Seek(h, -2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)-2), pos)
	assert.Equal(t, "yz", readN(t, tbl, h, 5))

	tell, err := tbl.Tell(h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), tell)

	pos, err = tbl.Seek(h, 1000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), pos)

	_, err = tbl.Seek(h, -1, io.SeekStart)
	assert.Error(t, err)

	testutil.RequireFatal(t, fserr.ErrBadOrigin, func() {
		_, _ = tbl.Seek(h, 0, 7)
	})

	length, err := tbl.Length(h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), length)
}

func TestSharedHandleLeavesCanonicalDecoderOpen(t *testing.T) {
	a, rec := loadArchive(t)
	tbl := New(4, 16)

	h, err := tbl.OpenInArchive("small.txt", a, rec, false)
	require.NoError(t, err)
	assert.Equal(t, "0123", readN(t, tbl, h, 4))
	require.NoError(t, tbl.Close(h))

	h, err = tbl.OpenInArchive("small.txt", a, rec, false)
	require.NoError(t, err)
	assert.Equal(t, payload, readN(t, tbl, h, 100))
	info, err := tbl.Info(h)
	require.NoError(t, err)
	assert.Equal(t, InArchive, info.Kind)
	assert.False(t, info.Exclusive)
	assert.Same(t, a, info.Archive)
	require.NoError(t, tbl.Close(h))
}

func TestArchiveHandleIsNotWritable(t *testing.T) {
	a, rec := loadArchive(t)
	tbl := New(4, 16)
	h, err := tbl.OpenInArchive("small.txt", a, rec, true)
	require.NoError(t, err)
	defer func() { _ = tbl.Close(h) }()

	_, err = tbl.Write(h, []byte("x"))
	assert.ErrorIs(t, err, fserr.ErrNotWritable)
	assert.NoError(t, tbl.Flush(h))
}

func TestDirectHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	f, err := os.Create(path)
	require.NoError(t, err)

	tbl := New(4, 16)
	h := tbl.OpenDirect("out.txt", f, true, true)

	n, err := tbl.Write(h, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, tbl.Flush(h))

	length, err := tbl.Length(h)
	require.NoError(t, err)
	assert.Equal(t, int64(11), length)

	tell, err := tbl.Tell(h)
	require.NoError(t, err)
	assert.Equal(t, int64(11), tell)

	assert.Len(t, tbl.Open(), 1)
	require.NoError(t, tbl.Close(h))
	assert.Empty(t, tbl.Open())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	rf, err := os.Open(path)
	require.NoError(t, err)
	h = tbl.OpenDirect("out.txt", rf, false, false)
	_, err = tbl.Write(h, []byte("x"))
	assert.ErrorIs(t, err, fserr.ErrNotWritable)
	_, err = tbl.Seek(h, 6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, "world", readN(t, tbl, h, 5))
	require.NoError(t, tbl.Close(h))
}
