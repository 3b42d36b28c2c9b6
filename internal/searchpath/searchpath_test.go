package searchpath

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/testutil"
)

func newChain() *Chain {
	return New(Options{Logger: zerolog.Nop()})
}

func layerNames(c *Chain) []string {
	var out []string
	for _, l := range c.Layers() {
		if l.Archive != nil {
			out = append(out, "pak:"+l.Archive.BaseName)
			continue
		}
		out = append(out, "dir:"+filepath.ToSlash(l.Dir.Subdir))
	}
	return out
}

type checksumFilter map[int32]bool

func (f checksumFilter) ArchiveAllowed(a *archive.Archive, _ string) bool { return f[a.Checksum] }
func (f checksumFilter) LooseAllowed(name string) bool {
	return filepath.Ext(name) == ".cfg"
}

func TestAddLayer_Ordering(t *testing.T) {
	root := t.TempDir()
	testutil.WriteZip(t, root, "base/pak0.pk3", testutil.Entries("a.txt", "0"))
	testutil.WriteZip(t, root, "base/pak1.pk3", testutil.Entries("a.txt", "1"))
	testutil.TempFile(t, root, "base/zz.pk3dir/a.txt", "dir")
	testutil.TempFile(t, root, "base/a.txt", "loose")

	c := newChain()
	res := c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	assert.Equal(t, 2, res.Archives)
	assert.Equal(t, 1, res.ArchiveDirs)
	assert.Equal(t, []string{"dir:base/zz.pk3dir", "pak:pak1", "pak:pak0", "dir:base"}, layerNames(c))
}

func TestAddLayer_LaterCallOutranksEarlier(t *testing.T) {
	root := t.TempDir()
	testutil.WriteZip(t, root, "base/pak0.pk3", testutil.Entries("a.txt", "0"))
	testutil.WriteZip(t, root, "mod/zmod.pk3", testutil.Entries("a.txt", "mod"))

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	c.AddLayer(root, "mod", 0, false)
	defer func() { _ = c.Close() }()

	assert.Equal(t, []string{"pak:zmod", "dir:mod", "pak:pak0", "dir:base"}, layerNames(c))
	for _, l := range c.Layers() {
		assert.NotEmpty(t, l.GameDir())
	}
	assert.Equal(t, "mod", c.Layers()[0].GameDir())
}

func TestAddLayer_Idempotent(t *testing.T) {
	root := t.TempDir()
	testutil.WriteZip(t, root, "base/pak0.pk3", testutil.Entries("a.txt", "0"))

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	res := c.AddLayer(root, "BASE", 0, false)
	defer func() { _ = c.Close() }()

	assert.Equal(t, AddResult{}, res)
	assert.Equal(t, 2, c.Len())
}

func TestAddLayer_SkipsCorruptArchive(t *testing.T) {
	root := t.TempDir()
	testutil.TempFile(t, root, "base/broken.pk3", "garbage")
	testutil.WriteZip(t, root, "base/good.pk3", testutil.Entries("a.txt", "ok"))

	c := newChain()
	res := c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	assert.Equal(t, 1, res.Archives)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"pak:good", "dir:base"}, layerNames(c))
}

func TestAddLayer_PureSkipsArchiveDirs(t *testing.T) {
	root := t.TempDir()
	testutil.TempFile(t, root, "base/x.pk3dir/a.txt", "dir")

	c := newChain()
	res := c.AddLayer(root, "base", 0, true)

	assert.Equal(t, 0, res.ArchiveDirs)
	assert.Equal(t, []string{"dir:base"}, layerNames(c))
}

func TestAddLayer_MissingDirectoryStillAddsLayer(t *testing.T) {
	c := newChain()
	res := c.AddLayer(t.TempDir(), "nothing", 0, false)
	assert.Equal(t, AddResult{}, res)
	assert.Equal(t, 1, c.Len())
}

func TestResolve_ArchiveOutranksDirectory(t *testing.T) {
	root := t.TempDir()
	testutil.TempFile(t, root, "base/x.txt", "0123456789")
	testutil.WriteZip(t, root, "base/a.pk3", testutil.Entries("x.txt", "abcde"))

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	hit, err := c.Resolve("x.txt", nil)
	require.NoError(t, err)
	require.NotNil(t, hit.Record)
	assert.Equal(t, int64(5), hit.Size)
	assert.Equal(t, "a", hit.Layer.Archive.BaseName)
}

func TestResolve_FallsBackToDirectory(t *testing.T) {
	root := t.TempDir()
	testutil.TempFile(t, root, "base/only/loose.txt", "loose")
	testutil.WriteZip(t, root, "base/a.pk3", testutil.Entries("x.txt", "abcde"))

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	hit, err := c.Resolve(`only\loose.txt`, Unrestricted{})
	require.NoError(t, err)
	assert.Nil(t, hit.Record)
	assert.Equal(t, filepath.Join(root, "base", "only", "loose.txt"), hit.OSPath)
	assert.Equal(t, int64(5), hit.Size)
}

func TestResolve_NotFoundAndTraversal(t *testing.T) {
	root := t.TempDir()
	testutil.TempFile(t, root, "secret.txt", "nope")

	c := newChain()
	c.AddLayer(root, "base", 0, false)

	_, err := c.Resolve("missing.cfg", nil)
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = c.Resolve("../secret.txt", nil)
	assert.ErrorIs(t, err, ErrTraversal)
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = c.Resolve("c::secret.txt", nil)
	assert.ErrorIs(t, err, ErrTraversal)

	_, err = c.Resolve("", nil)
	assert.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestResolve_FilterNarrowsPerLayer(t *testing.T) {
	root := t.TempDir()
	testutil.WriteZip(t, root, "base/a.pk3", testutil.Entries("shared.txt", "from-a"))
	testutil.WriteZip(t, root, "base/b.pk3", testutil.Entries("shared.txt", "from-b", "only-b.txt", "b"))
	testutil.TempFile(t, root, "base/autoexec.cfg", "loose cfg")
	testutil.TempFile(t, root, "base/loose.txt", "loose txt")

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	var aSum int32
	for _, a := range c.Archives() {
		if a.BaseName == "a" {
			aSum = a.Checksum
		}
	}
	filter := checksumFilter{aSum: true}

	hit, err := c.Resolve("shared.txt", filter)
	require.NoError(t, err)
	assert.Equal(t, "a", hit.Layer.Archive.BaseName)

	_, err = c.Resolve("only-b.txt", filter)
	assert.ErrorIs(t, err, ErrFiltered)
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = c.Resolve("loose.txt", filter)
	assert.ErrorIs(t, err, ErrFiltered)

	hit, err = c.Resolve("autoexec.cfg", filter)
	require.NoError(t, err)
	assert.NotEmpty(t, hit.OSPath)
}

func fakeLayers(sums ...int32) []*Layer {
	out := make([]*Layer, len(sums))
	for i, s := range sums {
		out[i] = &Layer{Archive: &archive.Archive{Checksum: s}}
	}
	return out
}

func sums(layers []*Layer) []int32 {
	out := make([]int32, len(layers))
	for i, l := range layers {
		out[i] = l.Archive.Checksum
	}
	return out
}

func TestReorder(t *testing.T) {
	const a, b, c = 10, 20, 30

	tests := []struct {
		name      string
		chain     []int32
		authority []int32
		want      []int32
		changed   bool
	}{
		{"promotes in authority order", []int32{b, a, c}, []int32{a, b}, []int32{a, b, c}, true},
		{"already ordered", []int32{a, b, c}, []int32{a, b}, []int32{a, b, c}, false},
		{"unknown checksum ignored", []int32{c, b}, []int32{a, b}, []int32{b, c}, true},
		{"empty authority", []int32{c, b, a}, nil, []int32{c, b, a}, false},
		{"first duplicate wins", []int32{c, a, a}, []int32{a}, []int32{a, c, a}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fakeLayers(tt.chain...)
			out, changed := Reorder(in, tt.authority)
			assert.Equal(t, tt.want, sums(out))
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.chain, sums(in), "input must not be modified")
		})
	}
}

func TestReorder_KeepsDirectoriesInPlace(t *testing.T) {
	dir := &Layer{Dir: &Directory{Root: "/r", Subdir: "base"}}
	pa := &Layer{Archive: &archive.Archive{Checksum: 1}}
	pb := &Layer{Archive: &archive.Archive{Checksum: 2}}

	out, changed := Reorder([]*Layer{pa, dir, pb}, []int32{2})
	assert.True(t, changed)
	assert.Equal(t, []*Layer{pb, pa, dir}, out)
}

func TestChainReorder(t *testing.T) {
	root := t.TempDir()
	testutil.WriteZip(t, root, "base/a.pk3", testutil.Entries("a.txt", "a"))
	testutil.WriteZip(t, root, "base/b.pk3", testutil.Entries("b.txt", "b"))

	c := newChain()
	c.AddLayer(root, "base", 0, false)
	defer func() { _ = c.Close() }()

	archives := c.Archives()
	require.Len(t, archives, 2)
	assert.Equal(t, "b", archives[0].BaseName)

	assert.True(t, c.Reorder([]int32{archives[1].Checksum}))
	assert.Equal(t, []string{"pak:a", "pak:b", "dir:base"}, layerNames(c))
	assert.False(t, c.Reorder([]int32{archives[1].Checksum}))
}
