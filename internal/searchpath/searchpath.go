// Package searchpath maintains the ordered chain of layers that make up the
// virtual namespace. Earlier layers win lookups.
package searchpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/qpath"
)

// Lookup failures. Both wrap fserr.ErrNotFound.
var (
	ErrTraversal = fmt.Errorf("%w: directory traversal", fserr.ErrNotFound)
	ErrFiltered  = fmt.Errorf("%w: denied by pure restriction", fserr.ErrNotFound)
)

// Directory is a loose OS directory layer. Archive-style directories are
// directory layers whose Subdir ends in the archive-directory extension.
type Directory struct {
	Root    string // OS base path
	Subdir  string // path below Root, normally the game directory
	GameDir string // game directory the layer belongs to
}

// Path returns the OS path of the directory.
func (d *Directory) Path() string {
	return filepath.Join(d.Root, d.Subdir)
}

// Layer is one entry in the chain: exactly one of Dir or Archive is set.
type Layer struct {
	Dir     *Directory
	Archive *archive.Archive
}

// IsArchive reports whether the layer is backed by an archive container.
func (l *Layer) IsArchive() bool {
	return l.Archive != nil
}

// GameDir returns the game directory the layer was added under.
func (l *Layer) GameDir() string {
	if l.Archive != nil {
		return l.Archive.GameDir
	}
	return l.Dir.GameDir
}

func (l *Layer) String() string {
	if l.Archive != nil {
		return l.Archive.Path
	}
	return l.Dir.Path()
}

// Filter narrows which layers may satisfy a lookup.
type Filter interface {
	// ArchiveAllowed reports whether a may supply name.
	ArchiveAllowed(a *archive.Archive, name string) bool
	// LooseAllowed reports whether name may come from a loose directory.
	LooseAllowed(name string) bool
}

// Unrestricted lets every layer through.
type Unrestricted struct{}

func (Unrestricted) ArchiveAllowed(*archive.Archive, string) bool { return true }
func (Unrestricted) LooseAllowed(string) bool                     { return true }

// Hit is the result of a successful Resolve.
type Hit struct {
	Layer  *Layer
	Record *archive.Record // set for archive hits
	OSPath string          // set for directory hits
	Size   int64
}

// AddResult summarizes one AddLayer call.
type AddResult struct {
	Archives    int // archives loaded
	ArchiveDirs int // archive-style directories added
	Files       int // entries across loaded archives
	Failed      int // containers that could not be parsed
}

// Options configures a Chain.
type Options struct {
	ArchiveExt    string // e.g. ".pk3"
	ArchiveDirExt string // e.g. ".pk3dir"
	Logger        zerolog.Logger
}

// Chain is the ordered list of layers.
type Chain struct {
	layers []*Layer
	opts   Options
	logger zerolog.Logger
}

// New returns an empty chain.
func New(opts Options) *Chain {
	if opts.ArchiveExt == "" {
		opts.ArchiveExt = ".pk3"
	}
	if opts.ArchiveDirExt == "" {
		opts.ArchiveDirExt = opts.ArchiveExt + "dir"
	}
	return &Chain{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "searchpath").Logger(),
	}
}

// Layers returns the layers in priority order. The slice must not be
// modified.
func (c *Chain) Layers() []*Layer {
	return c.layers
}

// Len returns the number of layers.
func (c *Chain) Len() int {
	return len(c.layers)
}

// Archives returns the archive layers' archives in priority order.
func (c *Chain) Archives() []*archive.Archive {
	var out []*archive.Archive
	for _, l := range c.layers {
		if l.Archive != nil {
			out = append(out, l.Archive)
		}
	}
	return out
}

// HasDirectory reports whether a (root, subdir) directory layer is present.
func (c *Chain) HasDirectory(root, subdir string) bool {
	for _, l := range c.layers {
		if l.Dir == nil {
			continue
		}
		if qpath.Equal(l.Dir.Root, root) && qpath.Equal(l.Dir.Subdir, subdir) {
			return true
		}
	}
	return false
}

// AddLayer scans root/subdir for archives and archive-style directories and
// stacks them, followed by the directory itself, above every existing layer.
// Within the batch archives are ordered so that the lexically last name has
// the highest priority; the plain directory has the lowest. Archive-style
// directories are skipped while pure is set. Adding an existing (root,
// subdir) pair is a no-op.
func (c *Chain) AddLayer(root, subdir string, salt int32, pure bool) AddResult {
	var res AddResult
	if c.HasDirectory(root, subdir) {
		return res
	}

	dir := filepath.Join(root, subdir)
	paks, pakDirs := c.scan(dir, pure)

	batch := make([]*Layer, 0, len(paks)+len(pakDirs)+1)
	i, j := 0, 0
	for i < len(paks) || j < len(pakDirs) {
		takePak := j >= len(pakDirs) || (i < len(paks) && qpath.Compare(paks[i], pakDirs[j]) < 0)
		if takePak {
			name := paks[i]
			i++
			a, err := archive.Load(filepath.Join(dir, name), qpath.TrimExt(name, c.opts.ArchiveExt), salt)
			if err != nil {
				res.Failed++
				c.logger.Warn().Err(err).Str("path", filepath.Join(dir, name)).Msg("skipping unreadable archive")
				continue
			}
			a.GameDir = subdir
			res.Archives++
			res.Files += a.NumFiles()
			batch = append(batch, &Layer{Archive: a})
			continue
		}
		name := pakDirs[j]
		j++
		res.ArchiveDirs++
		batch = append(batch, &Layer{Dir: &Directory{
			Root:    root,
			Subdir:  filepath.Join(subdir, name),
			GameDir: subdir,
		}})
	}

	// batch is in ascending lexical order; the last name must win.
	for l, r := 0, len(batch)-1; l < r; l, r = l+1, r-1 {
		batch[l], batch[r] = batch[r], batch[l]
	}
	batch = append(batch, &Layer{Dir: &Directory{Root: root, Subdir: subdir, GameDir: subdir}})

	c.layers = append(batch, c.layers...)

	c.logger.Debug().
		Str("path", dir).
		Int("archives", res.Archives).
		Int("archive_dirs", res.ArchiveDirs).
		Int("failed", res.Failed).
		Msg("added search path")
	return res
}

// scan returns the sorted archive file names and archive-style directory
// names directly inside dir. A missing directory yields nothing.
func (c *Chain) scan(dir string, pure bool) (paks, pakDirs []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", dir).Msg("cannot read directory")
		}
		return nil, nil
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			if !pure && qpath.HasExt(name, c.opts.ArchiveDirExt) {
				pakDirs = append(pakDirs, name)
			}
		case qpath.HasExt(name, c.opts.ArchiveExt):
			paks = append(paks, name)
		}
	}
	sortNames(paks)
	sortNames(pakDirs)
	return paks, pakDirs
}

func sortNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return qpath.Compare(names[i], names[j]) < 0
	})
}

// Resolve finds the highest-priority layer holding name. Layers rejected by
// filter are skipped and the scan continues. Names that could escape a layer
// root fail with ErrTraversal.
func (c *Chain) Resolve(name string, filter Filter) (Hit, error) {
	if filter == nil {
		filter = Unrestricted{}
	}
	if qpath.IsTraversal(name) {
		c.logger.Warn().Str("name", name).Msg("refusing directory traversal")
		return Hit{}, ErrTraversal
	}
	clean := qpath.Clean(name)
	if clean == "" {
		return Hit{}, fserr.ErrNotFound
	}

	denied := false
	for _, l := range c.layers {
		if l.Archive != nil {
			rec, ok := l.Archive.Lookup(clean)
			if !ok {
				continue
			}
			if !filter.ArchiveAllowed(l.Archive, clean) {
				denied = true
				continue
			}
			return Hit{Layer: l, Record: rec, Size: rec.Size}, nil
		}

		osPath := filepath.Join(l.Dir.Path(), filepath.FromSlash(clean))
		fi, err := os.Stat(osPath)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if !filter.LooseAllowed(clean) {
			denied = true
			continue
		}
		return Hit{Layer: l, OSPath: osPath, Size: fi.Size()}, nil
	}

	if denied {
		return Hit{}, ErrFiltered
	}
	return Hit{}, fserr.ErrNotFound
}

// Reorder applies Reorder to the chain in place and reports whether the
// order changed.
func (c *Chain) Reorder(authority []int32) bool {
	out, changed := Reorder(c.layers, authority)
	if changed {
		c.layers = out
	}
	return changed
}

// Reorder returns layers with the archives named by authority moved to the
// front in authority order. For each checksum the first archive with that
// local checksum is taken; all other layers keep their relative order. The
// input slice is not modified.
func Reorder(layers []*Layer, authority []int32) ([]*Layer, bool) {
	rest := append([]*Layer(nil), layers...)
	out := make([]*Layer, 0, len(layers))
	for _, sum := range authority {
		for i, l := range rest {
			if l.Archive != nil && l.Archive.Checksum == sum {
				out = append(out, l)
				rest = append(rest[:i], rest[i+1:]...)
				break
			}
		}
	}
	out = append(out, rest...)

	changed := false
	for i := range out {
		if out[i] != layers[i] {
			changed = true
			break
		}
	}
	return out, changed
}

// Close releases every archive and empties the chain.
func (c *Chain) Close() error {
	var errs []error
	for _, l := range c.layers {
		if l.Archive != nil {
			if err := l.Archive.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.layers = nil
	return errors.Join(errs...)
}
