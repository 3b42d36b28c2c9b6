package vfs

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sunumi/pakfs/internal/listing"
	"github.com/sunumi/pakfs/internal/metrics"
	"github.com/sunumi/pakfs/internal/qpath"
)

func (fs *FS) lister() listing.Lister {
	return listing.Lister{Layers: fs.chain.Layers(), Filter: fs.validator}
}

// ListFiles lists names below path ending in ext, relative to path. ext "/"
// lists directories. Loose directories are skipped under a pure restriction.
func (fs *FS) ListFiles(path, ext string) []string {
	fs.mustInit("list files")
	if fs.refuseTraversal(path) {
		return nil
	}
	return fs.lister().List(path, ext)
}

// ListFilteredFiles lists full names below path matching the glob pattern.
func (fs *FS) ListFilteredFiles(path, ext, pattern string) ([]string, error) {
	fs.mustInit("list filtered files")
	if fs.refuseTraversal(path) || fs.refuseTraversal(pattern) {
		return nil, nil
	}
	return fs.lister().ListFiltered(path, ext, pattern)
}

func (fs *FS) refuseTraversal(name string) bool {
	if !qpath.IsTraversal(name) {
		return false
	}
	fs.logger.Warn().Str("name", name).Msg("refusing directory traversal")
	fs.metrics.Lookup(metrics.LookupTraversal)
	return true
}

// PrintPath writes the search path, pure status and open handles.
func (fs *FS) PrintPath(w io.Writer) {
	fs.mustInit("path")
	_, _ = fmt.Fprintln(w, "We are looking in the current search path:")
	restricted := fs.validator.Restricted()
	for _, l := range fs.chain.Layers() {
		if a := l.Archive; a != nil {
			_, _ = fmt.Fprintf(w, "%s (%d files)\n", a.Path, a.NumFiles())
			if restricted {
				if fs.validator.IsPure(a) {
					_, _ = fmt.Fprintln(w, "    on the pure list")
				} else {
					_, _ = fmt.Fprintln(w, "    not on the pure list")
				}
			}
			continue
		}
		_, _ = fmt.Fprintln(w, l.Dir.Path())
	}
	_, _ = fmt.Fprintln(w)
	for _, info := range fs.handles.Open() {
		_, _ = fmt.Fprintf(w, "handle %d: %s\n", info.Handle, info.Name)
	}
}

// Dir writes the listing of path filtered by ext.
func (fs *FS) Dir(w io.Writer, path, ext string) {
	names := fs.ListFiles(path, ext)
	_, _ = fmt.Fprintf(w, "Directory of %s %s\n", path, ext)
	_, _ = fmt.Fprintln(w, "---------------")
	for _, n := range names {
		_, _ = fmt.Fprintln(w, n)
	}
}

// NewDir writes every name matching pattern, sorted.
func (fs *FS) NewDir(w io.Writer, pattern string) error {
	names, err := fs.ListFilteredFiles("", "", pattern)
	if err != nil {
		return err
	}
	listing.Sort(names)
	_, _ = fmt.Fprintln(w, "---------------")
	for _, n := range names {
		_, _ = fmt.Fprintln(w, filepath.FromSlash(n))
	}
	_, _ = fmt.Fprintf(w, "%d files listed\n", len(names))
	return nil
}

// Which writes the layer name resolves from and reports whether it was
// found.
func (fs *FS) Which(w io.Writer, name string) bool {
	info, err := fs.Lookup(name)
	if err != nil {
		_, _ = fmt.Fprintf(w, "File not found: %q\n", name)
		return false
	}
	if info.Archive != "" {
		_, _ = fmt.Fprintf(w, "File %q found in %q\n", name, info.Archive)
	} else {
		_, _ = fmt.Fprintf(w, "File %q found at %q\n", name, info.Layer)
	}
	return true
}

// TouchFile opens and closes name so its archive is marked referenced.
func (fs *FS) TouchFile(name string) error {
	h, _, err := fs.OpenRead(name, false)
	if err != nil {
		return err
	}
	return fs.Close(h)
}
