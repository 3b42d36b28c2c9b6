// Package listing enumerates virtual directories across every layer of a
// search path chain.
package listing

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/qpath"
	"github.com/sunumi/pakfs/internal/searchpath"
)

// MaxFound caps the number of names one listing returns.
const MaxFound = 0x1000

// DirsOnly as the extension lists directories instead of files.
const DirsOnly = "/"

// Filter decides which layers may contribute to a listing.
type Filter interface {
	Restricted() bool
	IsPure(a *archive.Archive) bool
}

// Lister lists names from Layers. Loose directories are skipped while
// Filter is restricted unless AllowLoose is set.
type Lister struct {
	Layers     []*searchpath.Layer
	Filter     Filter
	AllowLoose bool
}

type collector struct {
	names []string
	seen  map[string]struct{}
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

// add appends name unless a case-insensitive duplicate is present. It
// reports false once the result is full.
func (c *collector) add(name string) bool {
	if len(c.names) >= MaxFound {
		return false
	}
	key := qpath.Normalize(name)
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = struct{}{}
	c.names = append(c.names, name)
	return len(c.names) < MaxFound
}

func (l Lister) archiveAllowed(a *archive.Archive) bool {
	return l.Filter == nil || l.Filter.IsPure(a)
}

func (l Lister) looseAllowed() bool {
	return l.Filter == nil || !l.Filter.Restricted() || l.AllowLoose
}

func trimPath(path string) string {
	path = qpath.Clean(path)
	return strings.TrimSuffix(path, "/")
}

// List returns the names below path ending in ext, relative to path, in
// first-seen order across layers. Archive entries may sit one directory
// below path (two at the root); loose directories are listed one level deep.
// ext DirsOnly lists directories.
func (l Lister) List(path, ext string) []string {
	if qpath.IsTraversal(path) {
		return nil
	}
	path = trimPath(path)
	_, pathDepth := qpath.Split(path)
	c := newCollector()

	for _, layer := range l.Layers {
		if layer.Archive != nil {
			if !l.archiveAllowed(layer.Archive) {
				continue
			}
			if !l.listArchive(c, layer.Archive, path, pathDepth, ext) {
				break
			}
			continue
		}
		if !l.looseAllowed() {
			continue
		}
		if !listDir(c, filepath.Join(layer.Dir.Path(), filepath.FromSlash(path)), ext) {
			break
		}
	}
	return c.names
}

func (l Lister) listArchive(c *collector, a *archive.Archive, path string, pathDepth int, ext string) bool {
	for _, rec := range a.Records() {
		name := rec.Name
		dir, depth := qpath.Split(name)
		if depth-pathDepth > 2 || len(dir) < len(path) || !qpath.HasPrefixFold(name, path) {
			continue
		}
		if path != "" && len(name) > len(path) && name[len(path)] != '/' {
			continue
		}
		if strings.HasSuffix(name, "/") != (ext == DirsOnly) || !qpath.HasExt(name, ext) {
			continue
		}
		rel := name[len(path):]
		rel = strings.TrimPrefix(rel, "/")
		rel = strings.TrimSuffix(rel, "/")
		if rel == "" {
			continue
		}
		if !c.add(rel) {
			return false
		}
	}
	return true
}

func listDir(c *collector, dir, ext string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	dirsOnly := ext == DirsOnly
	for _, e := range entries {
		if e.IsDir() != dirsOnly {
			continue
		}
		if !dirsOnly && !qpath.HasExt(e.Name(), ext) {
			continue
		}
		if !c.add(e.Name()) {
			return false
		}
	}
	return true
}

// ListFiltered returns full virtual names below path that match the glob
// pattern, ignoring case. A pattern without a separator also matches in any
// subdirectory. ext, when set, must also match.
func (l Lister) ListFiltered(path, ext, pattern string) ([]string, error) {
	if qpath.IsTraversal(path) || qpath.IsTraversal(pattern) {
		return nil, nil
	}
	patterns, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	path = trimPath(path)
	c := newCollector()

	match := func(name string) bool {
		if ext != "" && ext != DirsOnly && !qpath.HasExt(name, ext) {
			return false
		}
		lower := qpath.Normalize(name)
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, lower); ok {
				return true
			}
		}
		return false
	}

	for _, layer := range l.Layers {
		if layer.Archive != nil {
			if !l.archiveAllowed(layer.Archive) {
				continue
			}
			full := true
			for _, rec := range layer.Archive.Records() {
				name := strings.TrimSuffix(rec.Name, "/")
				if path != "" && !qpath.HasPrefixFold(name, path+"/") {
					continue
				}
				if match(name) && !c.add(name) {
					full = false
					break
				}
			}
			if !full {
				break
			}
			continue
		}
		if !l.looseAllowed() {
			continue
		}
		if !walkDir(c, layer.Dir.Path(), path, match) {
			break
		}
	}
	return c.names, nil
}

func compile(pattern string) ([]string, error) {
	p := strings.ToLower(qpath.Clean(pattern))
	if !doublestar.ValidatePattern(p) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	patterns := []string{p}
	if !strings.Contains(p, "/") {
		patterns = append(patterns, "**/"+p)
	}
	return patterns, nil
}

// walkDir visits every entry below root/path and adds the matching virtual
// names.
func walkDir(c *collector, root, path string, match func(string) bool) bool {
	base := filepath.Join(root, filepath.FromSlash(path))
	full := true
	_ = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == base {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || !filepath.IsLocal(rel) {
			return nil
		}
		name := filepath.ToSlash(rel)
		if match(name) && !c.add(name) {
			full = false
			return filepath.SkipAll
		}
		return nil
	})
	return full
}

// Sort orders names ignoring case and separator style.
func Sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return qpath.Compare(names[i], names[j]) < 0
	})
}
