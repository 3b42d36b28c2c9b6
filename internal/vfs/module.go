package vfs

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sunumi/pakfs/internal/listing"
	"github.com/sunumi/pakfs/internal/qpath"
)

// ModuleKind is the form in which a game module was found.
type ModuleKind int

const (
	// ModuleNative is a shared library in a loose directory.
	ModuleNative ModuleKind = iota
	// ModuleBytecode is a vm/<name>.qvm file.
	ModuleBytecode
)

// Module is a FindModule result.
type Module struct {
	Kind ModuleKind
	// Path is the OS path of a native library or the virtual name of the
	// bytecode file.
	Path string
	// Cursor resumes the search after this result.
	Cursor int
}

// FindModuleStart starts a FindModule search from the top of the chain.
const FindModuleStart = -1

func nativeExt() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	}
	return ".so"
}

func nativeArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	}
	return runtime.GOARCH
}

// FindModule searches the chain after cursor for the game module name. Loose
// directories are searched only without a pure restriction and may supply a
// native library when allowNative is set. After an archive candidate, other
// archives from the same directory are skipped so a failing module does not
// fall back to an older archive of the same game directory.
func (fs *FS) FindModule(name string, cursor int, allowNative bool) (Module, bool) {
	fs.mustInit("find module")
	native := name + fs.opts.NativeSuffix
	bytecode := "vm/" + name + ".qvm"
	layers := fs.chain.Layers()

	var lastDir string
	if cursor >= 0 && cursor < len(layers) && layers[cursor].Archive != nil {
		lastDir = layers[cursor].Archive.Dir
	}

	for i := cursor + 1; i < len(layers); i++ {
		l := layers[i]
		if a := l.Archive; a != nil {
			if lastDir != "" && qpath.Equal(a.Dir, lastDir) {
				continue
			}
			if !fs.validator.IsPure(a) {
				continue
			}
			if _, ok := a.Lookup(bytecode); ok {
				return Module{Kind: ModuleBytecode, Path: bytecode, Cursor: i}, true
			}
			continue
		}
		if fs.validator.Restricted() {
			continue
		}
		dir := l.Dir.Path()
		if allowNative {
			p := filepath.Join(dir, native)
			if regularFile(p) {
				return Module{Kind: ModuleNative, Path: p, Cursor: i}, true
			}
		}
		if regularFile(filepath.Join(dir, filepath.FromSlash(bytecode))) {
			return Module{Kind: ModuleBytecode, Path: bytecode, Cursor: i}, true
		}
	}
	return Module{}, false
}

// Mod is a game directory that holds archives.
type Mod struct {
	Name        string
	Description string
}

// ListMods lists directories under the home and base paths, other than the
// base game, that contain at least one archive or archive directory. The
// description is the first line of description.txt, or the name.
func (fs *FS) ListMods() []Mod {
	fs.mustInit("list mods")
	roots := []string{fs.opts.HomePath}
	if !qpath.Equal(fs.opts.BasePath, fs.opts.HomePath) {
		roots = append(roots, fs.opts.BasePath)
	}

	seen := make(map[string]bool)
	var names []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			n := e.Name()
			if !e.IsDir() || strings.HasPrefix(n, ".") || qpath.Equal(n, fs.opts.BaseGame) {
				continue
			}
			key := qpath.Normalize(n)
			if seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, n)
		}
	}
	listing.Sort(names)

	var mods []Mod
	for _, n := range names {
		if !fs.hasArchives(roots, n) {
			continue
		}
		mods = append(mods, Mod{Name: n, Description: fs.modDescription(roots, n)})
	}
	return mods
}

func (fs *FS) hasArchives(roots []string, game string) bool {
	for _, root := range roots {
		entries, err := os.ReadDir(filepath.Join(root, game))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && qpath.HasExt(e.Name(), fs.opts.ArchiveDirExt) {
				return true
			}
			if !e.IsDir() && qpath.HasExt(e.Name(), fs.opts.ArchiveExt) {
				return true
			}
		}
	}
	return false
}

func (fs *FS) modDescription(roots []string, game string) string {
	for _, root := range roots {
		f, err := os.Open(filepath.Join(root, game, "description.txt"))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		line := ""
		if sc.Scan() {
			line = strings.TrimSpace(sc.Text())
		}
		_ = f.Close()
		if line != "" {
			return line
		}
	}
	return game
}
