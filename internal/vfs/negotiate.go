package vfs

import (
	"fmt"
	"strings"

	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/checksum"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/pure"
)

// SetPureLoadedPaks installs the authority's loaded archive list. A
// non-empty list restricts lookups and moves the listed archives to the
// front of the search path. Clearing it after a reorder restarts the
// filesystem to restore the natural order.
func (fs *FS) SetPureLoadedPaks(sums []int32, names []string) error {
	fs.validator.SetLoaded(sums, names)
	if len(sums) > 0 {
		fs.metrics.PureRestricted.Set(1)
		fs.logger.Debug().Int("paks", len(sums)).Msg("connected to a pure authority")
		if fs.chain != nil {
			fs.reorder()
		}
		return nil
	}
	fs.metrics.PureRestricted.Set(0)
	if fs.reordered && fs.chain != nil {
		fs.logger.Debug().Msg("search order restore requires a restart")
		return fs.Restart(fs.salt)
	}
	return nil
}

// SetPureReferencedPaks installs the authority's referenced archive list
// used by ComparePaks.
func (fs *FS) SetPureReferencedPaks(sums []int32, names []string) {
	fs.validator.SetReferenced(sums, names)
}

// ParsePakList parses space separated checksums and names as sent by an
// authority.
func ParsePakList(sums, names string) ([]int32, []string, error) {
	list, err := checksum.ParseList(sums)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", fserr.ErrInvalidChecksum, err)
	}
	return list, strings.Fields(names), nil
}

// PureRestricted reports whether an authority allow-list is active.
func (fs *FS) PureRestricted() bool {
	return fs.validator.Restricted()
}

func (fs *FS) archives() []*archive.Archive {
	fs.mustInit("archives")
	return fs.chain.Archives()
}

// LoadedPakChecksums lists the checksum of every archive on the search path.
func (fs *FS) LoadedPakChecksums() string {
	return pure.LoadedChecksums(fs.archives())
}

// LoadedPakPureChecksums lists the salted checksum of every archive.
func (fs *FS) LoadedPakPureChecksums() string {
	return pure.LoadedPureChecksums(fs.archives())
}

// LoadedPakNames lists the base name of every archive.
func (fs *FS) LoadedPakNames() string {
	return pure.LoadedNames(fs.archives())
}

// ReferencedPakChecksums lists archives used this session or lying outside
// the base game.
func (fs *FS) ReferencedPakChecksums() string {
	return pure.ReferencedChecksums(fs.archives(), fs.opts.BaseGame)
}

// ReferencedPakNames lists the same archives as ReferencedPakChecksums as
// "gamedir/basename".
func (fs *FS) ReferencedPakNames() string {
	return pure.ReferencedNames(fs.archives(), fs.opts.BaseGame)
}

// ReferencedPakPureChecksums builds the string a peer sends to prove which
// archives supplied its modules and content.
func (fs *FS) ReferencedPakPureChecksums() string {
	return pure.ReferencedPureChecksums(fs.archives(), fs.salt)
}

// ClearPakReferences clears reference flags on every archive; zero clears
// all of them.
func (fs *FS) ClearPakReferences(flags archive.RefFlags) {
	pure.ClearReferences(fs.archives(), flags)
}

// MissingPaks lists the authority-referenced archives absent locally.
func (fs *FS) MissingPaks() []pure.Missing {
	return fs.validator.ComputeMissing(fs.archives(), fs.opts.ArchiveExt, fs.RawFileExists)
}

// ComparePaks renders the missing archives. With dl set the result is the
// "@remote@local" download string, otherwise one line per archive. It
// reports whether anything is missing.
func (fs *FS) ComparePaks(dl bool) (string, bool) {
	missing := fs.MissingPaks()
	if dl {
		return pure.DownloadString(missing, fs.opts.ArchiveExt), len(missing) > 0
	}
	return pure.MissingText(missing, fs.opts.ArchiveExt), len(missing) > 0
}

// CheckRequiredPaks fails with fserr.ErrMissingContent when the authority
// references archives that are not available locally.
func (fs *FS) CheckRequiredPaks() error {
	text, missing := fs.ComparePaks(false)
	if missing {
		return fmt.Errorf("%w:\n%s", fserr.ErrMissingContent, text)
	}
	return nil
}
