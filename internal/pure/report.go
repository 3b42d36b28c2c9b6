package pure

import (
	"strconv"
	"strings"

	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/checksum"
	"github.com/sunumi/pakfs/internal/qpath"
)

// LoadedChecksums lists the local checksum of every archive.
func LoadedChecksums(archives []*archive.Archive) string {
	sums := make([]int32, len(archives))
	for i, a := range archives {
		sums[i] = a.Checksum
	}
	return checksum.FormatList(sums)
}

// LoadedPureChecksums lists the salted checksum of every archive.
func LoadedPureChecksums(archives []*archive.Archive) string {
	sums := make([]int32, len(archives))
	for i, a := range archives {
		sums[i] = a.PureChecksum
	}
	return checksum.FormatList(sums)
}

// LoadedNames lists the base name of every archive, space separated.
func LoadedNames(archives []*archive.Archive) string {
	names := make([]string, len(archives))
	for i, a := range archives {
		names[i] = a.BaseName
	}
	return strings.Join(names, " ")
}

// required reports whether a must be reported as referenced: it was used in
// the session or it lives outside the base game.
func required(a *archive.Archive, baseGame string) bool {
	return a.Referenced != 0 || !qpath.HasPrefixFold(a.GameDir, baseGame)
}

// ReferencedChecksums lists the local checksums of required archives.
func ReferencedChecksums(archives []*archive.Archive, baseGame string) string {
	var sums []int32
	for _, a := range archives {
		if required(a, baseGame) {
			sums = append(sums, a.Checksum)
		}
	}
	return checksum.FormatList(sums)
}

// ReferencedNames lists required archives as "gamedir/basename", space
// separated.
func ReferencedNames(archives []*archive.Archive, baseGame string) string {
	var names []string
	for _, a := range archives {
		if required(a, baseGame) {
			names = append(names, a.GameDir+"/"+a.BaseName)
		}
	}
	return strings.Join(names, " ")
}

// ClearReferences clears flags on every archive; zero clears all of them.
func ClearReferences(archives []*archive.Archive, flags archive.RefFlags) {
	if flags == 0 {
		flags = archive.RefAll
	}
	for _, a := range archives {
		a.Referenced &^= flags
	}
}

// Report is the structured form of the referenced pure checksum string.
type Report struct {
	ClientModule *int32
	UIModule     *int32
	General      []int32
	Aggregate    int32
}

// BuildReport collects the salted checksums of the first archive that
// supplied the client module, the first that supplied the UI module, and
// every generally referenced archive. Aggregate mixes the salt, each general
// checksum and their count.
func BuildReport(archives []*archive.Archive, salt int32) Report {
	r := Report{Aggregate: salt}
	for _, a := range archives {
		if a.Referenced&archive.RefClientModule != 0 {
			sum := a.PureChecksum
			r.ClientModule = &sum
			break
		}
	}
	for _, a := range archives {
		if a.Referenced&archive.RefUI != 0 {
			sum := a.PureChecksum
			r.UIModule = &sum
			break
		}
	}
	for _, a := range archives {
		if a.Referenced&archive.RefGeneral != 0 {
			r.General = append(r.General, a.PureChecksum)
			r.Aggregate ^= a.PureChecksum
		}
	}
	r.Aggregate ^= int32(len(r.General))
	return r
}

// String renders "client ui @ general... aggregate " with every value
// followed by a space. Absent modules are omitted.
func (r Report) String() string {
	var b strings.Builder
	if r.ClientModule != nil {
		b.WriteString(strconv.FormatInt(int64(*r.ClientModule), 10))
		b.WriteByte(' ')
	}
	if r.UIModule != nil {
		b.WriteString(strconv.FormatInt(int64(*r.UIModule), 10))
		b.WriteByte(' ')
	}
	b.WriteString("@ ")
	b.WriteString(checksum.FormatList(r.General))
	b.WriteString(checksum.FormatList([]int32{r.Aggregate}))
	return b.String()
}

// ReferencedPureChecksums is BuildReport(archives, salt).String().
func ReferencedPureChecksums(archives []*archive.Archive, salt int32) string {
	return BuildReport(archives, salt).String()
}
