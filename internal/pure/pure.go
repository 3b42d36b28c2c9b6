// Package pure tracks which archives contributed content during a session
// and enforces an authority's checksum allow-list ("pure" mode). It also
// builds the checksum and download strings exchanged with the authority.
package pure

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/qpath"
)

// Validator holds the authority's loaded and referenced archive lists.
// An empty loaded list means no restriction.
type Validator struct {
	policy Policy
	logger zerolog.Logger

	loaded      []int32
	loadedNames []string
	loadedSet   map[int32]struct{}

	referenced      []int32
	referencedNames []string
	referencedSet   map[int32]struct{}
}

// NewValidator returns an unrestricted validator.
func NewValidator(policy Policy, logger zerolog.Logger) *Validator {
	return &Validator{
		policy: policy,
		logger: logger.With().Str("component", "pure").Logger(),
	}
}

// Policy returns the active classification policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// SetLoaded replaces the authority's loaded-archive list. names may be
// shorter than sums. An empty list lifts the restriction.
func (v *Validator) SetLoaded(sums []int32, names []string) {
	v.loaded = append([]int32(nil), sums...)
	v.loadedNames = append([]string(nil), names...)
	v.loadedSet = toSet(sums)
	v.logger.Debug().Int("paks", len(sums)).Msg("pure loaded list set")
}

// SetReferenced replaces the authority's referenced-archive list, used for
// download negotiation.
func (v *Validator) SetReferenced(sums []int32, names []string) {
	v.referenced = append([]int32(nil), sums...)
	v.referencedNames = append([]string(nil), names...)
	v.referencedSet = toSet(sums)
	v.logger.Debug().Int("paks", len(sums)).Msg("pure referenced list set")
}

// Reset lifts every restriction.
func (v *Validator) Reset() {
	v.SetLoaded(nil, nil)
	v.SetReferenced(nil, nil)
}

func toSet(sums []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(sums))
	for _, s := range sums {
		set[s] = struct{}{}
	}
	return set
}

// Restricted reports whether an authority allow-list is active.
func (v *Validator) Restricted() bool {
	return len(v.loaded) > 0
}

// Loaded returns the authority's loaded checksums in authority order.
func (v *Validator) Loaded() []int32 {
	return v.loaded
}

// LoadedName returns the authority's name for the i-th loaded checksum.
func (v *Validator) LoadedName(i int) string {
	if i < len(v.loadedNames) {
		return v.loadedNames[i]
	}
	return ""
}

// Referenced returns the authority's referenced checksums.
func (v *Validator) Referenced() []int32 {
	return v.referenced
}

// InReferenced reports whether sum is in the authority's referenced list.
func (v *Validator) InReferenced(sum int32) bool {
	_, ok := v.referencedSet[sum]
	return ok
}

// IsPure reports whether a may supply content in the current session.
func (v *Validator) IsPure(a *archive.Archive) bool {
	if !v.Restricted() {
		return true
	}
	_, ok := v.loadedSet[a.Checksum]
	return ok
}

// ArchiveAllowed implements searchpath.Filter.
func (v *Validator) ArchiveAllowed(a *archive.Archive, _ string) bool {
	return v.IsPure(a)
}

// LooseAllowed implements searchpath.Filter.
func (v *Validator) LooseAllowed(name string) bool {
	return !v.Restricted() || v.policy.LooseAllowed(name)
}

// MarkReferenced records that name was read from a.
func (v *Validator) MarkReferenced(a *archive.Archive, name string) {
	a.Referenced |= v.policy.Classify(name)
}

// Missing is an authority-referenced archive absent from the local chain.
type Missing struct {
	Checksum int32
	Name     string // "gamedir/basename" as sent by the authority
	// NameTaken is set when a local file already has the archive's name.
	NameTaken bool
}

// RemoteName is the name to request from the authority.
func (m Missing) RemoteName(ext string) string {
	return m.Name + ext
}

// LocalName is where the download should be stored. It embeds the checksum
// when the plain name is already taken.
func (m Missing) LocalName(ext string) string {
	if m.NameTaken {
		return fmt.Sprintf("%s.%08x%s", m.Name, uint32(m.Checksum), ext)
	}
	return m.Name + ext
}

// ComputeMissing lists the referenced archives whose checksum matches no
// local archive. exists reports whether a name is already taken below the
// writable root. Names containing parent-directory segments are dropped
// with a warning; unnamed entries are skipped.
func (v *Validator) ComputeMissing(archives []*archive.Archive, ext string, exists func(string) bool) []Missing {
	have := make(map[int32]struct{}, len(archives))
	for _, a := range archives {
		have[a.Checksum] = struct{}{}
	}

	var out []Missing
	for i, sum := range v.referenced {
		name := ""
		if i < len(v.referencedNames) {
			name = v.referencedNames[i]
		}
		if v.policy.neverDownload(name) {
			continue
		}
		if qpath.IsDirTraversal(name) {
			v.logger.Warn().Str("name", name).Msg("invalid download name")
			continue
		}
		if _, ok := have[sum]; ok || name == "" {
			continue
		}
		m := Missing{Checksum: sum, Name: name}
		if exists != nil {
			m.NameTaken = exists(name + ext)
		}
		out = append(out, m)
	}
	return out
}

// DownloadString renders missing archives as repeated "@remote@local" pairs.
func DownloadString(missing []Missing, ext string) string {
	var b strings.Builder
	for _, m := range missing {
		b.WriteByte('@')
		b.WriteString(m.RemoteName(ext))
		b.WriteByte('@')
		b.WriteString(m.LocalName(ext))
	}
	return b.String()
}

// MissingText renders missing archives one per line for operators.
func MissingText(missing []Missing, ext string) string {
	var b strings.Builder
	for _, m := range missing {
		b.WriteString(m.RemoteName(ext))
		if m.NameTaken {
			b.WriteString(" (local file exists with wrong checksum)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
