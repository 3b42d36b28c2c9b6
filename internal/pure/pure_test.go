package pure

import (
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunumi/pakfs/internal/archive"
)

func pak(sum int32, game, base string) *archive.Archive {
	return &archive.Archive{Checksum: sum, PureChecksum: sum + 1000, GameDir: game, BaseName: base}
}

func newValidator() *Validator {
	return NewValidator(DefaultPolicy(), zerolog.Nop())
}

func TestPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		want archive.RefFlags
	}{
		{"maps/q3dm1.bsp", archive.RefGeneral},
		{"scripts/base.shader", 0},
		{"levelshots/q3dm1.tga", 0},
		{"Scripts/Arena.TXT", 0},
		{"vm/cgame.qvm", archive.RefGeneral | archive.RefClientModule},
		{"vm/ui.qvm", archive.RefGeneral | archive.RefUI},
		{`vm\QAGAME.qvm`, archive.RefGeneral | archive.RefGame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.name))
		})
	}
}

func TestPolicy_LooseAllowed(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.LooseAllowed("autoexec.cfg"))
	assert.True(t, p.LooseAllowed("ui/main.menu"))
	assert.True(t, p.LooseAllowed("demos/match.dm_68"))
	assert.True(t, p.LooseAllowed("DEMOS/MATCH.DM_66"))
	assert.False(t, p.LooseAllowed("demos/match.dm_12"))
	assert.False(t, p.LooseAllowed("demos/match.dm_"))
	assert.False(t, p.LooseAllowed("x.txt"))
	assert.False(t, p.LooseAllowed("maps/q3dm1.bsp"))
}

func TestValidator_Unrestricted(t *testing.T) {
	v := newValidator()
	assert.False(t, v.Restricted())
	assert.True(t, v.IsPure(pak(1, "base", "a")))
	assert.True(t, v.LooseAllowed("x.txt"))
}

func TestValidator_PurityFilter(t *testing.T) {
	v := newValidator()
	v.SetLoaded([]int32{123456}, []string{"base/pak0"})

	assert.True(t, v.Restricted())
	assert.True(t, v.ArchiveAllowed(pak(123456, "base", "pak0"), "x.txt"))
	assert.False(t, v.ArchiveAllowed(pak(999, "base", "extra"), "x.txt"))
	assert.False(t, v.LooseAllowed("x.txt"))
	assert.True(t, v.LooseAllowed("autoexec.cfg"))
	assert.Equal(t, "base/pak0", v.LoadedName(0))
	assert.Equal(t, "", v.LoadedName(3))

	v.Reset()
	assert.False(t, v.Restricted())
}

func TestValidator_MarkReferenced(t *testing.T) {
	v := newValidator()
	a := pak(1, "base", "pak0")

	v.MarkReferenced(a, "scripts/x.shader")
	assert.Equal(t, archive.RefFlags(0), a.Referenced)

	v.MarkReferenced(a, "vm/ui.qvm")
	assert.Equal(t, archive.RefGeneral|archive.RefUI, a.Referenced)

	ClearReferences([]*archive.Archive{a}, archive.RefUI)
	assert.Equal(t, archive.RefGeneral, a.Referenced)
	ClearReferences([]*archive.Archive{a}, 0)
	assert.Equal(t, archive.RefFlags(0), a.Referenced)
}

func TestComputeMissing(t *testing.T) {
	v := newValidator()
	local := []*archive.Archive{pak(100, "base", "pak0"), pak(200, "base", "pak1")}
	v.SetReferenced(
		[]int32{100, 300, 400, 500, 600},
		[]string{"base/pak0", "mod/newmap", "../../etc/evil", "", "mod/taken"},
	)

	taken := map[string]bool{"mod/taken.pk3": true}
	missing := v.ComputeMissing(local, ".pk3", func(name string) bool { return taken[name] })

	require.Len(t, missing, 2)
	assert.Equal(t, Missing{Checksum: 300, Name: "mod/newmap"}, missing[0])
	assert.Equal(t, Missing{Checksum: 600, Name: "mod/taken", NameTaken: true}, missing[1])

	assert.Equal(t,
		"@mod/newmap.pk3@mod/newmap.pk3@mod/taken.pk3@mod/taken.00000258.pk3",
		DownloadString(missing, ".pk3"))
	assert.Equal(t,
		"mod/newmap.pk3\nmod/taken.pk3 (local file exists with wrong checksum)\n",
		MissingText(missing, ".pk3"))
}

func TestComputeMissing_SinglePairForAbsentArchive(t *testing.T) {
	v := newValidator()
	local := []*archive.Archive{pak(1, "base", "pak0")}
	v.SetReferenced([]int32{1, 2, 3}, []string{"base/pak0", "base/needed", "base/../x"})

	got := DownloadString(v.ComputeMissing(local, ".pk3", nil), ".pk3")
	assert.Equal(t, "@base/needed.pk3@base/needed.pk3", got)
}

func TestComputeMissing_NeverDownload(t *testing.T) {
	p := DefaultPolicy()
	p.NeverDownload = []string{"base/pak0"}
	v := NewValidator(p, zerolog.Nop())
	v.SetReferenced([]int32{1}, []string{"BASE/pak0"})
	assert.Empty(t, v.ComputeMissing(nil, ".pk3", nil))
}

func TestMissing_LocalNameNegativeChecksum(t *testing.T) {
	m := Missing{Checksum: -1, Name: "base/x", NameTaken: true}
	assert.Equal(t, "base/x.ffffffff.pk3", m.LocalName(".pk3"))
}

func TestLoadedStrings(t *testing.T) {
	archives := []*archive.Archive{pak(5, "base", "pak1"), pak(-7, "base", "pak0")}
	assert.Equal(t, "5 -7 ", LoadedChecksums(archives))
	assert.Equal(t, "1005 993 ", LoadedPureChecksums(archives))
	assert.Equal(t, "pak1 pak0", LoadedNames(archives))
	assert.Equal(t, "", LoadedChecksums(nil))
}

func TestReferencedStrings(t *testing.T) {
	used := pak(1, "base", "used")
	used.Referenced = archive.RefGeneral
	unused := pak(2, "base", "unused")
	mod := pak(3, "mymod", "modpak")

	archives := []*archive.Archive{used, unused, mod}
	assert.Equal(t, "1 3 ", ReferencedChecksums(archives, "base"))
	assert.Equal(t, "base/used mymod/modpak", ReferencedNames(archives, "base"))
}

func TestReferencedPureChecksums(t *testing.T) {
	cg := pak(10, "base", "cg")
	cg.Referenced = archive.RefClientModule | archive.RefGeneral
	cg2 := pak(11, "base", "cg2")
	cg2.Referenced = archive.RefClientModule
	ui := pak(20, "base", "ui")
	ui.Referenced = archive.RefUI
	gen := pak(30, "base", "gen")
	gen.Referenced = archive.RefGeneral
	idle := pak(40, "base", "idle")

	archives := []*archive.Archive{cg, cg2, ui, gen, idle}
	const salt = int32(77)

	r := BuildReport(archives, salt)
	require.NotNil(t, r.ClientModule)
	require.NotNil(t, r.UIModule)
	assert.Equal(t, int32(1010), *r.ClientModule)
	assert.Equal(t, int32(1020), *r.UIModule)
	assert.Equal(t, []int32{1010, 1030}, r.General)
	assert.Equal(t, salt^1010^1030^2, r.Aggregate)

	want := "1010 1020 @ 1010 1030 " + strconv.Itoa(int(salt^1010^1030^2)) + " "
	assert.Equal(t, want, ReferencedPureChecksums(archives, salt))
}

func TestReferencedPureChecksums_NothingReferenced(t *testing.T) {
	assert.Equal(t, "@ 5 ", ReferencedPureChecksums([]*archive.Archive{pak(1, "base", "a")}, 5))
}
