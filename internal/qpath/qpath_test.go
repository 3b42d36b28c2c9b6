package qpath

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"already normal", "sound/foo.wav", "sound/foo.wav"},
		{"backslashes and case", `Sound\Foo.WAV`, "sound/foo.wav"},
		{"leading separator", "/scripts/a.shader", "scripts/a.shader"},
		{"doubled separators", `models//players\\sarge/head.md3`, "models/players/sarge/head.md3"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.in))
		})
	}
}

func TestClean_PreservesCase(t *testing.T) {
	assert.Equal(t, "Maps/Q3DM1.bsp", Clean(`\Maps\Q3DM1.bsp`))
}

func TestIsTraversal(t *testing.T) {
	assert.True(t, IsTraversal("../etc/passwd"))
	assert.True(t, IsTraversal(`maps\..\..\x`))
	assert.True(t, IsTraversal("c::foo"))
	assert.False(t, IsTraversal("maps/q3dm1.bsp"))
	assert.False(t, IsTraversal("a.b.c"))
}

func TestIsDirTraversal(t *testing.T) {
	assert.True(t, IsDirTraversal("../evil"))
	assert.True(t, IsDirTraversal(`baseq3\..\..\evil`))
	assert.False(t, IsDirTraversal("baseq3/pak0"))
	assert.False(t, IsDirTraversal("odd..name"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(`Sound\Foo.WAV`, "sound/foo.wav"))
	assert.Equal(t, 0, Compare("a:b", "A/B"))
	assert.Equal(t, -1, Compare("pak0.pk3", "pak1.pk3"))
	assert.Equal(t, 1, Compare("pak10.pk3", "pak1"))
	assert.Equal(t, -1, Compare("pak", "pak0"))
	assert.True(t, Equal("Scripts/X.shader", `scripts\x.SHADER`))
	assert.False(t, Equal("scripts/x", "scripts/x.shader"))
}

func TestCompare_SortsLikeEngine(t *testing.T) {
	names := []string{"zz.pk3", "Pak1.pk3", "pak0.pk3", "pak0.pk3dir", "A.pk3"}
	sort.Slice(names, func(i, j int) bool { return Compare(names[i], names[j]) < 0 })
	assert.Equal(t, []string{"A.pk3", "pak0.pk3", "pak0.pk3dir", "Pak1.pk3", "zz.pk3"}, names)
}

func TestExtHelpers(t *testing.T) {
	assert.True(t, HasExt("PAK0.PK3", ".pk3"))
	assert.False(t, HasExt("k3", ".pk3"))
	assert.Equal(t, "pak0", TrimExt("pak0.PK3", ".pk3"))
	assert.Equal(t, "pak0.zip", TrimExt("pak0.zip", ".pk3"))
	assert.Equal(t, ".wav", Ext("sound/foo.wav"))
	assert.Equal(t, "", Ext("dir.d/file"))
	assert.Equal(t, "head.md3", Base(`models\players/head.md3`))
}

func TestSplit(t *testing.T) {
	dir, depth := Split("models/players/sarge/head.md3")
	assert.Equal(t, "models/players/sarge", dir)
	assert.Equal(t, 3, depth)

	dir, depth = Split("default.cfg")
	assert.Equal(t, "", dir)
	assert.Equal(t, 0, depth)
}

func TestHasPrefixFold(t *testing.T) {
	assert.True(t, HasPrefixFold("Models/Players/x.md3", `models\players`))
	assert.False(t, HasPrefixFold("mod", "models"))
}
