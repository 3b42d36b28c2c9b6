package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_Deterministic(t *testing.T) {
	words := []int32{0x1234, -5, 99999, 0}
	assert.Equal(t, Block(words), Block(append([]int32(nil), words...)))
}

func TestBlock_SensitiveToContentAndOrder(t *testing.T) {
	base := Block([]int32{1, 2, 3})
	assert.NotEqual(t, base, Block([]int32{1, 2, 4}))
	assert.NotEqual(t, base, Block([]int32{3, 2, 1}))
	assert.NotEqual(t, base, Block([]int32{1, 2}))
}

func TestBlock_SaltChangesResult(t *testing.T) {
	crcs := []int32{111, 222, 333}
	local := Block(crcs)
	salted := Block(append([]int32{42}, crcs...))
	otherSalt := Block(append([]int32{43}, crcs...))
	assert.NotEqual(t, local, salted)
	assert.NotEqual(t, salted, otherSalt)
}

func TestNewSalt_Varies(t *testing.T) {
	seen := make(map[int32]bool)
	for i := 0; i < 8; i++ {
		seen[NewSalt()] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "", FormatList(nil))
	assert.Equal(t, "1 -2 300 ", FormatList([]int32{1, -2, 300}))
}

func TestParseList(t *testing.T) {
	got, err := ParseList("  123456 -7\t999 ")
	require.NoError(t, err)
	assert.Equal(t, []int32{123456, -7, 999}, got)

	got, err = ParseList("4294967295")
	require.NoError(t, err)
	assert.Equal(t, []int32{-1}, got)

	got, err = ParseList("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseList("12 abc")
	assert.Error(t, err)
}

func TestParseList_RoundTripsFormat(t *testing.T) {
	values := []int32{-2147483648, 0, 2147483647}
	got, err := ParseList(FormatList(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)
}
