package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunumi/pakfs/testutil"
)

func setupInstall(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	testutil.WriteZip(t, base, "baseq3/pak0.pk3", testutil.Entries(
		"default.cfg", "bind w +forward\n",
		"maps/q3dm17.bsp", "longest yard",
		"vm/cgame.qvm", "qvm",
	))
	testutil.TempFile(t, base, "baseq3/maps/custom.bsp", "custom")
	testutil.WriteZip(t, base, "osp/zz-osp.pk3", testutil.Entries("ui/menu.txt", "osp"))
	testutil.TempFile(t, base, "osp/description.txt", "OSP Tourney")
	return base
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPathCommand(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "path", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "We are looking in the current search path:")
	assert.Contains(t, out, filepath.Join(base, "baseq3", "pak0.pk3")+" (3 files)")
}

func TestCatAndWhich(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "cat", "MAPS/Q3DM17.BSP", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Equal(t, "longest yard", out)

	out, err = execute(t, "which", "maps/custom.bsp", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "found at")

	_, err = execute(t, "which", "maps/none.bsp", "--base-path", base, "-l", "error")
	assert.Error(t, err)
}

func TestDirCommands(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "dir", "maps", ".bsp", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Directory of maps .bsp\n"))
	assert.Contains(t, out, "q3dm17.bsp")
	assert.Contains(t, out, "custom.bsp")

	out, err = execute(t, "fdir", "*.bsp", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "2 files listed")
}

func TestModsAndGameFlag(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "mods", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "OSP Tourney")

	out, err = execute(t, "cat", "ui/menu.txt", "--base-path", base, "-g", "osp", "-l", "error")
	require.NoError(t, err)
	assert.Equal(t, "osp", out)
}

func TestMissingCommand(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "missing", "--sums", "12345", "--names", "baseq3/pak9", "--dl", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Equal(t, "@baseq3/pak9.pk3@baseq3/pak9.pk3\n", out)

	_, err = execute(t, "missing", "--sums", "abc", "--base-path", base, "-l", "error")
	assert.Error(t, err)
}

func TestTouchAndChecksums(t *testing.T) {
	base := setupInstall(t)

	out, err := execute(t, "touch", "vm/cgame.qvm", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Equal(t, "baseq3/pak0\n", out)

	out, err = execute(t, "checksums", "--base-path", base, "-l", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded:            pak0")
}

func TestRunExitCodes(t *testing.T) {
	base := setupInstall(t)

	assert.Equal(t, 0, run([]string{"version"}))
	assert.Equal(t, 1, run([]string{"cat", "nope.txt", "--base-path", base, "-l", "error"}))
	assert.Equal(t, 1, run([]string{"serve", "--base-path", base, "-l", "error"}))
}
