package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"archiver/internal/archive"
	"archiver/internal/archive/archivetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	archivetest.MaybeRunFakeSevenZip()
	os.Exit(m.Run())
}

// execute runs the root command with a config that only finds 7-Zip in binDir.
func execute(t *testing.T, binDir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "log:\n  path: stderr\n  level: error\nbinary:\n  bundled_dir: " + binDir + "\n  skip_path: true\n  names: [7za]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--config", cfgPath))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunCmd_Buffered(t *testing.T) {
	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{
		"a.txt":     []byte("alpha"),
		"sub/b.txt": []byte("bravo"),
	})
	dest := filepath.Join(t.TempDir(), "out.zip")

	stdout, err := execute(t, t.TempDir(), "run", src, dest, "--level", "5", "--progress=false")
	require.NoError(t, err)

	var out archive.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.True(t, out.Success)
	assert.Equal(t, archive.BackendBuffered, out.BackendUsed)
	assert.Equal(t, 2, out.FilesProcessed)

	files := archivetest.ReadZip(t, dest)
	assert.Equal(t, []byte("bravo"), files["sub/b.txt"])
}

func TestRunCmd_NativeWithFakeBinary(t *testing.T) {
	binDir := t.TempDir()
	archivetest.InstallFakeSevenZip(t, binDir, "7za")

	src := t.TempDir()
	archivetest.WriteTree(t, src, map[string][]byte{"a.txt": []byte("alpha")})
	dest := filepath.Join(t.TempDir(), "out.zip")

	stdout, err := execute(t, binDir, "run", src, dest, "--backend", "native")
	require.NoError(t, err)

	var out archive.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, archive.BackendNative, out.BackendUsed)
	assert.False(t, out.Fallback)
}

func TestRunCmd_MissingSourceFails(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.zip")
	stdout, err := execute(t, t.TempDir(), "run", filepath.Join(t.TempDir(), "missing"), dest, "--progress=false")
	require.Error(t, err)
	assert.Equal(t, archive.KindInvalidInput, archive.KindOf(err, ""))

	var out archive.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.False(t, out.Success)
}

func TestRunCmd_RejectsBadBackend(t *testing.T) {
	_, err := execute(t, t.TempDir(), "run", t.TempDir(), filepath.Join(t.TempDir(), "o.zip"), "--backend", "tape")
	assert.Error(t, err)
}

func TestProbeCmd(t *testing.T) {
	binDir := t.TempDir()

	stdout, err := execute(t, binDir, "probe")
	require.NoError(t, err)
	var res probeResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.False(t, res.Available)
	assert.NotEmpty(t, res.Error)

	archivetest.InstallFakeSevenZip(t, binDir, "7za")
	stdout, err = execute(t, binDir, "probe", "--reprobe")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.Available)
	assert.Equal(t, "23.01", res.Version)
}
