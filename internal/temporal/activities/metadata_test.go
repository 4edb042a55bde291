package activities

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestGetFileMetadataActivity(t *testing.T) {
	// Setup test environment
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestActivityEnvironment()
	a := &Activities{}
	env.RegisterActivity(a)

	path := filepath.Join(t.TempDir(), "backup.zip")
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(path, content, 0644))

	future, err := env.ExecuteActivity(a.GetFileMetadataActivity, GetFileMetadataActivityInput{
		FilePath: path,
	})
	require.NoError(t, err)

	var result GetFileMetadataActivityOutput
	require.NoError(t, future.Get(&result))

	sum := sha256.Sum256(content)
	assert.Equal(t, "backup.zip", result.Name)
	assert.Equal(t, int64(len(content)), result.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Checksum)
	assert.Equal(t, "application/zip", result.MimeType)
}

func TestGetFileMetadataActivity_MissingFile(t *testing.T) {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestActivityEnvironment()
	a := &Activities{}
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.GetFileMetadataActivity, GetFileMetadataActivityInput{
		FilePath: filepath.Join(t.TempDir(), "missing.zip"),
	})
	assert.Error(t, err)
}
