package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/internal/workspace"
)

func TestInit_CreatesLayout(t *testing.T) {
	root := t.TempDir()

	ws, err := workspace.Init(root)
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, workspace.FormatVersion, ws.FormatVersion)
	assert.NotEmpty(t, ws.WorkspaceID)

	for _, rel := range []string{
		".selfmod",
		filepath.Join(".selfmod", "backups"),
		filepath.Join(".selfmod", "locks"),
	} {
		info, err := os.Stat(filepath.Join(root, rel))
		require.NoError(t, err, rel)
		assert.True(t, info.IsDir(), rel)
	}

	_, err = os.Stat(filepath.Join(root, ".selfmod", "config.yaml"))
	assert.NoError(t, err)
}

func TestInit_TwiceFails(t *testing.T) {
	root := t.TempDir()
	_, err := workspace.Init(root)
	require.NoError(t, err)

	_, err = workspace.Init(root)
	assert.Error(t, err)
}

func TestDiscover_FromNestedDirectory(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)

	nested := filepath.Join(root, "core", "sub")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := workspace.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found.Root)
	assert.Equal(t, ws.WorkspaceID, found.WorkspaceID)
}

func TestDiscover_NotAWorkspace(t *testing.T) {
	_, err := workspace.Discover(t.TempDir())
	assert.Error(t, err)
}

func TestDiscover_FutureFormatRejected(t *testing.T) {
	root := t.TempDir()
	_, err := workspace.Init(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(root, ".selfmod", "format_version"), []byte("99\n"), 0644))

	_, err = workspace.Discover(root)
	assert.ErrorContains(t, err, "E_FORMAT_UNSUPPORTED")
}
