package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ivan3bx/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dev := t.TempDir()
	ws := enginetest.Workspace{
		DevDir:  dev,
		Project: "SamplesProject",
		TempDir: t.TempDir(),
	}

	writeFile(t, dev, "bootstrap.cfg", "sys_game_folder=OldProject\nremote_port=4600\n")
	writeFile(t, dev, "system_linux_pc.cfg", "r_ShadersAsyncCompiling=0\n")

	return NewStore(ws, "linux")
}

func TestStoreModifyBootstrap(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ModifyBootstrap("sys_game_folder", "NewProject"))
	assert.Equal(t, "sys_game_folder=NewProject\nremote_port=4600\n", readFile(t, s.Workspace.BootstrapConfig()))
}

func TestStoreModifyOther(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ModifyPlatform("r_ShadersAsyncCompiling", "1"))
	assert.Equal(t, "r_ShadersAsyncCompiling=1\n", readFile(t, s.Workspace.PlatformConfig("linux")))

	assert.ErrorIs(t, s.ModifyAssetProcessor("a", "b"), ErrNotFound)
	assert.ErrorIs(t, s.ModifyShaderCompiler("a", "b"), ErrNotFound)
}

func TestStoreSetupBootstrapProject(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetupBootstrapProject("Game"))
	v, ok, err := Lookup(s.Workspace.BootstrapConfig(), "sys_game_folder")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Game", v)

	writeFile(t, s.Workspace.DevDir, "bootstrap.cfg", "remote_port=4600\n")
	assert.Error(t, s.SetupBootstrapProject("Game"))
}

func TestStoreBackupRestore(t *testing.T) {
	s := newTestStore(t)
	bootstrap := s.Workspace.BootstrapConfig()
	original := readFile(t, bootstrap)

	require.NoError(t, s.BackupAll())
	assert.Equal(t, s.Files(), s.Backups())
	assert.Len(t, s.Backups(), 2)

	require.NoError(t, s.ModifyBootstrap("sys_game_folder", "NewProject"))
	require.NoError(t, s.ModifyPlatform("r_ShadersAsyncCompiling", "1"))

	// second backup keeps the pristine copy
	require.NoError(t, s.Backup(bootstrap))

	require.NoError(t, s.RestoreAll())
	assert.Equal(t, original, readFile(t, bootstrap))
	assert.Equal(t, "r_ShadersAsyncCompiling=0\n", readFile(t, s.Workspace.PlatformConfig("linux")))
	assert.Empty(t, s.Backups())

	assert.ErrorIs(t, s.Restore(bootstrap), ErrNoBackup)
	assert.NoError(t, s.RestoreAll(), "nothing left to restore")
}

func TestStoreRestoreAttemptsAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.BackupAll())

	// lose the bootstrap backup
	for _, f := range s.Backups() {
		if f == s.Workspace.BootstrapConfig() {
			require.NoError(t, os.Remove(s.backups[f]))
		}
	}

	require.NoError(t, s.ModifyPlatform("r_ShadersAsyncCompiling", "1"))

	err := s.RestoreAll()
	assert.Error(t, err)
	assert.Equal(t, "r_ShadersAsyncCompiling=0\n", readFile(t, s.Workspace.PlatformConfig("linux")))
}

func TestStoreBackupMissingFile(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Backup(filepath.Join(s.Workspace.DevDir, "missing.cfg")))
	assert.Empty(t, s.Backups())
}

func TestStoreSetupBootstrapProjectFirstOnly(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Workspace.DevDir, "bootstrap.cfg", "  sys_game_folder = A\nsys_game_folder=B\n")

	require.NoError(t, s.SetupBootstrapProject("Game"))
	assert.Equal(t, "sys_game_folder=Game\nsys_game_folder=B\n", readFile(t, s.Workspace.BootstrapConfig()))
}
