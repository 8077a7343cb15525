package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform: linux_dedicated
args: ["-NullRenderer"]
start_timeout: 90s
workspace:
  dev_dir: /engine/dev
  build_dir: /engine/dev/Bin64
  project: SamplesProject
console:
  port: 4601
  timeout: 5s
`), 0o644))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "linux_dedicated", cfg.Platform)
	assert.Equal(t, []string{"-NullRenderer"}, cfg.Args)
	assert.Equal(t, time.Second*90, cfg.StartTimeout)
	assert.Equal(t, "/engine/dev", cfg.Workspace.DevDir)
	assert.Equal(t, "SamplesProject", cfg.Workspace.Project)
	assert.Equal(t, "artifacts", cfg.Workspace.ArtifactsDir, "default kept")
	assert.Equal(t, 4601, cfg.Console.Port)
	assert.Equal(t, "127.0.0.1", cfg.Console.Host)
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, time.Second*5, cfg.Console.Timeout)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("ENGINETEST_WORKSPACE_PROJECT", "FromEnv")
	t.Setenv("ENGINETEST_CONSOLE_PORT", "4700")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err, "no config file is fine")

	assert.Equal(t, "FromEnv", cfg.Workspace.Project)
	assert.Equal(t, 4700, cfg.Console.Port)
	assert.Equal(t, Defaults().Addr, cfg.Addr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLaunchArgs(t *testing.T) {
	c := Config{Args: []string{"-NullRenderer"}}

	assert.Equal(t, []string{"-NullRenderer"}, c.launchArgs(""))
	assert.Equal(t, []string{"-NullRenderer", "+map", "Town"}, c.launchArgs("Town"))
	assert.Equal(t, []string{"-NullRenderer"}, c.Args, "configured args untouched")
}
